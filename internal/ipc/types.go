package ipc

import "time"

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// HandlerHealth describes readiness of a job handler.
type HandlerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// JobSummary is the wire form of the most recently processed job.
type JobSummary struct {
	ID           int64  `json:"id"`
	VideoID      int64  `json:"video_id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CacheStats reports vision response cache occupancy.
type CacheStats struct {
	Entries    int           `json:"entries"`
	MaxEntries int           `json:"max_entries"`
	Hits       uint64        `json:"hits"`
	Misses     uint64        `json:"misses"`
	TTL        time.Duration `json:"ttl"`
	TokensUsed int           `json:"tokens_used"`
}

// StatusResponse represents combined daemon/workflow status information.
type StatusResponse struct {
	Running        bool            `json:"running"`
	PID            int             `json:"pid"`
	JobStats       map[string]int  `json:"job_stats"`
	Processed      int             `json:"processed"`
	Failed         int             `json:"failed"`
	LastError      string          `json:"last_error"`
	LastJob        *JobSummary     `json:"last_job"`
	LockPath       string          `json:"lock_path"`
	DatabasePath   string          `json:"database_path"`
	WatchDir       string          `json:"watch_dir"`
	WatcherEnabled bool            `json:"watcher_enabled"`
	MetricsAddr    string          `json:"metrics_addr"`
	HandlerHealth  []HandlerHealth `json:"handler_health"`
	Cache          *CacheStats     `json:"cache,omitempty"`
}

// CacheStatsRequest fetches vision cache statistics.
type CacheStatsRequest struct{}

// CacheStatsResponse wraps vision cache statistics.
type CacheStatsResponse struct {
	Stats CacheStats `json:"stats"`
}

// ClearCacheRequest empties the vision cache.
type ClearCacheRequest struct{}

// ClearCacheResponse reports how many cached responses were dropped.
type ClearCacheResponse struct {
	Cleared int `json:"cleared"`
}
