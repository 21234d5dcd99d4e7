package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VisionMetrics tracks calls to the vision model.
type VisionMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	ThrottleWait    prometheus.Histogram
}

// NewVisionMetrics creates and registers vision collectors.
func NewVisionMetrics(registry *prometheus.Registry) (*VisionMetrics, error) {
	m := &VisionMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_vision_requests_total",
				Help: "Vision model requests partitioned by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "birdwatcher_vision_request_duration_seconds",
				Help:    "Wall time of vision requests including retries.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"operation"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_vision_retries_total",
				Help: "Retried vision requests.",
			},
			[]string{"operation"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_vision_cache_hits_total",
				Help: "Vision responses served from the cache.",
			},
			[]string{"operation"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_vision_cache_misses_total",
				Help: "Vision lookups that required a model call.",
			},
			[]string{"operation"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "birdwatcher_vision_tokens_total",
				Help: "Tokens reported by the model.",
			},
			[]string{"operation"},
		),
		ThrottleWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "birdwatcher_vision_throttle_wait_seconds",
				Help:    "Time spent waiting for request pacing and token budget.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register vision metrics: %w", err)
	}
	return m, nil
}

// RecordRequest counts a finished request and its duration.
func (m *VisionMetrics) RecordRequest(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry counts one retry of operation.
func (m *VisionMetrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordCache counts a cache lookup.
func (m *VisionMetrics) RecordCache(operation string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(operation).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(operation).Inc()
}

// AddTokens adds model-reported token usage.
func (m *VisionMetrics) AddTokens(operation string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.TokensTotal.WithLabelValues(operation).Add(float64(tokens))
}

// ObserveThrottleWait records time spent blocked by the pacer.
func (m *VisionMetrics) ObserveThrottleWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWait.Observe(wait.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *VisionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RequestsTotal.Describe(ch)
	m.RequestDuration.Describe(ch)
	m.RetriesTotal.Describe(ch)
	m.CacheHits.Describe(ch)
	m.CacheMisses.Describe(ch)
	m.TokensTotal.Describe(ch)
	ch <- m.ThrottleWait.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *VisionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RequestsTotal.Collect(ch)
	m.RequestDuration.Collect(ch)
	m.RetriesTotal.Collect(ch)
	m.CacheHits.Collect(ch)
	m.CacheMisses.Collect(ch)
	m.TokensTotal.Collect(ch)
	m.ThrottleWait.Collect(ch)
}
