package workflow

import (
	"context"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/stage"
	"birdwatcher/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running       bool                    `json:"running"`
	LastError     string                  `json:"last_error,omitempty"`
	LastJob       *store.Job              `json:"last_job,omitempty"`
	Processed     int                     `json:"processed"`
	Failed        int                     `json:"failed"`
	JobStats      map[store.JobStatus]int `json:"job_stats"`
	HandlerHealth map[string]stage.Health `json:"handler_health"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Processed: m.processed,
		Failed:    m.failed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	handlers := make(map[store.JobType]stage.Handler, len(m.handlers))
	for jobType, handler := range m.handlers {
		handlers[jobType] = handler
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	} else {
		summary.JobStats = stats.JobsByStatus
	}

	summary.HandlerHealth = make(map[string]stage.Health, len(handlers))
	for jobType, handler := range handlers {
		if handler == nil {
			continue
		}
		summary.HandlerHealth[string(jobType)] = handler.HealthCheck(ctx)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *store.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(job *store.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *job
	m.lastJob = &copy
	if err != nil {
		m.failed++
		m.lastErr = err
		return
	}
	m.processed++
}
