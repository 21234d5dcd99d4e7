package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"birdwatcher/internal/config"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/stage"
	"birdwatcher/internal/store"
)

// Manager coordinates job processing using registered handlers.
type Manager struct {
	cfg          *config.Config
	store        *store.Store
	logger       *slog.Logger
	metrics      *metrics.PipelineMetrics
	pollInterval time.Duration
	retryDelay   time.Duration

	handlers map[store.JobType]stage.Handler
	order    []store.JobType

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	lastErr   error
	lastJob   *store.Job
	processed int
	failed    int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithMetrics records job outcomes and durations on m.
func WithMetrics(m *metrics.PipelineMetrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        st,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		pollInterval: cfg.PollInterval(),
		retryDelay:   cfg.ErrorRetryInterval(),
		handlers:     make(map[store.JobType]stage.Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register binds handler to jobType. Registering the same type twice replaces
// the earlier handler. Register must be called before Start.
func (m *Manager) Register(jobType store.JobType, handler stage.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[jobType]; !exists {
		m.order = append(m.order, jobType)
	}
	m.handlers[jobType] = handler
}

func (m *Manager) handlerFor(jobType store.JobType) (stage.Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handler, ok := m.handlers[jobType]
	return handler, ok && handler != nil
}
