package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"birdwatcher/internal/config"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
	"birdwatcher/internal/watcher"
	"birdwatcher/internal/workflow"
)

// CacheController is the vision response cache surface used for maintenance.
type CacheController interface {
	ClearCache()
	CacheStats() vision.CacheStats
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	workflow *workflow.Manager
	watcher  *watcher.Watcher
	metrics  *metrics.Metrics
	cache    CacheController

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Option configures optional daemon services.
type Option func(*Daemon)

// WithWatcher runs w alongside the workflow manager.
func WithWatcher(w *watcher.Watcher) Option {
	return func(d *Daemon) { d.watcher = w }
}

// WithMetrics serves m on the configured listen address.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithVisionCache exposes cache maintenance for c.
func WithVisionCache(c CacheController) Option {
	return func(d *Daemon) { d.cache = c }
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Workflow       workflow.StatusSummary
	DatabasePath   string
	LockFilePath   string
	WatchDir       string
	WatcherEnabled bool
	MetricsAddr    string
	Cache          *vision.CacheStats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := LockPath(cfg)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// LockPath returns the single-instance lock file location.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "birdwatcher.lock")
}

// LogPath returns the daemon log file written alongside stdout.
func LogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "birdwatcher.log")
}

// SocketPath returns the IPC socket location.
func SocketPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "birdwatcher.sock")
}

// Start acquires the daemon lock and launches the workflow manager, the
// watch folder and the metrics endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another birdwatcher daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	if d.watcher != nil && d.cfg.Watcher.Enabled {
		group.Go(func() error { return d.watcher.Run(groupCtx) })
	}
	if d.metrics != nil && d.cfg.Metrics.ListenAddr != "" {
		group.Go(func() error { return d.metrics.Serve(groupCtx, d.cfg.Metrics.ListenAddr, d.logger) })
	}
	d.cancel = cancel
	d.group = group
	d.running.Store(true)
	d.logger.Info("birdwatcher daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("watcher", d.watcher != nil && d.cfg.Watcher.Enabled),
		logging.String("metrics_addr", d.cfg.Metrics.ListenAddr),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			d.logger.Warn("background service stopped with error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "daemon_service_failed"),
			)
		}
		d.group = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("birdwatcher daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// ClearCache drops every cached vision response and returns how many were held.
func (d *Daemon) ClearCache() (int, error) {
	if d.cache == nil {
		return 0, errors.New("vision cache unavailable")
	}
	entries := d.cache.CacheStats().Entries
	d.cache.ClearCache()
	d.logger.Info("vision cache cleared", logging.Int("entries", entries))
	return entries, nil
}

// CacheStats reports vision cache occupancy.
func (d *Daemon) CacheStats() (vision.CacheStats, error) {
	if d.cache == nil {
		return vision.CacheStats{}, errors.New("vision cache unavailable")
	}
	return d.cache.CacheStats(), nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Workflow:       d.workflow.Status(ctx),
		DatabasePath:   d.store.Path(),
		LockFilePath:   d.lockPath,
		WatchDir:       d.cfg.Paths.WatchDir,
		WatcherEnabled: d.watcher != nil && d.cfg.Watcher.Enabled,
		MetricsAddr:    d.cfg.Metrics.ListenAddr,
	}
	if d.cache != nil {
		stats := d.cache.CacheStats()
		status.Cache = &stats
	}
	return status
}
