package workflow

import (
	"context"
	"errors"
	"time"

	"birdwatcher/internal/logging"
)

var (
	errAlreadyRunning = errors.New("workflow already running")
	errNoHandlers     = errors.New("workflow handlers not registered")
)

// Start requeues jobs a previous run left in processing and launches the
// job loop. The loop stops when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.startable(); err != nil {
		return err
	}
	if reset, err := m.store.ResetStuckJobs(ctx); err != nil {
		return err
	} else if reset > 0 {
		logging.WarnWithContext(m.logger, "reset jobs left active by previous run", "stuck_jobs_reset",
			logging.Int64("count", reset),
			logging.String(logging.FieldImpact, "jobs will run again from the start"),
			logging.String(logging.FieldErrorHint, "the daemon likely exited mid-job"),
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running, m.cancel, m.loopDone = true, cancel, done
	go func() {
		defer close(done)
		m.loop(loopCtx)
	}()
	return nil
}

func (m *Manager) startable() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.running:
		return errAlreadyRunning
	case len(m.order) == 0:
		return errNoHandlers
	}
	return nil
}

// Stop cancels the job loop and blocks until the current job returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.loopDone
	m.running, m.cancel, m.loopDone = false, nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) loop(ctx context.Context) {
	m.logger.Info("job loop started", logging.Duration("poll_interval", m.pollInterval))
	defer m.logger.Info("job loop stopped")
	for ctx.Err() == nil {
		delay := m.pollInterval
		if err := m.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logging.ErrorWithContext(m.logger, "failed to fetch next job", "queue_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			delay = m.retryDelay
		}
		sleep(ctx, delay)
	}
}

// RunOnce claims and executes at most one pending job. Handler failures are
// recorded on the job; only store failures are returned.
func (m *Manager) RunOnce(ctx context.Context) error {
	m.mu.RLock()
	types := append(m.order[:0:0], m.order...)
	m.mu.RUnlock()

	job, err := m.store.NextPendingJob(ctx, types...)
	if err != nil || job == nil {
		return err
	}
	return m.processJob(ctx, job)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
