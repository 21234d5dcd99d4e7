package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/services"
	"birdwatcher/internal/store"
)

func (m *Manager) processJob(ctx context.Context, job *store.Job) error {
	handler, ok := m.handlerFor(job.Type)
	if !ok {
		return fmt.Errorf("no handler registered for job type %s", job.Type)
	}

	requestID := uuid.NewString()
	jobCtx := withJobContext(ctx, job, requestID)
	logger := logging.WithContext(jobCtx, m.logger).With(
		logging.String(logging.FieldJobType, string(job.Type)),
		logging.String(logging.FieldCorrelationID, requestID),
	)

	if err := m.store.StartJob(jobCtx, job.ID); err != nil {
		return fmt.Errorf("start job %d: %w", job.ID, err)
	}
	job.Status = store.JobActive
	m.setLastJob(job)

	started := time.Now()
	logger.Info("job started", logging.String(logging.FieldEventType, "job_start"))
	execErr := handler.Execute(jobCtx, job)
	duration := time.Since(started)

	if execErr != nil && errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
		// Shutdown interrupted the handler; the job is reset to pending on next start.
		logger.Info("job interrupted by shutdown", logging.Duration("job_duration", duration))
		return ctx.Err()
	}
	if execErr != nil {
		return m.failJob(ctx, logger, job, execErr, duration)
	}

	if err := m.store.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}
	job.Status = store.JobCompleted
	job.Progress = 100
	m.recordOutcome(job, nil)
	m.metrics.RecordJob(string(job.Type), string(store.JobCompleted), duration)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("job_duration", duration),
	)
	return nil
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *store.Job, execErr error, duration time.Duration) error {
	message := services.FailureMessage(execErr)
	if message == "" {
		message = fmt.Sprintf("%s failed", job.Type)
	}
	logging.ErrorWithContext(logger, "job failed", "job_failure",
		logging.Error(execErr),
		logging.String("error_message", message),
		logging.Duration("job_duration", duration),
	)
	if err := m.store.FailJob(ctx, job.ID, message); err != nil {
		return fmt.Errorf("fail job %d: %w", job.ID, err)
	}
	job.Status = store.JobFailed
	job.ErrorMessage = message
	m.recordOutcome(job, execErr)
	m.metrics.RecordJob(string(job.Type), string(store.JobFailed), duration)
	return nil
}

func withJobContext(ctx context.Context, job *store.Job, requestID string) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithVideoID(ctx, job.VideoID)
	ctx = services.WithStage(ctx, string(job.Type))
	return services.WithRequestID(ctx, requestID)
}
