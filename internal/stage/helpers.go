package stage

import (
	"context"
	"log/slog"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/store"
)

// ProgressReporter persists job progress, clamped to 0..100, without letting
// a bookkeeping failure abort the job.
type ProgressReporter struct {
	store   *store.Store
	jobID   int64
	logger  *slog.Logger
	sampler *logging.ProgressSampler
	last    int
}

// NewProgressReporter returns a reporter for job.
func NewProgressReporter(st *store.Store, job *store.Job, logger *slog.Logger) *ProgressReporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	last := -1
	if job != nil {
		last = job.Progress
	}
	var id int64
	if job != nil {
		id = job.ID
	}
	return &ProgressReporter{
		store:   st,
		jobID:   id,
		logger:  logger,
		sampler: logging.NewProgressSampler(25),
		last:    last,
	}
}

// Report records percent when it differs from the last value written and
// logs each quarter reached.
func (p *ProgressReporter) Report(ctx context.Context, percent int) {
	if p == nil || p.store == nil || p.jobID == 0 {
		return
	}
	percent = Clamp(percent)
	if percent == p.last {
		return
	}
	if err := p.store.UpdateJobProgress(ctx, p.jobID, percent); err != nil {
		p.logger.Warn("job progress update failed",
			logging.Int64(logging.FieldJobID, p.jobID),
			logging.Int(logging.FieldProgressPercent, percent),
			logging.Error(err),
		)
		return
	}
	p.last = percent
	if p.sampler.ShouldLog(percent) {
		p.logger.Info("job progress", logging.Int(logging.FieldProgressPercent, percent))
	}
}

// Fraction reports done/total as a percentage.
func (p *ProgressReporter) Fraction(ctx context.Context, done, total int) {
	if total <= 0 {
		return
	}
	p.Report(ctx, done*100/total)
}

// Clamp bounds percent to 0..100.
func Clamp(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
