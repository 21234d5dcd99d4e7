package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const jobColumns = "id, video_id, job_type, status, progress, error_message, started_at, completed_at, created_at"

type jobRow struct {
	ID           int64          `db:"id"`
	VideoID      int64          `db:"video_id"`
	Type         string         `db:"job_type"`
	Status       string         `db:"status"`
	Progress     int            `db:"progress"`
	ErrorMessage sql.NullString `db:"error_message"`
	StartedAt    sql.NullString `db:"started_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
	CreatedAt    string         `db:"created_at"`
}

func (r jobRow) toJob() *Job {
	return &Job{
		ID:           r.ID,
		VideoID:      r.VideoID,
		Type:         JobType(r.Type),
		Status:       JobStatus(r.Status),
		Progress:     r.Progress,
		ErrorMessage: r.ErrorMessage.String,
		StartedAt:    parseNullTime(r.StartedAt),
		CompletedAt:  parseNullTime(r.CompletedAt),
		CreatedAt:    parseTime(r.CreatedAt),
	}
}

// EnqueueJob inserts a pending job for videoID.
func (s *Store) EnqueueJob(ctx context.Context, videoID int64, jobType JobType) (*Job, error) {
	res, err := s.execWithRetry(ctx,
		`INSERT INTO processing_jobs (video_id, job_type, status, progress, created_at) VALUES (?, ?, ?, 0, ?)`,
		videoID, jobType, JobPending, nowString(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier, returning nil when missing.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ensureContext(ctx), &row, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toJob(), nil
}

// NextPendingJob returns the oldest pending job, optionally restricted to
// the given types, or nil when the queue is empty.
func (s *Store) NextPendingJob(ctx context.Context, types ...JobType) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE status = ?`
	args := []any{JobPending}
	if len(types) > 0 {
		query += ` AND job_type IN (` + makePlaceholders(len(types)) + `)`
		for _, jt := range types {
			args = append(args, jt)
		}
	}
	query += ` ORDER BY created_at, id LIMIT 1`

	var row jobRow
	err := s.db.GetContext(ensureContext(ctx), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return row.toJob(), nil
}

// StartJob moves a pending job to active.
func (s *Store) StartJob(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs SET status = ?, started_at = ?, progress = 0 WHERE id = ? AND status = ?`,
		JobActive, nowString(), id, JobPending,
	)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	return requireAffected(res, "pending job", id)
}

// UpdateJobProgress records progress clamped to 0..100.
func (s *Store) UpdateJobProgress(ctx context.Context, id int64, progress int) error {
	progress = max(0, min(100, progress))
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE processing_jobs SET progress = ? WHERE id = ?`, progress, id,
	); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// CompleteJob marks a job completed at 100%.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs SET status = ?, progress = 100, error_message = NULL, completed_at = ? WHERE id = ?`,
		JobCompleted, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireAffected(res, "job", id)
}

// FailJob marks a job failed with message.
func (s *Store) FailJob(ctx context.Context, id int64, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		JobFailed, nullableString(message), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return requireAffected(res, "job", id)
}

// RetryJob resets a failed job to pending, clearing error, timestamps and progress.
func (s *Store) RetryJob(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs
         SET status = ?, progress = 0, error_message = NULL, started_at = NULL, completed_at = NULL
         WHERE id = ? AND status = ?`,
		JobPending, id, JobFailed,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return requireAffected(res, "failed job", id)
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	VideoID  int64
	Statuses []JobStatus
	Limit    int
}

// ListJobs returns jobs in creation order.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE 1 = 1`
	var args []any
	if filter.VideoID > 0 {
		query += ` AND video_id = ?`
		args = append(args, filter.VideoID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(filter.Statuses)) + `)`
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs, nil
}

// DeletePendingJobs removes a video's jobs that have not started.
func (s *Store) DeletePendingJobs(ctx context.Context, videoID int64) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM processing_jobs WHERE video_id = ? AND status = ?`, videoID, JobPending)
	if err != nil {
		return 0, fmt.Errorf("delete pending jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckJobs returns jobs left active by an unclean shutdown to pending.
func (s *Store) ResetStuckJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_jobs SET status = ?, progress = 0, started_at = NULL WHERE status = ?`,
		JobPending, JobActive,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}
