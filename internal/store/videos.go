package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const videoColumns = "id, filename, filepath, source, duration_seconds, frame_count, status, error_message, recorded_at, recorded_at_source, created_at, processed_at"

type videoRow struct {
	ID               int64          `db:"id"`
	Filename         string         `db:"filename"`
	Filepath         string         `db:"filepath"`
	Source           string         `db:"source"`
	DurationSeconds  sql.NullInt64  `db:"duration_seconds"`
	FrameCount       sql.NullInt64  `db:"frame_count"`
	Status           string         `db:"status"`
	ErrorMessage     sql.NullString `db:"error_message"`
	RecordedAt       sql.NullString `db:"recorded_at"`
	RecordedAtSource sql.NullString `db:"recorded_at_source"`
	CreatedAt        string         `db:"created_at"`
	ProcessedAt      sql.NullString `db:"processed_at"`
}

func (r videoRow) toVideo() *Video {
	return &Video{
		ID:               r.ID,
		Filename:         r.Filename,
		Filepath:         r.Filepath,
		Source:           VideoSource(r.Source),
		DurationSeconds:  int(r.DurationSeconds.Int64),
		FrameCount:       int(r.FrameCount.Int64),
		Status:           VideoStatus(r.Status),
		ErrorMessage:     r.ErrorMessage.String,
		RecordedAt:       parseNullTime(r.RecordedAt),
		RecordedAtSource: RecordedAtSource(r.RecordedAtSource.String),
		CreatedAt:        parseTime(r.CreatedAt),
		ProcessedAt:      parseNullTime(r.ProcessedAt),
	}
}

// NewVideo describes a video being ingested.
type NewVideo struct {
	Filename string
	Filepath string
	Source   VideoSource
}

// CreateVideo inserts a pending video row.
func (s *Store) CreateVideo(ctx context.Context, input NewVideo) (*Video, error) {
	if strings.TrimSpace(input.Filepath) == "" {
		return nil, errors.New("video filepath is required")
	}
	if input.Source == "" {
		input.Source = SourceUpload
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO videos (filename, filepath, source, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		input.Filename, input.Filepath, input.Source, VideoPending, nowString(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetVideo(ctx, id)
}

// GetVideo fetches a video by identifier, returning nil when it does not exist.
func (s *Store) GetVideo(ctx context.Context, id int64) (*Video, error) {
	var row videoRow
	err := s.db.GetContext(ensureContext(ctx), &row, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return row.toVideo(), nil
}

// FindVideoByPath returns the video stored at filepath, or nil.
func (s *Store) FindVideoByPath(ctx context.Context, filepath string) (*Video, error) {
	var row videoRow
	err := s.db.GetContext(ensureContext(ctx), &row, `SELECT `+videoColumns+` FROM videos WHERE filepath = ?`, filepath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find video by path: %w", err)
	}
	return row.toVideo(), nil
}

// ListVideos returns videos filtered by status (or all videos), newest first.
func (s *Store) ListVideos(ctx context.Context, statuses ...VideoStatus) ([]*Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var rows []videoRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	videos := make([]*Video, 0, len(rows))
	for _, row := range rows {
		videos = append(videos, row.toVideo())
	}
	return videos, nil
}

// UpdateVideoStatus moves a video to status. Terminal statuses stamp
// processed_at; pending clears it along with the error message.
func (s *Store) UpdateVideoStatus(ctx context.Context, id int64, status VideoStatus, errorMessage string) error {
	var processedAt any
	switch status {
	case VideoCompleted, VideoFailed:
		processedAt = nowString()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE videos SET status = ?, error_message = ?, processed_at = ? WHERE id = ?`,
		status, nullableString(errorMessage), processedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update video status: %w", err)
	}
	return requireAffected(res, "video", id)
}

// VideoMetadataUpdate carries the probe results written after frame extraction.
type VideoMetadataUpdate struct {
	DurationSeconds  int
	FrameCount       int
	RecordedAt       *time.Time
	RecordedAtSource RecordedAtSource
}

// UpdateVideoMetadata records probe results and the extracted frame count.
func (s *Store) UpdateVideoMetadata(ctx context.Context, id int64, update VideoMetadataUpdate) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE videos SET duration_seconds = ?, frame_count = ?, recorded_at = ?, recorded_at_source = ? WHERE id = ?`,
		update.DurationSeconds, update.FrameCount, nullableTime(update.RecordedAt),
		nullableString(string(update.RecordedAtSource)), id,
	)
	if err != nil {
		return fmt.Errorf("update video metadata: %w", err)
	}
	return requireAffected(res, "video", id)
}

// DeleteVideo removes a video. Frames, detections, jobs and metrics cascade;
// profile visit counts are decremented for linked detections and profiles
// left without detections are removed.
func (s *Store) DeleteVideo(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := unlinkVideoDetections(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete video: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		deleted = affected > 0
		return nil
	})
	return deleted, err
}

// ResetVideoForReprocess clears jobs, metrics and unmatched detections for a
// video and returns it to pending. Videos with detections already linked to a
// profile are rejected so visit counts stay consistent.
func (s *Store) ResetVideoForReprocess(ctx context.Context, id int64, keepFrames bool) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var matched int
		if err := tx.GetContext(ctx, &matched, `SELECT COUNT(1) FROM detections WHERE video_id = ? AND is_matched = 1`, id); err != nil {
			return fmt.Errorf("count matched detections: %w", err)
		}
		if matched > 0 {
			return fmt.Errorf("%w: video %d has %d detections linked to bird profiles", ErrHasMatches, id, matched)
		}
		statements := []string{
			`DELETE FROM processing_metrics WHERE video_id = ?`,
			`DELETE FROM processing_jobs WHERE video_id = ?`,
			`DELETE FROM detections WHERE video_id = ?`,
		}
		if !keepFrames {
			statements = append(statements, `DELETE FROM frames WHERE video_id = ?`)
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("reset video: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE videos SET status = ?, error_message = NULL, processed_at = NULL WHERE id = ?`,
			VideoPending, id,
		)
		if err != nil {
			return fmt.Errorf("reset video status: %w", err)
		}
		return requireAffected(res, "video", id)
	})
}
