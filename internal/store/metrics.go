package store

import (
	"context"
	"database/sql"
	"fmt"
)

type metricsRow struct {
	ID                         int64         `db:"id"`
	VideoID                    int64         `db:"video_id"`
	JobID                      sql.NullInt64 `db:"job_id"`
	TotalFrames                int           `db:"total_frames"`
	SkippedLowQualityDuplicate int           `db:"skipped_low_quality_duplicate"`
	SkippedNoBirds             int           `db:"skipped_no_birds"`
	CreatedAt                  string        `db:"created_at"`
}

// InsertMetrics appends one batch summary row.
func (s *Store) InsertMetrics(ctx context.Context, m Metrics) error {
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO processing_metrics (video_id, job_id, total_frames, skipped_low_quality_duplicate, skipped_no_birds, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		m.VideoID, nullableInt64(m.JobID), m.TotalFrames, m.SkippedLowQualityDuplicate, m.SkippedNoBirds, nowString(),
	); err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

// ListMetrics returns the batch rows for a video in insertion order.
func (s *Store) ListMetrics(ctx context.Context, videoID int64) ([]Metrics, error) {
	var rows []metricsRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows,
		`SELECT id, video_id, job_id, total_frames, skipped_low_quality_duplicate, skipped_no_birds, created_at
         FROM processing_metrics WHERE video_id = ? ORDER BY id`, videoID,
	); err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	out := make([]Metrics, 0, len(rows))
	for _, row := range rows {
		out = append(out, Metrics{
			ID:                         row.ID,
			VideoID:                    row.VideoID,
			JobID:                      nullInt64Ptr(row.JobID),
			TotalFrames:                row.TotalFrames,
			SkippedLowQualityDuplicate: row.SkippedLowQualityDuplicate,
			SkippedNoBirds:             row.SkippedNoBirds,
			CreatedAt:                  parseTime(row.CreatedAt),
		})
	}
	return out, nil
}

// SummarizeMetrics sums a video's batch rows.
func (s *Store) SummarizeMetrics(ctx context.Context, videoID int64) (MetricsSummary, error) {
	var row struct {
		Batches    int `db:"batches"`
		Total      int `db:"total"`
		LowQuality int `db:"low_quality"`
		NoBirds    int `db:"no_birds"`
	}
	if err := s.db.GetContext(ensureContext(ctx), &row,
		`SELECT COUNT(1) AS batches,
                COALESCE(SUM(total_frames), 0) AS total,
                COALESCE(SUM(skipped_low_quality_duplicate), 0) AS low_quality,
                COALESCE(SUM(skipped_no_birds), 0) AS no_birds
         FROM processing_metrics WHERE video_id = ?`, videoID,
	); err != nil {
		return MetricsSummary{}, fmt.Errorf("summarize metrics: %w", err)
	}
	return MetricsSummary{
		VideoID:                    videoID,
		Batches:                    row.Batches,
		TotalFrames:                row.Total,
		SkippedLowQualityDuplicate: row.LowQuality,
		SkippedNoBirds:             row.NoBirds,
	}, nil
}
