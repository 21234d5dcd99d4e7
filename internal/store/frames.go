package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type frameRow struct {
	ID        int64   `db:"id"`
	VideoID   int64   `db:"video_id"`
	Number    int     `db:"frame_number"`
	Timestamp float64 `db:"timestamp_seconds"`
	Path      string  `db:"frame_path"`
}

// ReplaceFrames swaps the frame manifest for a video in one transaction.
func (s *Store) ReplaceFrames(ctx context.Context, videoID int64, frames []Frame) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM frames WHERE video_id = ?`, videoID); err != nil {
			return fmt.Errorf("clear frames: %w", err)
		}
		stmt, err := tx.PreparexContext(ctx,
			`INSERT INTO frames (video_id, frame_number, timestamp_seconds, frame_path) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare frame insert: %w", err)
		}
		defer stmt.Close()
		for _, frame := range frames {
			if _, err := stmt.ExecContext(ctx, videoID, frame.Number, frame.Timestamp, frame.Path); err != nil {
				return fmt.Errorf("insert frame %d: %w", frame.Number, err)
			}
		}
		return nil
	})
}

// ListFrames returns the frame manifest for a video ordered by frame number.
func (s *Store) ListFrames(ctx context.Context, videoID int64) ([]Frame, error) {
	var rows []frameRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows,
		`SELECT id, video_id, frame_number, timestamp_seconds, frame_path FROM frames WHERE video_id = ? ORDER BY frame_number`,
		videoID,
	); err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	frames := make([]Frame, 0, len(rows))
	for _, row := range rows {
		frames = append(frames, Frame(row))
	}
	return frames, nil
}

// DeleteFrames removes the frame manifest for a video.
func (s *Store) DeleteFrames(ctx context.Context, videoID int64) error {
	if err := s.execWithoutResultRetry(ctx, `DELETE FROM frames WHERE video_id = ?`, videoID); err != nil {
		return fmt.Errorf("delete frames: %w", err)
	}
	return nil
}
