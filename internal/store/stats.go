package store

import (
	"context"
	"fmt"
)

// Stats returns table counts for status displays.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{
		VideosByStatus: make(map[VideoStatus]int),
		JobsByStatus:   make(map[JobStatus]int),
	}

	var grouped []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &grouped, `SELECT status, COUNT(1) AS n FROM videos GROUP BY status`); err != nil {
		return Stats{}, fmt.Errorf("video stats: %w", err)
	}
	for _, g := range grouped {
		stats.VideosByStatus[VideoStatus(g.Status)] = g.Count
	}

	grouped = grouped[:0]
	if err := s.db.SelectContext(ctx, &grouped, `SELECT status, COUNT(1) AS n FROM processing_jobs GROUP BY status`); err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	for _, g := range grouped {
		stats.JobsByStatus[JobStatus(g.Status)] = g.Count
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(1) FROM bird_profiles`, &stats.Profiles},
		{`SELECT COUNT(DISTINCT species) FROM bird_profiles`, &stats.Species},
		{`SELECT COUNT(1) FROM detections`, &stats.Detections},
		{`SELECT COUNT(1) FROM detections WHERE is_matched = 0`, &stats.UnmatchedPending},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dest, c.query); err != nil {
			return Stats{}, fmt.Errorf("count stats: %w", err)
		}
	}
	return stats, nil
}
