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

const detectionColumns = "id, video_id, bird_profile_id, frame_number, timestamp_in_video, species, gender, confidence_score, frame_path, ai_analysis, is_matched, match_confidence, detected_at, created_at"

type detectionRow struct {
	ID               int64           `db:"id"`
	VideoID          int64           `db:"video_id"`
	BirdProfileID    sql.NullInt64   `db:"bird_profile_id"`
	FrameNumber      int             `db:"frame_number"`
	TimestampInVideo float64         `db:"timestamp_in_video"`
	Species          string          `db:"species"`
	Gender           string          `db:"gender"`
	ConfidenceScore  float64         `db:"confidence_score"`
	FramePath        string          `db:"frame_path"`
	AIAnalysis       sql.NullString  `db:"ai_analysis"`
	IsMatched        bool            `db:"is_matched"`
	MatchConfidence  sql.NullFloat64 `db:"match_confidence"`
	DetectedAt       string          `db:"detected_at"`
	CreatedAt        string          `db:"created_at"`
}

func (r detectionRow) toDetection() *Detection {
	return &Detection{
		ID:               r.ID,
		VideoID:          r.VideoID,
		BirdProfileID:    nullInt64Ptr(r.BirdProfileID),
		FrameNumber:      r.FrameNumber,
		TimestampInVideo: r.TimestampInVideo,
		Species:          r.Species,
		Gender:           r.Gender,
		ConfidenceScore:  r.ConfidenceScore,
		FramePath:        r.FramePath,
		AIAnalysis:       r.AIAnalysis.String,
		IsMatched:        r.IsMatched,
		MatchConfidence:  nullFloatPtr(r.MatchConfidence),
		DetectedAt:       parseTime(r.DetectedAt),
		CreatedAt:        parseTime(r.CreatedAt),
	}
}

// NewDetection describes a detection produced by the identification stage.
type NewDetection struct {
	VideoID          int64
	FrameNumber      int
	TimestampInVideo float64
	Species          string
	Gender           string
	ConfidenceScore  float64
	FramePath        string
	AIAnalysis       string
	DetectedAt       time.Time
}

// CreateDetection inserts an unmatched detection.
func (s *Store) CreateDetection(ctx context.Context, input NewDetection) (*Detection, error) {
	if strings.TrimSpace(input.Species) == "" {
		return nil, errors.New("detection species is required")
	}
	if input.DetectedAt.IsZero() {
		return nil, errors.New("detection detected_at is required")
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO detections (
            video_id, frame_number, timestamp_in_video, species, gender, confidence_score,
            frame_path, ai_analysis, is_matched, detected_at, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		input.VideoID,
		input.FrameNumber,
		input.TimestampInVideo,
		input.Species,
		NormalizeGender(input.Gender),
		input.ConfidenceScore,
		input.FramePath,
		nullableString(input.AIAnalysis),
		formatTime(input.DetectedAt),
		nowString(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert detection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetDetection(ctx, id)
}

// GetDetection fetches a detection by identifier, returning nil when missing.
func (s *Store) GetDetection(ctx context.Context, id int64) (*Detection, error) {
	var row detectionRow
	err := s.db.GetContext(ensureContext(ctx), &row, `SELECT `+detectionColumns+` FROM detections WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return row.toDetection(), nil
}

// ListDetectionsByVideo returns a video's detections in frame order.
func (s *Store) ListDetectionsByVideo(ctx context.Context, videoID int64) ([]*Detection, error) {
	return s.selectDetections(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE video_id = ? ORDER BY frame_number, id`, videoID)
}

// ListDetectionsByProfile returns a profile's detections, newest first.
func (s *Store) ListDetectionsByProfile(ctx context.Context, profileID int64, limit int) ([]*Detection, error) {
	query := `SELECT ` + detectionColumns + ` FROM detections WHERE bird_profile_id = ? ORDER BY detected_at DESC, id DESC`
	args := []any{profileID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectDetections(ctx, query, args...)
}

// FindUnmatchedDetections returns detections for a video that are not yet
// linked to a profile, in frame order.
func (s *Store) FindUnmatchedDetections(ctx context.Context, videoID int64) ([]*Detection, error) {
	return s.selectDetections(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE video_id = ? AND is_matched = 0 ORDER BY frame_number, id`, videoID)
}

// CountDetections returns how many detections belong to a video.
func (s *Store) CountDetections(ctx context.Context, videoID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ensureContext(ctx), &count, `SELECT COUNT(1) FROM detections WHERE video_id = ?`, videoID); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return count, nil
}

// CountDetectionsForProfile returns how many detections reference a profile.
func (s *Store) CountDetectionsForProfile(ctx context.Context, profileID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ensureContext(ctx), &count, `SELECT COUNT(1) FROM detections WHERE bird_profile_id = ?`, profileID); err != nil {
		return 0, fmt.Errorf("count profile detections: %w", err)
	}
	return count, nil
}

func (s *Store) selectDetections(ctx context.Context, query string, args ...any) ([]*Detection, error) {
	var rows []detectionRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select detections: %w", err)
	}
	detections := make([]*Detection, 0, len(rows))
	for _, row := range rows {
		detections = append(detections, row.toDetection())
	}
	return detections, nil
}

// unlinkVideoDetections gives back the visits a video's detections
// contributed to their profiles before the detections disappear.
func unlinkVideoDetections(ctx context.Context, tx *sqlx.Tx, videoID int64) error {
	var counts []struct {
		ProfileID int64 `db:"bird_profile_id"`
		Count     int   `db:"n"`
	}
	if err := tx.SelectContext(ctx, &counts,
		`SELECT bird_profile_id, COUNT(1) AS n FROM detections
         WHERE video_id = ? AND bird_profile_id IS NOT NULL GROUP BY bird_profile_id`, videoID,
	); err != nil {
		return fmt.Errorf("count linked detections: %w", err)
	}
	for _, entry := range counts {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM bird_profiles WHERE id = ? AND total_visits <= ?`, entry.ProfileID, entry.Count,
		); err != nil {
			return fmt.Errorf("delete emptied profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bird_profiles SET total_visits = total_visits - ?, updated_at = ? WHERE id = ?`,
			entry.Count, nowString(), entry.ProfileID,
		); err != nil {
			return fmt.Errorf("decrement profile visits: %w", err)
		}
	}
	return nil
}
