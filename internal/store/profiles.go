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

const profileColumns = "id, unique_identifier, species, common_name, primary_gender, confidence_score, first_seen, last_seen, total_visits, representative_image_path, notes, created_at, updated_at"

type profileRow struct {
	ID                      int64           `db:"id"`
	UniqueIdentifier        string          `db:"unique_identifier"`
	Species                 string          `db:"species"`
	CommonName              sql.NullString  `db:"common_name"`
	PrimaryGender           sql.NullString  `db:"primary_gender"`
	ConfidenceScore         sql.NullFloat64 `db:"confidence_score"`
	FirstSeen               string          `db:"first_seen"`
	LastSeen                string          `db:"last_seen"`
	TotalVisits             int             `db:"total_visits"`
	RepresentativeImagePath sql.NullString  `db:"representative_image_path"`
	Notes                   sql.NullString  `db:"notes"`
	CreatedAt               string          `db:"created_at"`
	UpdatedAt               string          `db:"updated_at"`
}

func (r profileRow) toProfile() *BirdProfile {
	return &BirdProfile{
		ID:                      r.ID,
		UniqueIdentifier:        r.UniqueIdentifier,
		Species:                 r.Species,
		CommonName:              r.CommonName.String,
		PrimaryGender:           r.PrimaryGender.String,
		ConfidenceScore:         r.ConfidenceScore.Float64,
		FirstSeen:               parseTime(r.FirstSeen),
		LastSeen:                parseTime(r.LastSeen),
		TotalVisits:             r.TotalVisits,
		RepresentativeImagePath: r.RepresentativeImagePath.String,
		Notes:                   r.Notes.String,
		CreatedAt:               parseTime(r.CreatedAt),
		UpdatedAt:               parseTime(r.UpdatedAt),
	}
}

// NewProfile describes a profile founded by a single detection.
type NewProfile struct {
	Species       string
	CommonName    string
	PrimaryGender string
	// Identifier renders the unique identifier for a species-scoped sequence number.
	Identifier   func(sequence int) string
	DetectionID  int64
	SeenAt       time.Time
	ImagePath    string
	ImageQuality int
}

// CreateProfileFromDetection creates a profile, links the founding detection at
// confidence 100 and records its frame as the primary representative image,
// all in one transaction. The sequence starts at the species' profile count
// plus one and skips identifiers that are already taken.
func (s *Store) CreateProfileFromDetection(ctx context.Context, input NewProfile) (*BirdProfile, error) {
	if strings.TrimSpace(input.Species) == "" {
		return nil, errors.New("profile species is required")
	}
	if input.Identifier == nil {
		return nil, errors.New("profile identifier function is required")
	}
	var profileID int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(1) FROM bird_profiles WHERE species = ?`, input.Species); err != nil {
			return fmt.Errorf("count species profiles: %w", err)
		}
		identifier, err := nextIdentifier(ctx, tx, input.Identifier, count+1)
		if err != nil {
			return err
		}
		now := nowString()
		seen := formatTime(input.SeenAt)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bird_profiles (
                unique_identifier, species, common_name, primary_gender, confidence_score,
                first_seen, last_seen, total_visits, representative_image_path, created_at, updated_at
            ) VALUES (?, ?, ?, ?, 100, ?, ?, 1, ?, ?, ?)`,
			identifier, input.Species, nullableString(input.CommonName), NormalizeGender(input.PrimaryGender),
			seen, seen, nullableString(input.ImagePath), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		if profileID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if err := linkDetection(ctx, tx, input.DetectionID, profileID, 100); err != nil {
			return err
		}
		if input.ImagePath != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO representative_images (bird_profile_id, detection_id, image_path, quality_score, is_primary, created_at)
                 VALUES (?, ?, ?, ?, 1, ?)`,
				profileID, input.DetectionID, input.ImagePath, input.ImageQuality, now,
			); err != nil {
				return fmt.Errorf("insert primary image: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, profileID)
}

func nextIdentifier(ctx context.Context, tx *sqlx.Tx, render func(int) string, start int) (string, error) {
	for sequence := start; ; sequence++ {
		identifier := render(sequence)
		var taken int
		if err := tx.GetContext(ctx, &taken, `SELECT COUNT(1) FROM bird_profiles WHERE unique_identifier = ?`, identifier); err != nil {
			return "", fmt.Errorf("check identifier: %w", err)
		}
		if taken == 0 {
			return identifier, nil
		}
	}
}

// LinkInput describes attaching a detection to an existing profile.
type LinkInput struct {
	DetectionID     int64
	ProfileID       int64
	MatchConfidence float64
	SeenAt          time.Time
	// ImagePath, when set, adds a non-primary representative image.
	ImagePath    string
	ImageQuality int
}

// LinkDetectionToProfile marks a detection matched, increments the profile's
// visit count, advances last_seen and optionally stores a representative image.
func (s *Store) LinkDetectionToProfile(ctx context.Context, input LinkInput) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := linkDetection(ctx, tx, input.DetectionID, input.ProfileID, input.MatchConfidence); err != nil {
			return err
		}
		seen := formatTime(input.SeenAt)
		res, err := tx.ExecContext(ctx,
			`UPDATE bird_profiles
             SET total_visits = total_visits + 1,
                 last_seen = MAX(last_seen, ?),
                 updated_at = ?
             WHERE id = ?`,
			seen, nowString(), input.ProfileID,
		)
		if err != nil {
			return fmt.Errorf("increment visits: %w", err)
		}
		if err := requireAffected(res, "bird profile", input.ProfileID); err != nil {
			return err
		}
		if input.ImagePath == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO representative_images (bird_profile_id, detection_id, image_path, quality_score, is_primary, created_at)
             VALUES (?, ?, ?, ?, 0, ?)`,
			input.ProfileID, input.DetectionID, input.ImagePath, input.ImageQuality, nowString(),
		); err != nil {
			return fmt.Errorf("insert representative image: %w", err)
		}
		return nil
	})
}

func linkDetection(ctx context.Context, tx *sqlx.Tx, detectionID, profileID int64, confidence float64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE detections SET bird_profile_id = ?, is_matched = 1, match_confidence = ? WHERE id = ? AND is_matched = 0`,
		profileID, confidence, detectionID,
	)
	if err != nil {
		return fmt.Errorf("link detection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("detection %d missing or already matched: %w", detectionID, ErrNotFound)
	}
	return nil
}

// GetProfile fetches a profile by identifier, returning nil when missing.
func (s *Store) GetProfile(ctx context.Context, id int64) (*BirdProfile, error) {
	return s.getProfile(ctx, `SELECT `+profileColumns+` FROM bird_profiles WHERE id = ?`, id)
}

// GetProfileByIdentifier fetches a profile by its unique identifier.
func (s *Store) GetProfileByIdentifier(ctx context.Context, identifier string) (*BirdProfile, error) {
	return s.getProfile(ctx, `SELECT `+profileColumns+` FROM bird_profiles WHERE unique_identifier = ?`, identifier)
}

func (s *Store) getProfile(ctx context.Context, query string, arg any) (*BirdProfile, error) {
	var row profileRow
	err := s.db.GetContext(ensureContext(ctx), &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return row.toProfile(), nil
}

// FindSameSpeciesProfiles returns up to limit profiles of species, most
// recently seen first.
func (s *Store) FindSameSpeciesProfiles(ctx context.Context, species string, limit int) ([]*BirdProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM bird_profiles WHERE species = ? ORDER BY last_seen DESC, id DESC`
	args := []any{species}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectProfiles(ctx, query, args...)
}

// ProfileFilter narrows ListProfiles.
type ProfileFilter struct {
	Species string
	Limit   int
	Offset  int
}

// ListProfiles returns profiles ordered by last_seen descending.
func (s *Store) ListProfiles(ctx context.Context, filter ProfileFilter) ([]*BirdProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM bird_profiles`
	var args []any
	if filter.Species != "" {
		query += ` WHERE species = ?`
		args = append(args, filter.Species)
	}
	query += ` ORDER BY last_seen DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	return s.selectProfiles(ctx, query, args...)
}

func (s *Store) selectProfiles(ctx context.Context, query string, args ...any) ([]*BirdProfile, error) {
	var rows []profileRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	profiles := make([]*BirdProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.toProfile())
	}
	return profiles, nil
}

// CountProfilesBySpecies returns how many profiles exist for species.
func (s *Store) CountProfilesBySpecies(ctx context.Context, species string) (int, error) {
	var count int
	if err := s.db.GetContext(ensureContext(ctx), &count, `SELECT COUNT(1) FROM bird_profiles WHERE species = ?`, species); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return count, nil
}

// UniqueSpecies lists the species that have at least one profile.
func (s *Store) UniqueSpecies(ctx context.Context) ([]string, error) {
	var species []string
	if err := s.db.SelectContext(ensureContext(ctx), &species, `SELECT DISTINCT species FROM bird_profiles ORDER BY species`); err != nil {
		return nil, fmt.Errorf("unique species: %w", err)
	}
	return species, nil
}

// UpdateProfileNotes replaces a profile's free-form notes.
func (s *Store) UpdateProfileNotes(ctx context.Context, id int64, notes string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE bird_profiles SET notes = ?, updated_at = ? WHERE id = ?`,
		nullableString(notes), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	return requireAffected(res, "bird profile", id)
}

// DeleteProfile removes a profile; its detections become unmatched.
func (s *Store) DeleteProfile(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE detections SET bird_profile_id = NULL, is_matched = 0, match_confidence = NULL WHERE bird_profile_id = ?`, id,
		); err != nil {
			return fmt.Errorf("unlink detections: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM bird_profiles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete profile: %w", err)
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

// MergeProfiles folds source into target in one transaction: detections are
// reassigned, visits summed, the seen window widened and representative images
// moved across as non-primary. The source profile is deleted.
func (s *Store) MergeProfiles(ctx context.Context, sourceID, targetID int64) error {
	if sourceID == targetID {
		return ErrSameProfile
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var source, target profileRow
		if err := tx.GetContext(ctx, &source, `SELECT `+profileColumns+` FROM bird_profiles WHERE id = ?`, sourceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("bird profile %d: %w", sourceID, ErrNotFound)
			}
			return fmt.Errorf("load source profile: %w", err)
		}
		if err := tx.GetContext(ctx, &target, `SELECT `+profileColumns+` FROM bird_profiles WHERE id = ?`, targetID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("bird profile %d: %w", targetID, ErrNotFound)
			}
			return fmt.Errorf("load target profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE detections SET bird_profile_id = ? WHERE bird_profile_id = ?`, targetID, sourceID,
		); err != nil {
			return fmt.Errorf("reassign detections: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE representative_images SET bird_profile_id = ?, is_primary = 0 WHERE bird_profile_id = ?`, targetID, sourceID,
		); err != nil {
			return fmt.Errorf("move representative images: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bird_profiles
             SET total_visits = total_visits + ?,
                 first_seen = MIN(first_seen, ?),
                 last_seen = MAX(last_seen, ?),
                 updated_at = ?
             WHERE id = ?`,
			source.TotalVisits, source.FirstSeen, source.LastSeen, nowString(), targetID,
		); err != nil {
			return fmt.Errorf("update target profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bird_profiles WHERE id = ?`, sourceID); err != nil {
			return fmt.Errorf("delete source profile: %w", err)
		}
		return nil
	})
}
