package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const imageColumns = "id, bird_profile_id, detection_id, image_path, quality_score, is_primary, created_at"

type imageRow struct {
	ID            int64         `db:"id"`
	BirdProfileID int64         `db:"bird_profile_id"`
	DetectionID   sql.NullInt64 `db:"detection_id"`
	ImagePath     string        `db:"image_path"`
	QualityScore  sql.NullInt64 `db:"quality_score"`
	IsPrimary     bool          `db:"is_primary"`
	CreatedAt     string        `db:"created_at"`
}

func (r imageRow) toImage() *RepresentativeImage {
	return &RepresentativeImage{
		ID:            r.ID,
		BirdProfileID: r.BirdProfileID,
		DetectionID:   nullInt64Ptr(r.DetectionID),
		ImagePath:     r.ImagePath,
		QualityScore:  int(r.QualityScore.Int64),
		IsPrimary:     r.IsPrimary,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

// ListRepresentativeImages returns a profile's images, primary first then by quality.
func (s *Store) ListRepresentativeImages(ctx context.Context, profileID int64) ([]*RepresentativeImage, error) {
	var rows []imageRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows,
		`SELECT `+imageColumns+` FROM representative_images WHERE bird_profile_id = ?
         ORDER BY is_primary DESC, quality_score DESC, id`, profileID,
	); err != nil {
		return nil, fmt.Errorf("list representative images: %w", err)
	}
	images := make([]*RepresentativeImage, 0, len(rows))
	for _, row := range rows {
		images = append(images, row.toImage())
	}
	return images, nil
}

// GetRepresentativeImage fetches an image by identifier, returning nil when missing.
func (s *Store) GetRepresentativeImage(ctx context.Context, id int64) (*RepresentativeImage, error) {
	var row imageRow
	err := s.db.GetContext(ensureContext(ctx), &row, `SELECT `+imageColumns+` FROM representative_images WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get representative image: %w", err)
	}
	return row.toImage(), nil
}

// SetPrimaryImage makes imageID the only primary image of profileID and copies
// its path onto the profile.
func (s *Store) SetPrimaryImage(ctx context.Context, profileID, imageID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var path string
		err := tx.GetContext(ctx, &path,
			`SELECT image_path FROM representative_images WHERE id = ? AND bird_profile_id = ?`, imageID, profileID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("representative image %d of profile %d: %w", imageID, profileID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load representative image: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE representative_images SET is_primary = CASE WHEN id = ? THEN 1 ELSE 0 END WHERE bird_profile_id = ?`,
			imageID, profileID,
		); err != nil {
			return fmt.Errorf("set primary flag: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bird_profiles SET representative_image_path = ?, updated_at = ? WHERE id = ?`,
			path, nowString(), profileID,
		); err != nil {
			return fmt.Errorf("update profile image: %w", err)
		}
		return nil
	})
}

// MoveRepresentativeImage points an image row at newPath. The profile's
// representative path follows when it referenced the old location.
func (s *Store) MoveRepresentativeImage(ctx context.Context, imageID int64, newPath string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row imageRow
		err := tx.GetContext(ctx, &row, `SELECT `+imageColumns+` FROM representative_images WHERE id = ?`, imageID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("representative image %d: %w", imageID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load representative image: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE representative_images SET image_path = ? WHERE id = ?`, newPath, imageID,
		); err != nil {
			return fmt.Errorf("update image path: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bird_profiles SET representative_image_path = ?, updated_at = ?
             WHERE id = ? AND representative_image_path = ?`,
			newPath, nowString(), row.BirdProfileID, row.ImagePath,
		); err != nil {
			return fmt.Errorf("update profile image: %w", err)
		}
		return nil
	})
}
