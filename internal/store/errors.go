package store

import (
	"database/sql"
	"fmt"

	"birdwatcher/internal/services"
)

var (
	// ErrNotFound indicates the addressed row does not exist.
	ErrNotFound = fmt.Errorf("record %w", services.ErrNotFound)
	// ErrHasMatches rejects resets that would orphan profile visit counts.
	ErrHasMatches = fmt.Errorf("%w: video has matched detections", services.ErrIntegrity)
	// ErrSameProfile rejects merging a profile into itself.
	ErrSameProfile = fmt.Errorf("%w: source and target profile are the same", services.ErrIntegrity)
)

func requireAffected(res sql.Result, entity string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}
