package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion changes whenever schema.sql does. There are no in-place
// migrations; an older database must be deleted and rebuilt.
const schemaVersion = 1

// ErrSchemaMismatch reports a database written by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) migrate(ctx context.Context) error {
	var versions []int
	err := s.db.SelectContext(ctx, &versions, "SELECT version FROM schema_version")
	switch {
	case err != nil && isMissingTable(err):
		return s.withTx(ctx, createSchema)
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case len(versions) != 1 || versions[0] != schemaVersion:
		return fmt.Errorf("%w: %s has %v, want %d; delete it to rebuild",
			ErrSchemaMismatch, s.path, versions, schemaVersion)
	}
	return nil
}

func createSchema(tx *sqlx.Tx) error {
	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func isMissingTable(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}
