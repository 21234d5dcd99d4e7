// Package store persists videos, extracted frames, detections, bird profiles,
// representative images and the processing job queue in SQLite.
//
// The Store wraps a single sqlx connection with WAL journaling, foreign keys
// and a busy timeout, and retries statements that hit SQLITE_BUSY. Multi-row
// invariants (linking a detection, founding a profile, merging profiles,
// switching the primary image) run inside one transaction so readers never
// observe a half-updated profile.
//
// Schema changes bump schemaVersion in schema.go; an older database is
// rejected with ErrSchemaMismatch rather than migrated.
package store
