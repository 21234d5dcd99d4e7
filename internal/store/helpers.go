package store

import (
	"database/sql"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteLayout is what CURRENT_TIMESTAMP defaults produce.
const sqliteLayout = "2006-01-02 15:04:05"

func nowString() string { return formatTime(time.Now()) }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// Nullable column arguments: the zero value is stored as NULL.

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(v *time.Time) any {
	if v == nil || v.IsZero() {
		return nil
	}
	return formatTime(*v)
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// parseTime accepts both layouts and returns the zero time for anything else.
func parseTime(raw string) time.Time {
	t, _ := parseTimeOK(raw)
	return t
}

func parseTimeOK(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, sqliteLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, ok := parseTimeOK(v.String)
	if !ok {
		return nil
	}
	return &t
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

// makePlaceholders returns "?,?,?" for count bind parameters.
func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
