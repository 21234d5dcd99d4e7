// Package logging builds the slog loggers used by the daemon and CLI.
//
// Console output is a single line per record with the component prefix and
// flattened key=value fields; JSON output uses ts/level/msg keys. Context
// helpers stamp video, job and correlation identifiers onto records, and the
// WarnWithContext/ErrorWithContext helpers guarantee every operator-facing
// problem carries an event type and a hint.
package logging
