package logging

import (
	"log/slog"

	"birdwatcher/internal/services"
)

const defaultHint = "check logs for details"

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact, so an operator sees cause, consequence and next step.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, defaultHint),
		String(FieldImpact, "operation completed with warnings"),
	)
	logger.Warn(msg, toArgs(withErrorTag(attrs))...)
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint. An error attribute also yields its taxonomy tag.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, defaultHint),
	)
	logger.Error(msg, toArgs(withErrorTag(attrs))...)
}

// withDefaults appends each default whose key the caller did not set.
func withDefaults(attrs []Attr, defaults ...Attr) []Attr {
	for _, def := range defaults {
		if !hasKey(attrs, def.Key) {
			attrs = append(attrs, def)
		}
	}
	return attrs
}

func withErrorTag(attrs []Attr) []Attr {
	if hasKey(attrs, FieldErrorTag) {
		return attrs
	}
	for _, attr := range attrs {
		if attr.Key != fieldError {
			continue
		}
		if err, ok := attr.Value.Any().(error); ok {
			if tag := services.Tag(err); tag != "" {
				return append(attrs, String(FieldErrorTag, tag))
			}
		}
	}
	return attrs
}

func hasKey(attrs []Attr, key string) bool {
	for _, attr := range attrs {
		if attr.Key == key {
			return true
		}
	}
	return false
}
