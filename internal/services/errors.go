package services

import (
	"errors"
	"fmt"
	"strings"
)

// Failure markers. Wrap attaches one so callers can classify with errors.Is
// without parsing messages.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
	ErrIntegrity     = errors.New("integrity violation")
)

// CancelledMessage is persisted on videos and jobs stopped by the user.
const CancelledMessage = "Processing cancelled by user"

// tags is checked in order; cancellation wins over anything it wraps.
var tags = []struct {
	marker error
	tag    string
}{
	{ErrCancelled, "cancelled"},
	{ErrValidation, "validation"},
	{ErrConfiguration, "configuration"},
	{ErrNotFound, "not_found"},
	{ErrTimeout, "timeout"},
	{ErrExternalTool, "external_tool"},
	{ErrIntegrity, "integrity"},
}

// Wrap returns "<marker>: stage: operation: message: err". Blank parts are
// skipped and a nil marker means transient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	detail := joinNonEmpty(stage, operation, message)
	if detail == "" {
		detail = "service failure"
	}
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// Tag classifies err for log fields and metric labels. Unmarked errors are
// transient.
func Tag(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range tags {
		if errors.Is(err, t.marker) {
			return t.tag
		}
	}
	return "transient"
}

// FailureMessage renders the text persisted on a failed job or video.
func FailureMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return CancelledMessage
	default:
		return err.Error()
	}
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ": ")
}
