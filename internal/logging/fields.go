package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldVideoID is the standardized structured logging key for video identifiers.
	FieldVideoID = "video_id"
	// FieldJobID is the standardized structured logging key for processing job identifiers.
	FieldJobID = "job_id"
	// FieldJobType is the standardized structured logging key for job types.
	FieldJobType = "job_type"
	// FieldProfileID is the standardized structured logging key for bird profile identifiers.
	FieldProfileID = "profile_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType labels what happened so logs can be filtered without parsing messages.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorTag carries services.Tag for failed operations.
	FieldErrorTag = "error_tag"
	// FieldDecisionType names the choice recorded by a decision log.
	FieldDecisionType = "decision_type"
	// FieldProgressPercent is the standardized key for job progress.
	FieldProgressPercent = "progress_percent"

	fieldError = "error"
)
