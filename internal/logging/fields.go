package logging

// Standard field names for structured logging across the module.
// Use these constants instead of raw strings.
const (
	// Annotations and targets
	FieldAnnotationID = "annotation_id"
	FieldTarget       = "target"
	FieldAdvice       = "advice"
	FieldFutureID     = "future_id"
	FieldLock         = "lock"

	// Counts and timing
	FieldCount      = "count"
	FieldAttempt    = "attempt"
	FieldRemaining  = "remaining"
	FieldDurationMS = "duration_ms"
	FieldDelay      = "delay"

	// Components
	FieldComponent = "component"
	FieldWorker    = "worker"
)
