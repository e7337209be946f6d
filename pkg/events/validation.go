package events

import (
	"github.com/google/uuid"
)

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationResult contains validation results and errors.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateEnvelope checks the envelope's required identity fields. A body
// that decodes to JSON null, or to an envelope missing its event id, type
// or timestamp, is structurally unusable and must never be retried.
func ValidateEnvelope[T any](envelope Envelope[T]) ValidationResult {
	result := ValidationResult{Valid: true}

	if envelope.EventID == uuid.Nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:   "eventId",
			Message: "eventId is required",
		})
	}

	if envelope.EventType == "" {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:   "eventType",
			Message: "eventType is required",
		})
	}

	if envelope.OccurredAtUtc.IsZero() {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:   "occurredAtUtc",
			Message: "occurredAtUtc is required",
		})
	}

	return result
}
