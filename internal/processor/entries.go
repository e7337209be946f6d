package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Audit step names, one per pipeline stage.
const (
	StepStart      = "worker.start"
	StepNotFound   = "worker.not_found"
	StepProcessing = "worker.processing"
	StepCompleted  = "worker.completed"
	StepFailed     = "worker.failed"

	LevelInformation = "Information"
	LevelWarning     = "Warning"
	LevelError       = "Error"
)

// ProcessingLogEntry is one row of the append-only audit trail, written
// best-effort at every pipeline step.
type ProcessingLogEntry struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	OrderID       uuid.UUID `json:"orderId"`
	Step          string    `json:"step"`
	Message       string    `json:"message"`
	Level         string    `json:"level"`
	OccurredAtUtc time.Time `json:"occurredAtUtc"`
	Data          any       `json:"data,omitempty"`
	Exception     string    `json:"exception,omitempty"`
}

// EventHistoryEntry records an envelope actually dispatched down the
// pipeline, same best-effort write policy as the processing log.
type EventHistoryEntry struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	EventID       uuid.UUID `json:"eventId"`
	EventType     string    `json:"eventType"`
	OccurredAtUtc time.Time `json:"occurredAtUtc"`
	Data          any       `json:"data"`
}

// MultiEventHistoryWriter fans an entry out to several sinks. Failures are
// joined but, like every history write, never fail the pipeline.
type MultiEventHistoryWriter []EventHistoryWriter

func (m MultiEventHistoryWriter) Append(ctx context.Context, entry EventHistoryEntry) error {
	var errs []error
	for _, w := range m {
		if err := w.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
