package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type tags understood by the pipeline. The tag is both the JSON
// discriminator and the input to routing-key resolution.
const (
	TypeOrderCreatedV1   = "OrderCreated.v1"
	TypeOrderCompletedV1 = "OrderCompleted.v1"
	TypeOrderFailedV1    = "OrderFailed.v1"
)

// Envelope is the standard message envelope used for all pipeline events.
//
// EventID is minted fresh per envelope and never reused. CorrelationID is
// carried across the whole asynchronous lifetime of the originating request.
// OccurredAtUtc is serialized in RFC3339 UTC by the standard library.
type Envelope[T any] struct {
	EventID       uuid.UUID `json:"eventId"`
	CorrelationID uuid.UUID `json:"correlationId"`
	OccurredAtUtc time.Time `json:"occurredAtUtc"`
	EventType     string    `json:"eventType"`
	Data          T         `json:"data"`
}

// NewEnvelope creates an envelope for the given event type and payload.
// A zero correlation id is replaced with a fresh one, never left empty.
func NewEnvelope[T any](correlationID uuid.UUID, eventType string, data T) Envelope[T] {
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	return Envelope[T]{
		EventID:       uuid.New(),
		CorrelationID: correlationID,
		OccurredAtUtc: time.Now().UTC(),
		EventType:     eventType,
		Data:          data,
	}
}

// MarshalEnvelope serializes the envelope to JSON.
func MarshalEnvelope[T any](e Envelope[T]) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope deserializes the envelope from JSON into the provided payload type.
func UnmarshalEnvelope[T any](data []byte) (Envelope[T], error) {
	var e Envelope[T]
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	return e, nil
}
