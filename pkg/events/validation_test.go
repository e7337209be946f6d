package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvelope(t *testing.T) {
	valid := NewEnvelope(uuid.New(), TypeOrderCreatedV1, OrderCreatedV1{OrderID: uuid.New()})
	result := ValidateEnvelope(valid)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateEnvelopeZeroValue(t *testing.T) {
	// The zero envelope is what a JSON "null" body decodes to.
	var env Envelope[OrderCreatedV1]
	result := ValidateEnvelope(env)

	require.False(t, result.Valid)

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["eventId"])
	assert.True(t, fields["eventType"])
	assert.True(t, fields["occurredAtUtc"])
}

func TestValidateEnvelopeMissingType(t *testing.T) {
	env := NewEnvelope(uuid.New(), "", OrderCreatedV1{})
	result := ValidateEnvelope(env)

	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "eventType", result.Errors[0].Field)
	assert.EqualError(t, result.Errors[0], "eventType: eventType is required")
}

func TestPayloadValidation(t *testing.T) {
	created := &OrderCreatedV1{
		OrderID:     uuid.New(),
		UserID:      uuid.New(),
		Currency:    "USD",
		TotalAmount: 10,
	}
	assert.NoError(t, created.Validate())

	created.Currency = "USDX"
	assert.Error(t, created.Validate())

	failed := &OrderFailedV1{OrderID: uuid.New(), UserID: uuid.New()}
	assert.Error(t, failed.Validate(), "reason is required")

	failed.Reason = "persistence failure"
	assert.NoError(t, failed.Validate())
}
