package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/pipeline/pkg/events"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	rejects int

	lastRequeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.lastRequeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejects++
	a.lastRequeue = requeue
	return nil
}

type dlqPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeDLQ struct {
	published []dlqPublish
	err       error
}

func (f *fakeDLQ) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, dlqPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

type stubProcessor struct {
	err   error
	calls int

	correlationID uuid.UUID
	orderID       uuid.UUID
}

func (s *stubProcessor) Process(ctx context.Context, correlationID, orderID uuid.UUID) error {
	s.calls++
	s.correlationID = correlationID
	s.orderID = orderID
	return s.err
}

func delivery(t *testing.T, body []byte, headers amqp.Table) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	ack := &fakeAcknowledger{}
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  7,
		Exchange:     "orders",
		RoutingKey:   events.RoutingKeyOrderCreated,
		Headers:      headers,
		Body:         body,
	}, ack
}

func validBody(t *testing.T, correlationID, orderID uuid.UUID) []byte {
	t.Helper()
	env := events.NewEnvelope(correlationID, events.TypeOrderCreatedV1, events.OrderCreatedV1{
		OrderID:     orderID,
		UserID:      uuid.New(),
		Currency:    "USD",
		TotalAmount: 200,
	})
	body, err := events.MarshalEnvelope(env)
	require.NoError(t, err)
	return body
}

func xDeath(counts ...int64) amqp.Table {
	records := make([]interface{}, 0, len(counts))
	for _, count := range counts {
		records = append(records, amqp.Table{"count": count})
	}
	return amqp.Table{"x-death": records}
}

func TestHandleSuccessAcksOnce(t *testing.T) {
	proc := &stubProcessor{}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{}

	correlationID, orderID := uuid.New(), uuid.New()
	d, ack := delivery(t, validBody(t, correlationID, orderID), nil)

	consumer.handle(context.Background(), dlq, d)

	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, correlationID, proc.correlationID)
	assert.Equal(t, orderID, proc.orderID)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.rejects)
	assert.Empty(t, dlq.published)
}

func TestHandleInvalidJSONGoesToDLQ(t *testing.T) {
	proc := &stubProcessor{}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{}

	body := []byte("{definitely not json")
	d, ack := delivery(t, body, nil)

	consumer.handle(context.Background(), dlq, d)

	assert.Zero(t, proc.calls, "processor must never see a malformed message")
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.rejects)

	require.Len(t, dlq.published, 1)
	assert.Equal(t, events.RoutingKeyOrderCreatedDLQ, dlq.published[0].key)
	assert.Equal(t, body, dlq.published[0].msg.Body)
	assert.Equal(t, ReasonInvalidEnvelope, dlq.published[0].msg.Headers["x-error-reason"])
	assert.Equal(t, "orders", dlq.published[0].msg.Headers["x-original-exchange"])
	assert.Equal(t, events.RoutingKeyOrderCreated, dlq.published[0].msg.Headers["x-original-routing-key"])
}

func TestHandleNullEnvelopeGoesToDLQ(t *testing.T) {
	proc := &stubProcessor{}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{}

	d, ack := delivery(t, []byte("null"), nil)

	consumer.handle(context.Background(), dlq, d)

	assert.Zero(t, proc.calls)
	assert.Equal(t, 1, ack.acks)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, ReasonInvalidEnvelope, dlq.published[0].msg.Headers["x-error-reason"])
}

func TestHandleTransientFailureRejectsWithoutRequeue(t *testing.T) {
	proc := &stubProcessor{err: errors.New("db timeout")}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{}

	d, ack := delivery(t, validBody(t, uuid.New(), uuid.New()), xDeath(2))

	consumer.handle(context.Background(), dlq, d)

	assert.Equal(t, 1, proc.calls)
	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.rejects)
	assert.False(t, ack.lastRequeue, "requeue must be false so dead-lettering kicks in")
	assert.Empty(t, dlq.published)
}

func TestHandleMaxRetriesEscalatesToDLQ(t *testing.T) {
	proc := &stubProcessor{err: errors.New("db timeout")}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{}

	body := validBody(t, uuid.New(), uuid.New())
	d, ack := delivery(t, body, xDeath(3, 2))

	consumer.handle(context.Background(), dlq, d)

	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.rejects)

	require.Len(t, dlq.published, 1)
	assert.Equal(t, ReasonMaxRetries, dlq.published[0].msg.Headers["x-error-reason"])
	assert.Equal(t, body, dlq.published[0].msg.Body)
}

func TestHandleFailureJustBelowBoundStillRetries(t *testing.T) {
	proc := &stubProcessor{err: errors.New("db timeout")}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{}

	d, ack := delivery(t, validBody(t, uuid.New(), uuid.New()), xDeath(4))

	consumer.handle(context.Background(), dlq, d)

	assert.Equal(t, 1, ack.rejects)
	assert.Zero(t, ack.acks)
	assert.Empty(t, dlq.published)
}

func TestHandleDLQPublishFailureKeepsMessageRedeliverable(t *testing.T) {
	proc := &stubProcessor{err: errors.New("db timeout")}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{err: errors.New("channel closed")}

	d, ack := delivery(t, validBody(t, uuid.New(), uuid.New()), xDeath(5))

	consumer.handle(context.Background(), dlq, d)

	assert.Empty(t, dlq.published)
	assert.Zero(t, ack.acks, "a message without a DLQ copy must not be acked")
	assert.Equal(t, 1, ack.rejects)
	assert.False(t, ack.lastRequeue)
}

func TestHandleInvalidEnvelopeDLQFailureKeepsMessageRedeliverable(t *testing.T) {
	proc := &stubProcessor{}
	consumer := NewConsumer("amqp://localhost", "orders", proc, nil)
	dlq := &fakeDLQ{err: errors.New("channel closed")}

	d, ack := delivery(t, []byte("{broken"), nil)

	consumer.handle(context.Background(), dlq, d)

	assert.Zero(t, proc.calls)
	assert.Empty(t, dlq.published)
	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.rejects)
	assert.False(t, ack.lastRequeue)
}

func TestHandleMetricsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	proc := &stubProcessor{}
	consumer := NewConsumer("amqp://localhost", "orders", proc, metrics)
	dlq := &fakeDLQ{}

	d, _ := delivery(t, validBody(t, uuid.New(), uuid.New()), nil)
	consumer.handle(context.Background(), dlq, d)

	bad, _ := delivery(t, []byte("oops"), nil)
	consumer.handle(context.Background(), dlq, bad)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues(OutcomeAcked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues(OutcomeDeadLettered)))
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"no x-death", amqp.Table{"other": "value"}, 0},
		{"single record", xDeath(3), 3},
		{"summed across records", xDeath(3, 2), 5},
		{"malformed value", amqp.Table{"x-death": "not a list"}, 0},
		{"malformed record", amqp.Table{"x-death": []interface{}{"junk", amqp.Table{"count": int64(1)}}}, 1},
		{"count as map entry", amqp.Table{"x-death": []interface{}{map[string]interface{}{"count": int64(2)}}}, 2},
		{"non-integer count", amqp.Table{"x-death": []interface{}{amqp.Table{"count": "many"}}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := amqp.Delivery{Headers: tt.headers}
			assert.Equal(t, tt.want, retryCount(d))
		})
	}
}

func TestDecodeEnvelopeRejectsMissingOrderID(t *testing.T) {
	env := events.NewEnvelope(uuid.New(), events.TypeOrderCreatedV1, events.OrderCreatedV1{})
	body, err := events.MarshalEnvelope(env)
	require.NoError(t, err)

	_, err = decodeEnvelope(body)
	assert.Error(t, err)
}
