package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderflow-io/pipeline/pkg/events"
	"github.com/orderflow-io/pipeline/pkg/obs"
)

// DLQ escalation reasons, carried in the x-error-reason header.
const (
	ReasonInvalidEnvelope = "invalid_envelope"
	ReasonMaxRetries      = "max_retries_exceeded"
)

// Processor handles one decoded order-created event. A returned error is
// retry-eligible; nil acknowledges the delivery.
type Processor interface {
	Process(ctx context.Context, correlationID, orderID uuid.UUID) error
}

// dlqPublisher is the slice of *amqp.Channel the consumer needs to
// escalate a delivery to the DLQ.
type dlqPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer subscribes to the order-created main queue with a prefetch of
// one: deliveries are handled strictly one at a time, and every delivery
// resolves to exactly one ack or one reject.
type Consumer struct {
	url       string
	exchange  string
	processor Processor
	metrics   *Metrics

	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan *amqp.Error
}

func NewConsumer(url, exchange string, processor Processor, metrics *Metrics) *Consumer {
	if exchange == "" {
		exchange = events.DefaultExchange
	}
	return &Consumer{
		url:       url,
		exchange:  exchange,
		processor: processor,
		metrics:   metrics,
	}
}

// Start connects to the broker, declares the topology and begins consuming
// the main queue. It returns once the delivery loop is running; the loop
// stops when ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, c.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	// Prefetch 1: one unacknowledged delivery in flight per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(events.QueueOrderCreated, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("consume %s: %w", events.QueueOrderCreated, err)
	}

	c.conn, c.channel = conn, ch
	c.closed = conn.NotifyClose(make(chan *amqp.Error, 1))

	go c.loop(ctx, ch, deliveries)

	obs.Info(ctx, "consumer started",
		"exchange", c.exchange,
		"queue", events.QueueOrderCreated,
		"retry_queue", events.QueueOrderCreatedRetry,
		"dlq_queue", events.QueueOrderCreatedDLQ,
		"max_retries", MaxRetries,
		"retry_delay_ms", RetryDelay.Milliseconds(),
	)
	return nil
}

// NotifyClose reports the connection closing after a successful Start.
func (c *Consumer) NotifyClose() <-chan *amqp.Error {
	return c.closed
}

// Close releases the broker resources. Teardown errors are swallowed.
func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Consumer) loop(ctx context.Context, ch dlqPublisher, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				obs.Warn(ctx, "delivery channel closed")
				return
			}
			c.handle(ctx, ch, d)
		}
	}
}

// handle resolves one delivery to exactly one terminal action: an ack
// (success, or an escalation whose DLQ copy was published) or a
// reject-without-requeue (transient failure or a failed DLQ publish,
// routed to the retry queue by the broker).
func (c *Consumer) handle(ctx context.Context, ch dlqPublisher, d amqp.Delivery) {
	tracer := obs.Tracer("github.com/orderflow-io/pipeline/internal/broker")
	ctx, span := tracer.Start(ctx, "consume "+events.RoutingKeyOrderCreated)
	defer span.End()

	done := obs.StartTimer()

	envelope, err := decodeEnvelope(d.Body)
	if err != nil {
		obs.Warn(ctx, "invalid envelope",
			"delivery_tag", d.DeliveryTag,
			"redelivered", d.Redelivered,
			"error", err.Error(),
		)
		c.deadLetter(ctx, ch, d, ReasonInvalidEnvelope, done)
		return
	}

	ctx = obs.WithCorrelation(ctx, envelope.CorrelationID.String(), envelope.Data.OrderID.String())
	ctx = obs.WithEvent(ctx, envelope.EventID.String(), envelope.EventType)

	attempts := retryCount(d)

	obs.Info(ctx, "received OrderCreated",
		"attempts", attempts,
		"max_retries", MaxRetries,
		"delivery_tag", d.DeliveryTag,
		"redelivered", d.Redelivered,
	)

	if err := c.processor.Process(ctx, envelope.CorrelationID, envelope.Data.OrderID); err != nil {
		obs.Error(ctx, "failed processing OrderCreated", err,
			"attempts", attempts,
			"max_retries", MaxRetries,
			"delivery_tag", d.DeliveryTag,
		)

		if attempts >= MaxRetries {
			c.deadLetter(ctx, ch, d, ReasonMaxRetries, done)
			return
		}

		// Reject without requeue: the main queue dead-letters the message
		// into the retry queue, whose TTL sends it back after RetryDelay.
		if err := d.Reject(false); err != nil {
			obs.Error(ctx, "reject failed", err, "delivery_tag", d.DeliveryTag)
		}
		c.metrics.observe(OutcomeRetried, float64(done().Milliseconds()))
		return
	}

	c.ack(ctx, d)
	c.metrics.observe(OutcomeAcked, float64(done().Milliseconds()))
	obs.Info(ctx, "processed OrderCreated")
}

func (c *Consumer) ack(ctx context.Context, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		obs.Error(ctx, "ack failed", err, "delivery_tag", d.DeliveryTag)
	}
}

// deadLetter escalates the delivery to the DLQ. The original is acked only
// after the DLQ copy is published; when that publish fails the delivery is
// rejected instead, so the retry topology redelivers it and the escalation
// runs again rather than losing the message.
func (c *Consumer) deadLetter(ctx context.Context, ch dlqPublisher, d amqp.Delivery, reason string, done func() time.Duration) {
	if err := c.publishToDLQ(ctx, ch, d, reason); err != nil {
		if err := d.Reject(false); err != nil {
			obs.Error(ctx, "reject failed", err, "delivery_tag", d.DeliveryTag)
		}
		c.metrics.observe(OutcomeRetried, float64(done().Milliseconds()))
		return
	}
	c.ack(ctx, d)
	c.metrics.observe(OutcomeDeadLettered, float64(done().Milliseconds()))
}

// publishToDLQ forwards the raw body to the DLQ with headers recording the
// escalation reason and the message's original source, for diagnosis.
func (c *Consumer) publishToDLQ(ctx context.Context, ch dlqPublisher, d amqp.Delivery, reason string) error {
	err := ch.PublishWithContext(ctx, c.exchange, events.RoutingKeyOrderCreatedDLQ, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"x-error-reason":         reason,
			"x-original-exchange":    d.Exchange,
			"x-original-routing-key": d.RoutingKey,
		},
		Body: d.Body,
	})
	if err != nil {
		obs.Error(ctx, "DLQ publish failed", err, "reason", reason)
		return err
	}

	obs.Warn(ctx, "message sent to DLQ",
		"reason", reason,
		"exchange", c.exchange,
		"routing_key", events.RoutingKeyOrderCreatedDLQ,
	)
	return nil
}

func decodeEnvelope(body []byte) (events.Envelope[events.OrderCreatedV1], error) {
	envelope, err := events.UnmarshalEnvelope[events.OrderCreatedV1](body)
	if err != nil {
		return envelope, err
	}
	if result := events.ValidateEnvelope(envelope); !result.Valid {
		return envelope, fmt.Errorf("envelope validation failed: %v", result.Errors)
	}
	if envelope.Data.OrderID == uuid.Nil {
		return envelope, fmt.Errorf("envelope validation failed: data.orderId is required")
	}
	return envelope, nil
}

// retryCount sums the dead-letter counts the broker has recorded for this
// message across all x-death records. Missing or malformed metadata counts
// as zero attempts.
func retryCount(d amqp.Delivery) int {
	raw, ok := d.Headers["x-death"]
	if !ok {
		return 0
	}

	records, ok := raw.([]interface{})
	if !ok {
		return 0
	}

	total := 0
	for _, record := range records {
		var entry amqp.Table
		switch v := record.(type) {
		case amqp.Table:
			entry = v
		case map[string]interface{}:
			entry = amqp.Table(v)
		default:
			continue
		}
		if count, ok := entry["count"].(int64); ok {
			total += int(count)
		}
	}
	return total
}
