package broker

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderflow-io/pipeline/pkg/events"
)

const (
	// MaxRetries bounds redelivery before a message escalates to the DLQ.
	MaxRetries = 5

	// RetryDelay is how long a rejected message parks in the retry queue
	// before the broker dead-letters it back to the main queue.
	RetryDelay = 5 * time.Second
)

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// declareTopology declares the consume-side topology: the DLQ, the
// TTL-delayed retry queue and the main queue, all durable and bound to the
// exchange. Declares are idempotent; running this on every startup is safe.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}

	// Terminal queue: nothing dead-letters out of it.
	if _, err := ch.QueueDeclare(events.QueueOrderCreatedDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", events.QueueOrderCreatedDLQ, err)
	}
	if err := ch.QueueBind(events.QueueOrderCreatedDLQ, events.RoutingKeyOrderCreatedDLQ, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", events.QueueOrderCreatedDLQ, err)
	}

	// Messages sit here only to create delay; the TTL dead-letters them
	// back to the main queue.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": events.RoutingKeyOrderCreated,
		"x-message-ttl":             int32(RetryDelay / time.Millisecond),
	}
	if _, err := ch.QueueDeclare(events.QueueOrderCreatedRetry, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", events.QueueOrderCreatedRetry, err)
	}
	if err := ch.QueueBind(events.QueueOrderCreatedRetry, events.RoutingKeyOrderCreatedRetry, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", events.QueueOrderCreatedRetry, err)
	}

	// Rejected (non-requeued) deliveries are dead-lettered into retry.
	mainArgs := amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": events.RoutingKeyOrderCreatedRetry,
	}
	if _, err := ch.QueueDeclare(events.QueueOrderCreated, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", events.QueueOrderCreated, err)
	}
	if err := ch.QueueBind(events.QueueOrderCreated, events.RoutingKeyOrderCreated, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", events.QueueOrderCreated, err)
	}

	return nil
}
