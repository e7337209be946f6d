// Package broker owns everything that touches the AMQP broker: topology
// declaration, publishing, the consuming loop with its retry and
// dead-letter handling, and the supervisor that keeps the consumer alive.
package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderflow-io/pipeline/pkg/events"
)

// Publisher publishes pipeline events to the orders exchange.
//
// The broker connection is opened lazily on first publish and shared by
// every caller: the first caller dials and declares the exchange while
// concurrent callers block on the same initializer, and a fast read path
// short-circuits once initialized. Close tears everything down
// best-effort.
type Publisher struct {
	url      string
	exchange string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewPublisher(url, exchange string) *Publisher {
	if exchange == "" {
		exchange = events.DefaultExchange
	}
	return &Publisher{url: url, exchange: exchange}
}

// Publish serializes the message as a persistent delivery and routes it by
// its event type tag. A cancelled context aborts before any broker
// interaction. Broker failures propagate to the caller: retry is the
// caller's or the transport's responsibility.
func (p *Publisher) Publish(ctx context.Context, eventType string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := p.ensureChannel(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, p.exchange, events.ResolveRoutingKey(eventType), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Publisher) ensureChannel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.RLock()
	if p.healthy() {
		ch := p.channel
		p.mu.RUnlock()
		return ch, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have finished initializing while we waited.
	if p.healthy() {
		return p.channel, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Drop stale resources before re-initializing, the connection may
	// still be open when only the channel died.
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	p.conn, p.channel = conn, ch
	return ch, nil
}

// healthy reports whether the cached connection and channel are both still
// usable. A publish error can close the channel while the connection
// survives, so the channel is checked too. Callers hold at least a read
// lock.
func (p *Publisher) healthy() bool {
	return p.conn != nil && !p.conn.IsClosed() &&
		p.channel != nil && !p.channel.IsClosed()
}

// Close releases the broker resources. Teardown errors are swallowed.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
