// Package processor advances an order through its fulfillment lifecycle and
// emits the outcome event, compensating to Failed when anything breaks
// mid-workflow.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/pipeline/internal/domain"
	"github.com/orderflow-io/pipeline/pkg/events"
	"github.com/orderflow-io/pipeline/pkg/obs"
)

// DefaultFulfillmentDelay stands in for real fulfillment work.
const DefaultFulfillmentDelay = 2 * time.Second

// OrderRepository loads and persists orders. GetByID returns (nil, nil)
// when the order does not exist.
type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
}

// UnitOfWork flushes pending persistence work.
type UnitOfWork interface {
	SaveChanges(ctx context.Context) error
}

// ProcessingLogWriter appends one audit row per pipeline step.
type ProcessingLogWriter interface {
	Write(ctx context.Context, entry ProcessingLogEntry) error
}

// EventHistoryWriter records every envelope dispatched down the pipeline.
type EventHistoryWriter interface {
	Append(ctx context.Context, entry EventHistoryEntry) error
}

// EventPublisher hands a serialized envelope to the broker. The routing
// key is resolved from the event type tag.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, body []byte) error
}

// Processor is the workflow engine for one OrderCreated event.
//
// Audit and history writes are best-effort: their failures are logged and
// swallowed. Only two error paths bubble to the consumer's retry logic:
// the order lookup and the failure-outcome publish.
type Processor struct {
	orders    OrderRepository
	uow       UnitOfWork
	log       ProcessingLogWriter
	history   EventHistoryWriter
	publisher EventPublisher

	// Fulfillment runs between the Processing and Completed transitions.
	// The default sleeps for DefaultFulfillmentDelay; real fulfillment
	// work plugs in here.
	Fulfillment func(ctx context.Context, order *domain.Order) error
}

func New(orders OrderRepository, uow UnitOfWork, log ProcessingLogWriter, history EventHistoryWriter, publisher EventPublisher) *Processor {
	return &Processor{
		orders:      orders,
		uow:         uow,
		log:         log,
		history:     history,
		publisher:   publisher,
		Fulfillment: defaultFulfillment,
	}
}

func defaultFulfillment(ctx context.Context, _ *domain.Order) error {
	timer := time.NewTimer(DefaultFulfillmentDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Process advances one order. A missing order is logged and dropped, not
// retried. Fulfillment-phase failures compensate to Failed and are
// absorbed; a repository lookup failure, or a failure publishing the
// OrderFailed outcome, returns an error and becomes retry-eligible.
func (p *Processor) Process(ctx context.Context, correlationID, orderID uuid.UUID) error {
	ctx = obs.WithCorrelation(ctx, correlationID.String(), orderID.String())

	p.writeLog(ctx, ProcessingLogEntry{
		CorrelationID: correlationID,
		OrderID:       orderID,
		Step:          StepStart,
		Message:       "Starting order processing",
		Level:         LevelInformation,
		OccurredAtUtc: time.Now().UTC(),
	})

	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		p.writeLog(ctx, ProcessingLogEntry{
			CorrelationID: correlationID,
			OrderID:       orderID,
			Step:          StepNotFound,
			Message:       "Order not found in database",
			Level:         LevelWarning,
			OccurredAtUtc: time.Now().UTC(),
		})
		return nil
	}

	if err := p.fulfill(ctx, correlationID, order); err != nil {
		return p.compensate(ctx, correlationID, order, err)
	}
	return nil
}

func (p *Processor) fulfill(ctx context.Context, correlationID uuid.UUID, order *domain.Order) error {
	if err := order.MarkProcessing(); err != nil {
		return err
	}
	if err := p.save(ctx, order); err != nil {
		return err
	}

	p.writeLog(ctx, ProcessingLogEntry{
		CorrelationID: correlationID,
		OrderID:       order.ID,
		Step:          StepProcessing,
		Message:       "Order marked as Processing",
		Level:         LevelInformation,
		OccurredAtUtc: time.Now().UTC(),
		Data: map[string]any{
			"status":      order.Status(),
			"totalAmount": order.TotalAmount(),
		},
	})

	if err := p.Fulfillment(ctx, order); err != nil {
		return err
	}

	if err := order.MarkCompleted(); err != nil {
		return err
	}
	if err := p.save(ctx, order); err != nil {
		return err
	}

	completed := events.NewEnvelope(correlationID, events.TypeOrderCompletedV1, events.OrderCompletedV1{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount(),
	})
	p.appendHistory(ctx, completed.CorrelationID, completed.EventID, completed.EventType, completed.OccurredAtUtc, completed)

	body, err := events.MarshalEnvelope(completed)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", completed.EventType, err)
	}
	if err := p.publisher.Publish(ctx, completed.EventType, body); err != nil {
		return fmt.Errorf("publish %s: %w", completed.EventType, err)
	}

	p.writeLog(ctx, ProcessingLogEntry{
		CorrelationID: correlationID,
		OrderID:       order.ID,
		Step:          StepCompleted,
		Message:       "Order completed successfully",
		Level:         LevelInformation,
		OccurredAtUtc: time.Now().UTC(),
	})
	return nil
}

// compensate drives the order to a terminal Failed state and emits the
// failure outcome. Its own persistence errors are swallowed; the order
// must never be left unprocessable because marking it Failed also failed.
func (p *Processor) compensate(ctx context.Context, correlationID uuid.UUID, order *domain.Order, cause error) error {
	if order.Status() != domain.StatusCompleted {
		if err := order.MarkFailed(); err == nil {
			if err := p.save(ctx, order); err != nil {
				obs.Warn(ctx, "failed to persist Failed status", "error", err.Error())
			}
		}
	}

	failed := events.NewEnvelope(correlationID, events.TypeOrderFailedV1, events.OrderFailedV1{
		OrderID: order.ID,
		UserID:  order.UserID,
		Reason:  cause.Error(),
	})
	p.appendHistory(ctx, failed.CorrelationID, failed.EventID, failed.EventType, failed.OccurredAtUtc, failed)

	body, err := events.MarshalEnvelope(failed)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", failed.EventType, err)
	}
	if err := p.publisher.Publish(ctx, failed.EventType, body); err != nil {
		return fmt.Errorf("publish %s: %w", failed.EventType, err)
	}

	p.writeLog(ctx, ProcessingLogEntry{
		CorrelationID: correlationID,
		OrderID:       order.ID,
		Step:          StepFailed,
		Message:       "Order processing failed",
		Level:         LevelError,
		OccurredAtUtc: time.Now().UTC(),
		Exception:     cause.Error(),
	})
	return nil
}

func (p *Processor) save(ctx context.Context, order *domain.Order) error {
	if err := p.orders.Update(ctx, order); err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if err := p.uow.SaveChanges(ctx); err != nil {
		return fmt.Errorf("save changes: %w", err)
	}
	return nil
}

// writeLog appends an audit row, swallowing the sink's own failure.
func (p *Processor) writeLog(ctx context.Context, entry ProcessingLogEntry) {
	if err := p.log.Write(ctx, entry); err != nil {
		obs.Warn(ctx, "processing log write failed", "step", entry.Step, "error", err.Error())
	}
}

// appendHistory records a dispatched envelope, swallowing the sink's own failure.
func (p *Processor) appendHistory(ctx context.Context, correlationID, eventID uuid.UUID, eventType string, occurredAt time.Time, data any) {
	entry := EventHistoryEntry{
		CorrelationID: correlationID,
		EventID:       eventID,
		EventType:     eventType,
		OccurredAtUtc: occurredAt,
		Data:          data,
	}
	if err := p.history.Append(ctx, entry); err != nil {
		obs.Warn(ctx, "event history append failed", "event_type", eventType, "error", err.Error())
	}
}
