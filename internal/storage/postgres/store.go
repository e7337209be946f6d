// Package postgres persists orders and the audit trail in PostgreSQL
// through a shared pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow-io/pipeline/internal/domain"
	"github.com/orderflow-io/pipeline/internal/processor"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         UUID PRIMARY KEY,
	user_id    UUID NOT NULL,
	currency   TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	order_id   UUID NOT NULL REFERENCES orders (id),
	position   INT NOT NULL,
	sku        TEXT NOT NULL,
	name       TEXT NOT NULL,
	quantity   INT NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS processing_log (
	id              BIGSERIAL PRIMARY KEY,
	correlation_id  UUID NOT NULL,
	order_id        UUID NOT NULL,
	step            TEXT NOT NULL,
	message         TEXT NOT NULL,
	level           TEXT NOT NULL,
	occurred_at_utc TIMESTAMPTZ NOT NULL,
	data            JSONB,
	exception       TEXT
);

CREATE TABLE IF NOT EXISTS event_history (
	id              BIGSERIAL PRIMARY KEY,
	correlation_id  UUID NOT NULL,
	event_id        UUID NOT NULL,
	event_type      TEXT NOT NULL,
	occurred_at_utc TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_log_order ON processing_log (order_id);
CREATE INDEX IF NOT EXISTS idx_event_history_correlation ON event_history (correlation_id);
`

// Store implements the processor's OrderRepository and UnitOfWork over a
// pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the worker's tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetByID loads the order and its items. A missing order returns
// (nil, nil) so the caller can treat it as a no-op rather than a fault.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var (
		userID               uuid.UUID
		currency, status     string
		createdAt, updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, currency, status, created_at, updated_at FROM orders WHERE id = $1`,
		id,
	).Scan(&userID, &currency, &status, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select order %s: %w", id, err)
	}

	items, err := s.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}

	return domain.Rehydrate(id, userID, currency, domain.Status(status), items, createdAt, updatedAt), nil
}

func (s *Store) loadItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sku, name, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY position`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items for order %s: %w", orderID, err)
	}
	return items, nil
}

// Update persists the order's current status. Items are immutable after
// creation, so only the mutable columns are written.
func (s *Store) Update(ctx context.Context, order *domain.Order) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		order.ID, string(order.Status()), order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order %s: no rows affected", order.ID)
	}
	return nil
}

// SaveChanges completes the unit of work. Update applies its write
// eagerly, so there is nothing left to flush.
func (s *Store) SaveChanges(ctx context.Context) error {
	return ctx.Err()
}

// ProcessingLog appends audit rows to the processing_log table.
type ProcessingLog struct {
	pool *pgxpool.Pool
}

func NewProcessingLog(pool *pgxpool.Pool) *ProcessingLog {
	return &ProcessingLog{pool: pool}
}

func (l *ProcessingLog) Write(ctx context.Context, entry processor.ProcessingLogEntry) error {
	data, err := marshalJSONB(entry.Data)
	if err != nil {
		return fmt.Errorf("encode log data: %w", err)
	}

	var exception *string
	if entry.Exception != "" {
		exception = &entry.Exception
	}

	_, err = l.pool.Exec(ctx,
		`INSERT INTO processing_log (correlation_id, order_id, step, message, level, occurred_at_utc, data, exception)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.CorrelationID, entry.OrderID, entry.Step, entry.Message, entry.Level, entry.OccurredAtUtc, data, exception,
	)
	if err != nil {
		return fmt.Errorf("insert processing log: %w", err)
	}
	return nil
}

// EventHistory appends dispatched envelopes to the event_history table.
type EventHistory struct {
	pool *pgxpool.Pool
}

func NewEventHistory(pool *pgxpool.Pool) *EventHistory {
	return &EventHistory{pool: pool}
}

func (h *EventHistory) Append(ctx context.Context, entry processor.EventHistoryEntry) error {
	payload, err := marshalJSONB(entry.Data)
	if err != nil {
		return fmt.Errorf("encode history payload: %w", err)
	}

	_, err = h.pool.Exec(ctx,
		`INSERT INTO event_history (correlation_id, event_id, event_type, occurred_at_utc, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.CorrelationID, entry.EventID, entry.EventType, entry.OccurredAtUtc, payload,
	)
	if err != nil {
		return fmt.Errorf("insert event history: %w", err)
	}
	return nil
}

func marshalJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
