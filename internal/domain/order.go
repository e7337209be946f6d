// Package domain holds the order aggregate and its guarded lifecycle.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the order lifecycle state: Pending -> Processing -> {Completed | Failed}.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Error marks a business-rule violation, as opposed to an infrastructure
// fault. The pipeline treats it as fatal-to-this-order, not retryable.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func domainErrorf(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// OrderItem is an immutable order line. Construct through NewOrderItem so
// invalid lines never enter an order.
type OrderItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice float64
}

func NewOrderItem(sku, name string, quantity int, unitPrice float64) (OrderItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return OrderItem{}, domainErrorf("item SKU is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return OrderItem{}, domainErrorf("item name is required")
	}
	if quantity <= 0 {
		return OrderItem{}, domainErrorf("item quantity must be greater than zero")
	}
	if unitPrice <= 0 {
		return OrderItem{}, domainErrorf("item unit price must be greater than zero")
	}
	return OrderItem{SKU: sku, Name: name, Quantity: quantity, UnitPrice: unitPrice}, nil
}

func (i OrderItem) LineTotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// Order is the aggregate the processor advances. Status transitions are
// guarded; callers never mutate status directly.
type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time

	status Status
	items  []OrderItem
}

func NewOrder(userID uuid.UUID, currency string) (*Order, error) {
	if userID == uuid.Nil {
		return nil, domainErrorf("userId is required")
	}
	normalized, err := normalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  normalized,
		CreatedAt: now,
		UpdatedAt: now,
		status:    StatusPending,
	}, nil
}

// Rehydrate rebuilds an order from persisted state without re-running
// creation validation. Used by the storage layer only.
func Rehydrate(id, userID uuid.UUID, currency string, status Status, items []OrderItem, createdAt, updatedAt time.Time) *Order {
	return &Order{
		ID:        id,
		UserID:    userID,
		Currency:  currency,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		status:    status,
		items:     items,
	}
}

func (o *Order) Status() Status {
	return o.status
}

func (o *Order) Items() []OrderItem {
	out := make([]OrderItem, len(o.items))
	copy(out, o.items)
	return out
}

func (o *Order) TotalAmount() float64 {
	var total float64
	for _, item := range o.items {
		total += item.LineTotal()
	}
	return total
}

// AddItem appends a line to the order. Items are only mutable while the
// order is Pending.
func (o *Order) AddItem(item OrderItem) error {
	if o.status != StatusPending {
		return domainErrorf("items can only be added while the order is Pending")
	}
	o.items = append(o.items, item)
	o.touch()
	return nil
}

func (o *Order) MarkProcessing() error {
	if o.status != StatusPending {
		return domainErrorf("only Pending orders can be marked as Processing")
	}
	o.status = StatusProcessing
	o.touch()
	return nil
}

func (o *Order) MarkCompleted() error {
	if o.status != StatusProcessing {
		return domainErrorf("only Processing orders can be marked as Completed")
	}
	if len(o.items) == 0 {
		return domainErrorf("cannot complete an order with zero items")
	}
	o.status = StatusCompleted
	o.touch()
	return nil
}

// MarkFailed is the compensating terminal transition. It is legal from any
// state except Completed, so a half-processed order always ends auditable.
func (o *Order) MarkFailed() error {
	if o.status == StatusCompleted {
		return domainErrorf("completed orders cannot be marked as Failed")
	}
	o.status = StatusFailed
	o.touch()
	return nil
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD", nil
	}
	if len(currency) != 3 {
		return "", domainErrorf("currency must be a 3-letter code (e.g., USD)")
	}
	return currency, nil
}
