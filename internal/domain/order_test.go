package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustItem(t *testing.T, sku, name string, qty int, price float64) OrderItem {
	t.Helper()
	item, err := NewOrderItem(sku, name, qty, price)
	require.NoError(t, err)
	return item
}

func pendingOrder(t *testing.T) *Order {
	t.Helper()
	order, err := NewOrder(uuid.New(), "usd")
	require.NoError(t, err)
	return order
}

func TestNewOrder(t *testing.T) {
	order := pendingOrder(t)

	assert.Equal(t, StatusPending, order.Status())
	assert.Equal(t, "USD", order.Currency)
	assert.NotEqual(t, uuid.Nil, order.ID)
}

func TestNewOrderValidation(t *testing.T) {
	_, err := NewOrder(uuid.Nil, "USD")
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)

	_, err = NewOrder(uuid.New(), "DOLLARS")
	assert.ErrorAs(t, err, &domainErr)

	order, err := NewOrder(uuid.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "USD", order.Currency)
}

func TestNewOrderItemValidation(t *testing.T) {
	tests := []struct {
		name  string
		sku   string
		item  string
		qty   int
		price float64
	}{
		{"empty sku", "", "Widget", 1, 10},
		{"blank name", "SKU-1", "   ", 1, 10},
		{"zero quantity", "SKU-1", "Widget", 0, 10},
		{"negative price", "SKU-1", "Widget", 1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrderItem(tt.sku, tt.item, tt.qty, tt.price)
			var domainErr *Error
			assert.ErrorAs(t, err, &domainErr)
		})
	}
}

func TestTotalAmount(t *testing.T) {
	order := pendingOrder(t)
	require.NoError(t, order.AddItem(mustItem(t, "SKU-1", "Widget", 2, 50)))
	require.NoError(t, order.AddItem(mustItem(t, "SKU-2", "Gadget", 1, 100)))

	assert.Equal(t, 200.0, order.TotalAmount())
}

func TestAddItemOnlyWhilePending(t *testing.T) {
	order := pendingOrder(t)
	require.NoError(t, order.AddItem(mustItem(t, "SKU-1", "Widget", 1, 10)))
	require.NoError(t, order.MarkProcessing())

	err := order.AddItem(mustItem(t, "SKU-2", "Gadget", 1, 10))
	var domainErr *Error
	assert.ErrorAs(t, err, &domainErr)
	assert.Len(t, order.Items(), 1)
}

func TestLifecycleTransitions(t *testing.T) {
	order := pendingOrder(t)
	require.NoError(t, order.AddItem(mustItem(t, "SKU-1", "Widget", 1, 10)))

	require.NoError(t, order.MarkProcessing())
	assert.Equal(t, StatusProcessing, order.Status())

	require.NoError(t, order.MarkCompleted())
	assert.Equal(t, StatusCompleted, order.Status())
}

func TestMarkProcessingRequiresPending(t *testing.T) {
	order := pendingOrder(t)
	require.NoError(t, order.AddItem(mustItem(t, "SKU-1", "Widget", 1, 10)))
	require.NoError(t, order.MarkProcessing())

	err := order.MarkProcessing()
	var domainErr *Error
	assert.ErrorAs(t, err, &domainErr)
}

func TestMarkCompletedRequiresItems(t *testing.T) {
	order := pendingOrder(t)
	require.NoError(t, order.MarkProcessing())

	err := order.MarkCompleted()
	var domainErr *Error
	assert.ErrorAs(t, err, &domainErr)
	assert.Equal(t, StatusProcessing, order.Status())
}

func TestMarkFailed(t *testing.T) {
	// Legal from Pending, Processing and Failed itself.
	order := pendingOrder(t)
	require.NoError(t, order.MarkFailed())
	assert.Equal(t, StatusFailed, order.Status())
	require.NoError(t, order.MarkFailed())

	processing := pendingOrder(t)
	require.NoError(t, processing.AddItem(mustItem(t, "SKU-1", "Widget", 1, 10)))
	require.NoError(t, processing.MarkProcessing())
	require.NoError(t, processing.MarkFailed())
}

func TestCompletedCannotFail(t *testing.T) {
	order := pendingOrder(t)
	require.NoError(t, order.AddItem(mustItem(t, "SKU-1", "Widget", 1, 10)))
	require.NoError(t, order.MarkProcessing())
	require.NoError(t, order.MarkCompleted())

	err := order.MarkFailed()
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*Error)))
	assert.Equal(t, StatusCompleted, order.Status())
}

func TestRehydrate(t *testing.T) {
	id, userID := uuid.New(), uuid.New()
	items := []OrderItem{mustItem(t, "SKU-1", "Widget", 2, 50)}

	now := time.Now().UTC()
	order := Rehydrate(id, userID, "EUR", StatusProcessing, items, now, now)

	assert.Equal(t, StatusProcessing, order.Status())
	assert.Equal(t, 100.0, order.TotalAmount())
	require.NoError(t, order.MarkCompleted())
}
