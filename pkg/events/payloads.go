package events

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// OrderCreatedV1 is the payload committed by the API once an order row is
// durably written. It is the only event type the worker consumes.
type OrderCreatedV1 struct {
	OrderID     uuid.UUID `json:"orderId" validate:"required"`
	UserID      uuid.UUID `json:"userId" validate:"required"`
	Currency    string    `json:"currency" validate:"required,len=3"`
	TotalAmount float64   `json:"totalAmount" validate:"gte=0"`
}

func (p *OrderCreatedV1) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}

// OrderCompletedV1 reports a successfully fulfilled order.
type OrderCompletedV1 struct {
	OrderID     uuid.UUID `json:"orderId" validate:"required"`
	UserID      uuid.UUID `json:"userId" validate:"required"`
	TotalAmount float64   `json:"totalAmount" validate:"gte=0"`
}

func (p *OrderCompletedV1) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}

// OrderFailedV1 reports an order that could not be fulfilled. Reason carries
// the message of the error that aborted processing.
type OrderFailedV1 struct {
	OrderID uuid.UUID `json:"orderId" validate:"required"`
	UserID  uuid.UUID `json:"userId" validate:"required"`
	Reason  string    `json:"reason" validate:"required"`
}

func (p *OrderFailedV1) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}
