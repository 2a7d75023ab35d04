package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        string          `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	Status         Status          `json:"status"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func NewOrderEvent(eventType string, order *Order, previous Status) OrderEvent {
	return OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PreviousStatus: previous,
		Quantity:       order.Quantity,
		TotalPrice:     order.TotalPrice,
		OccurredAt:     time.Now().UTC(),
	}
}
