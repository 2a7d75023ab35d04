package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Valid reports whether s is one of the five recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal orders accept no further status change or field edit.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Releasable reports whether cancelling from s returns the order's stock.
func (s Status) Releasable() bool {
	return s == StatusPending || s == StatusPreparing
}

type DeliveryMode string

const (
	DeliveryPickup   DeliveryMode = "pickup"
	DeliveryShipping DeliveryMode = "shipping"
)

type DeliveryZone string

const (
	ZoneNear     DeliveryZone = "near"
	ZoneFar      DeliveryZone = "far"
	ZoneDistrict DeliveryZone = "district"
)

type Order struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"order_number"`
	OrderDate             string          `json:"order_date"`
	CustomerName          string          `json:"customer_name"`
	CustomerPhone         string          `json:"customer_phone,omitempty"`
	DeliveryMode          DeliveryMode    `json:"delivery_mode"`
	DeliveryZone          DeliveryZone    `json:"delivery_zone,omitempty"`
	Address               string          `json:"address,omitempty"`
	PaymentMethod         string          `json:"payment_method"`
	WithCondiment         bool            `json:"with_condiment"`
	WithSideDish          bool            `json:"with_side_dish"`
	SideDishQuantity      int             `json:"side_dish_quantity"`
	Quantity              decimal.Decimal `json:"quantity"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	TotalPrice            decimal.Decimal `json:"total_price"`
	Status                Status          `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	RequestedDeliveryTime *time.Time      `json:"requested_delivery_time,omitempty"`
	DeliveredAt           *time.Time      `json:"delivered_at,omitempty"`
	UpdatedAt             *time.Time      `json:"updated_at,omitempty"`
}

// OrderCommand carries the caller-supplied attributes shared by create and
// full edit. Prices are never taken from it except the unit price fallback.
type OrderCommand struct {
	CustomerName          string          `json:"customer_name"`
	CustomerPhone         string          `json:"customer_phone,omitempty"`
	DeliveryMode          DeliveryMode    `json:"delivery_mode"`
	DeliveryZone          DeliveryZone    `json:"delivery_zone,omitempty"`
	Address               string          `json:"address,omitempty"`
	PaymentMethod         string          `json:"payment_method"`
	WithCondiment         bool            `json:"with_condiment"`
	WithSideDish          bool            `json:"with_side_dish"`
	SideDishQuantity      int             `json:"side_dish_quantity"`
	Quantity              decimal.Decimal `json:"quantity"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	RequestedDeliveryTime *time.Time      `json:"requested_delivery_time,omitempty"`
}

// Apply copies the mutable attributes of cmd onto o, normalizing fields that
// only make sense for shipping orders or a requested side dish.
func (o *Order) Apply(cmd OrderCommand) {
	o.CustomerName = cmd.CustomerName
	o.CustomerPhone = cmd.CustomerPhone
	o.DeliveryMode = cmd.DeliveryMode
	o.PaymentMethod = cmd.PaymentMethod
	o.WithCondiment = cmd.WithCondiment
	o.WithSideDish = cmd.WithSideDish
	o.Quantity = cmd.Quantity
	o.RequestedDeliveryTime = cmd.RequestedDeliveryTime

	if cmd.DeliveryMode == DeliveryShipping {
		o.DeliveryZone = cmd.DeliveryZone
		o.Address = cmd.Address
	} else {
		o.DeliveryZone = ""
		o.Address = ""
	}

	if cmd.WithSideDish {
		o.SideDishQuantity = cmd.SideDishQuantity
	} else {
		o.SideDishQuantity = 0
	}
}

type CreateResult struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      Status          `json:"status"`
}

type QuantityChange struct {
	Previous decimal.Decimal `json:"previous"`
	New      decimal.Decimal `json:"new"`
	Delta    decimal.Decimal `json:"delta"`
}

type OrderChanges struct {
	Quantity   QuantityChange  `json:"quantity"`
	TotalPrice decimal.Decimal `json:"new_total"`
}

type UpdateResult struct {
	Order   *Order       `json:"order"`
	Changes OrderChanges `json:"changes"`
}

type OrderResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Details interface{} `json:"details,omitempty"`
}
