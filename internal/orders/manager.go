package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/jogardn/roast-orders/internal/inventory"
	"github.com/jogardn/roast-orders/internal/metrics"
	"github.com/jogardn/roast-orders/internal/numbering"
	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpTransition = "transition_status"
)

// Notifier is told about every committed lifecycle change.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

type Options struct {
	Product string
	Retry   RetryPolicy
	Now     func() time.Time
}

// Manager runs create, update and status transitions, each as one
// transaction composing the ledger, the price calculator and the allocator.
type Manager struct {
	store     Store
	allocator *numbering.Allocator
	product   string
	retry     RetryPolicy
	now       func() time.Time
	notifiers []Notifier
	logger    *logrus.Logger
}

func NewManager(store Store, allocator *numbering.Allocator, opts Options, logger *logrus.Logger) *Manager {
	if opts.Product == "" {
		opts.Product = "chicken"
	}
	if opts.Retry.InitialInterval <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.MaxElapsedTime <= 0 {
		opts.Retry.MaxElapsedTime = DefaultRetryPolicy().MaxElapsedTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     store,
		allocator: allocator,
		product:   opts.Product,
		retry:     opts.Retry,
		now:       opts.Now,
		logger:    logger,
	}
}

// AddNotifier registers n for every event committed after the call. Each
// notifier receives the same event value.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Manager) Product() string {
	return m.product
}

var two = decimal.NewFromInt(2)

// ValidateQuantity accepts positive multiples of 0.5.
func ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() || !q.Mul(two).IsInteger() {
		return apperror.New(apperror.InvalidQuantity, "quantity must be greater than 0 and a multiple of 0.5, got %s", q)
	}
	return nil
}

func validateCommand(cmd models.OrderCommand) error {
	if err := ValidateQuantity(cmd.Quantity); err != nil {
		return err
	}
	switch cmd.DeliveryMode {
	case models.DeliveryPickup:
	case models.DeliveryShipping:
		if cmd.DeliveryZone == "" {
			return apperror.New(apperror.InvalidCommand, "shipping orders need a delivery zone")
		}
	default:
		return apperror.New(apperror.InvalidCommand, "unknown delivery mode %q", cmd.DeliveryMode)
	}
	if cmd.WithSideDish && cmd.SideDishQuantity < 0 {
		return apperror.New(apperror.InvalidCommand, "side dish quantity cannot be negative")
	}
	if cmd.UnitPrice.IsNegative() {
		return apperror.New(apperror.InvalidCommand, "unit price cannot be negative")
	}
	return nil
}

func priceInput(o *models.Order) pricing.Input {
	return pricing.Input{
		Quantity:         o.Quantity,
		UnitPrice:        o.UnitPrice,
		DeliveryMode:     o.DeliveryMode,
		DeliveryZone:     o.DeliveryZone,
		WithSideDish:     o.WithSideDish,
		SideDishQuantity: o.SideDishQuantity,
	}
}

// reprice sets the unit and total price from a configuration read in tx.
func reprice(ctx context.Context, tx Tx, o *models.Order, requested decimal.Decimal) error {
	cfg, err := tx.PriceConfig(ctx)
	if err != nil {
		return err
	}
	unit := pricing.UnitPrice(cfg, requested)
	if !unit.IsPositive() {
		return apperror.New(apperror.InvalidCommand, "no unit price configured and none supplied")
	}
	o.UnitPrice = unit
	o.TotalPrice = pricing.Total(priceInput(o), cfg)
	return nil
}

func (m *Manager) Create(ctx context.Context, cmd models.OrderCommand) (*models.CreateResult, error) {
	if err := validateCommand(cmd); err != nil {
		m.record(OpCreate, err)
		return nil, err
	}

	var (
		order *models.Order
		stock decimal.Decimal
	)
	err := m.inTx(ctx, OpCreate, func(tx Tx) error {
		ledger := inventory.NewLedger(tx)
		if err := ledger.Check(ctx, m.product, cmd.Quantity); err != nil {
			return err
		}

		now := m.now()
		o := &models.Order{
			ID:        uuid.New().String(),
			OrderDate: m.allocator.OrderDate(now),
			Status:    models.StatusPending,
			CreatedAt: now,
		}
		o.Apply(cmd)
		if err := reprice(ctx, tx, o, cmd.UnitPrice); err != nil {
			return err
		}

		number, err := m.allocator.Allocate(ctx, tx, now)
		if err != nil {
			return err
		}
		o.OrderNumber = number

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := ledger.Reserve(ctx, m.product, o.Quantity); err != nil {
			return err
		}

		stock, err = ledger.Available(ctx, m.product)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	m.record(OpCreate, err)
	if err != nil {
		m.logFailure(OpCreate, "", err)
		return nil, err
	}

	m.afterCommit(ctx, models.EventOrderCreated, order, "", stock)
	m.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"quantity":     order.Quantity.String(),
		"total_price":  order.TotalPrice.String(),
		"status":       order.Status,
	}).Info("Order created")

	return &models.CreateResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalPrice:  order.TotalPrice,
		Status:      order.Status,
	}, nil
}

func (m *Manager) Update(ctx context.Context, id string, cmd models.OrderCommand) (*models.UpdateResult, error) {
	if err := validateCommand(cmd); err != nil {
		m.record(OpUpdate, err)
		return nil, err
	}

	var (
		result *models.UpdateResult
		stock  decimal.Decimal
	)
	err := m.inTx(ctx, OpUpdate, func(tx Tx) error {
		current, found, err := tx.OrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.New(apperror.NotFound, "order %s not found", id)
		}
		if current.Status.Terminal() {
			return apperror.New(apperror.ImmutableOrder, "order %s is %s and can no longer be edited", current.OrderNumber, current.Status)
		}

		ledger := inventory.NewLedger(tx)
		delta := cmd.Quantity.Sub(current.Quantity)
		if delta.IsPositive() {
			if err := ledger.Check(ctx, m.product, delta); err != nil {
				return err
			}
		}

		updated := *current
		updated.Apply(cmd)
		requested := cmd.UnitPrice
		if !requested.IsPositive() {
			requested = current.UnitPrice
		}
		if err := reprice(ctx, tx, &updated, requested); err != nil {
			return err
		}
		now := m.now()
		updated.UpdatedAt = &now

		if err := tx.SaveOrder(ctx, &updated); err != nil {
			return err
		}
		if err := ledger.Adjust(ctx, m.product, delta.Neg()); err != nil {
			return err
		}

		stock, err = ledger.Available(ctx, m.product)
		if err != nil {
			return err
		}
		result = &models.UpdateResult{
			Order: &updated,
			Changes: models.OrderChanges{
				Quantity: models.QuantityChange{
					Previous: current.Quantity,
					New:      updated.Quantity,
					Delta:    delta,
				},
				TotalPrice: updated.TotalPrice,
			},
		}
		return nil
	})
	m.record(OpUpdate, err)
	if err != nil {
		m.logFailure(OpUpdate, id, err)
		return nil, err
	}

	m.afterCommit(ctx, models.EventOrderUpdated, result.Order, "", stock)
	m.logger.WithFields(logrus.Fields{
		"order_id":     result.Order.ID,
		"order_number": result.Order.OrderNumber,
		"quantity":     result.Order.Quantity.String(),
		"delta":        result.Changes.Quantity.Delta.String(),
		"total_price":  result.Order.TotalPrice.String(),
	}).Info("Order updated")

	return result, nil
}

func (m *Manager) TransitionStatus(ctx context.Context, id string, next models.Status) (*models.Order, error) {
	if !next.Valid() {
		err := apperror.New(apperror.InvalidStatus, "unknown status %q", next)
		m.record(OpTransition, err)
		return nil, err
	}

	var (
		order    *models.Order
		previous models.Status
		stock    decimal.Decimal
		released bool
	)
	err := m.inTx(ctx, OpTransition, func(tx Tx) error {
		current, found, err := tx.OrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.New(apperror.NotFound, "order %s not found", id)
		}
		if current.Status.Terminal() {
			return apperror.New(apperror.ImmutableOrder, "order %s is already %s", current.OrderNumber, current.Status)
		}
		if next == models.StatusCancelled && !current.Status.Releasable() {
			return apperror.New(apperror.ImmutableOrder, "order %s is %s and can no longer be cancelled", current.OrderNumber, current.Status)
		}

		now := m.now()
		updated := *current
		updated.Status = next
		updated.UpdatedAt = &now
		if next == models.StatusDelivered {
			updated.DeliveredAt = &now
		}

		if err := tx.SaveOrder(ctx, &updated); err != nil {
			return err
		}

		released = false
		if next == models.StatusCancelled {
			ledger := inventory.NewLedger(tx)
			if err := ledger.Release(ctx, m.product, current.Quantity); err != nil {
				return err
			}
			if stock, err = ledger.Available(ctx, m.product); err != nil {
				return err
			}
			released = true
		}

		previous = current.Status
		order = &updated
		return nil
	})
	m.record(OpTransition, err)
	if err != nil {
		m.logFailure(OpTransition, id, err)
		return nil, err
	}

	if released {
		metrics.StockLevel.WithLabelValues(m.product).Set(stock.InexactFloat64())
	}
	m.publish(ctx, models.NewOrderEvent(models.EventOrderStatusChanged, order, previous))
	m.logger.WithFields(logrus.Fields{
		"order_id":        order.ID,
		"order_number":    order.OrderNumber,
		"status":          order.Status,
		"previous_status": previous,
		"stock_released":  released,
	}).Info("Order status changed")

	return order, nil
}

// List returns orders in board order, optionally for one local date.
func (m *Manager) List(ctx context.Context, date string) ([]models.Order, error) {
	if date != "" {
		if _, err := time.Parse(numbering.DateLayout, date); err != nil {
			return nil, apperror.Wrap(apperror.InvalidCommand, err, "date must be YYYY-MM-DD")
		}
	}

	orders, err := m.store.ListOrders(ctx, date)
	if err != nil {
		return nil, apperror.Wrap(apperror.TransactionFailure, err, "failed to list orders")
	}
	models.SortForDisplay(orders)
	return orders, nil
}

// Stock is an unlocked snapshot of the tracked product's quantity.
func (m *Manager) Stock(ctx context.Context) (decimal.Decimal, error) {
	qty, err := m.store.StockLevel(ctx, m.product)
	if err != nil {
		return decimal.Zero, apperror.Wrap(apperror.TransactionFailure, err, "failed to read stock")
	}
	metrics.StockLevel.WithLabelValues(m.product).Set(qty.InexactFloat64())
	return qty, nil
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) afterCommit(ctx context.Context, eventType string, order *models.Order, previous models.Status, stock decimal.Decimal) {
	metrics.StockLevel.WithLabelValues(m.product).Set(stock.InexactFloat64())
	m.publish(ctx, models.NewOrderEvent(eventType, order, previous))
}

// publish never fails the caller; the order is already committed.
func (m *Manager) publish(ctx context.Context, event models.OrderEvent) {
	for _, n := range m.notifiers {
		if err := n.PublishOrderEvent(ctx, event); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":   event.OrderID,
				"event_type": event.Type,
			}).Error("Failed to publish order event")
		}
	}
}

func (m *Manager) record(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(apperror.KindOf(err))
	}
	metrics.LifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Manager) logFailure(operation, id string, err error) {
	entry := m.logger.WithError(err).WithFields(logrus.Fields{
		"operation": operation,
		"kind":      apperror.KindOf(err),
	})
	if id != "" {
		entry = entry.WithField("order_id", id)
	}
	if apperror.KindOf(err) == apperror.TransactionFailure {
		entry.Error("Order operation failed")
		return
	}
	entry.Warn("Order operation rejected")
}
