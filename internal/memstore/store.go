// Package memstore keeps orders, stock and prices in process memory. It has
// no row locks, so one process-wide mutex is held for the whole of every
// transaction; all writes land together on commit.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
)

var _ orders.Store = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	orders map[string]models.Order
	stock  map[string]decimal.Decimal
	prices pricing.Config
}

func New() *Store {
	return &Store{
		orders: make(map[string]models.Order),
		stock:  make(map[string]decimal.Decimal),
		prices: pricing.Config{},
	}
}

// Seed sets stock and merges price keys, like the SQL bootstrap does.
func (s *Store) Seed(product string, stock decimal.Decimal, prices pricing.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stock[product] = stock
	for k, v := range prices {
		s.prices[k] = v
	}
}

func (s *Store) SetPrice(key string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[key] = value
}

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		orders: make(map[string]models.Order, len(s.orders)),
		stock:  make(map[string]decimal.Decimal, len(s.stock)),
		prices: make(pricing.Config, len(s.prices)),
	}
	for k, v := range s.orders {
		tx.orders[k] = v
	}
	for k, v := range s.stock {
		tx.stock[k] = v
	}
	for k, v := range s.prices {
		tx.prices[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.orders = tx.orders
	s.stock = tx.stock
	return nil
}

func (s *Store) ListOrders(ctx context.Context, date string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if date != "" && o.OrderDate != date {
			continue
		}
		result = append(result, o)
	}
	return result, nil
}

func (s *Store) StockLevel(ctx context.Context, product string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[product], nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

type memTx struct {
	orders map[string]models.Order
	stock  map[string]decimal.Decimal
	prices pricing.Config
}

func (t *memTx) LastOrderNumber(ctx context.Context, orderDate string) (string, bool, error) {
	var last string
	for _, o := range t.orders {
		if o.OrderDate != orderDate {
			continue
		}
		// Same ordering as the SQL store: longer suffixes are larger.
		if len(o.OrderNumber) > len(last) || (len(o.OrderNumber) == len(last) && o.OrderNumber > last) {
			last = o.OrderNumber
		}
	}
	return last, last != "", nil
}

func (t *memTx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	for _, o := range t.orders {
		if o.OrderNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) StockForUpdate(ctx context.Context, product string) (decimal.Decimal, error) {
	return t.stock[product], nil
}

func (t *memTx) AddStock(ctx context.Context, product string, delta decimal.Decimal) error {
	next := t.stock[product].Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("stock for %s would drop to %s", product, next)
	}
	t.stock[product] = next
	return nil
}

func (t *memTx) PriceConfig(ctx context.Context) (pricing.Config, error) {
	cfg := make(pricing.Config, len(t.prices))
	for k, v := range t.prices {
		cfg[k] = v
	}
	return cfg, nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if _, exists := t.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if exists, _ := t.OrderNumberExists(ctx, order.OrderNumber); exists {
		return apperror.NewDuplicateOrderNumber(order.OrderNumber)
	}
	t.orders[order.ID] = *order
	return nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id string) (*models.Order, bool, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

func (t *memTx) SaveOrder(ctx context.Context, order *models.Order) error {
	if _, ok := t.orders[order.ID]; !ok {
		return fmt.Errorf("order %s does not exist", order.ID)
	}
	t.orders[order.ID] = *order
	return nil
}
