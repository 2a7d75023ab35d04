package inventory

import (
	"context"
	"fmt"

	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/shopspring/decimal"
)

// Store is the slice of the transaction scope the ledger needs.
type Store interface {
	// StockForUpdate reads the product's quantity and holds its row lock until
	// the transaction ends. A product with no row has zero stock.
	StockForUpdate(ctx context.Context, product string) (decimal.Decimal, error)
	// AddStock applies a signed change to the product's quantity.
	AddStock(ctx context.Context, product string, delta decimal.Decimal) error
}

// Ledger operates on the caller's transaction. It is cheap to build one per
// transaction.
type Ledger struct {
	st Store
}

func NewLedger(st Store) *Ledger {
	return &Ledger{st: st}
}

func (l *Ledger) Available(ctx context.Context, product string) (decimal.Decimal, error) {
	qty, err := l.st.StockForUpdate(ctx, product)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read stock for %s: %w", product, err)
	}
	return qty, nil
}

// Check fails with InsufficientStock unless amount is available.
func (l *Ledger) Check(ctx context.Context, product string, amount decimal.Decimal) error {
	available, err := l.Available(ctx, product)
	if err != nil {
		return err
	}
	if available.LessThan(amount) {
		return apperror.NewInsufficientStock(available, amount)
	}
	return nil
}

// Reserve takes amount out of stock.
func (l *Ledger) Reserve(ctx context.Context, product string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperror.New(apperror.InvalidQuantity, "cannot reserve a negative amount %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	if err := l.Check(ctx, product, amount); err != nil {
		return err
	}
	if err := l.st.AddStock(ctx, product, amount.Neg()); err != nil {
		return fmt.Errorf("failed to reserve %s of %s: %w", amount, product, err)
	}
	return nil
}

// Release puts amount back into stock.
func (l *Ledger) Release(ctx context.Context, product string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperror.New(apperror.InvalidQuantity, "cannot release a negative amount %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	if err := l.st.AddStock(ctx, product, amount); err != nil {
		return fmt.Errorf("failed to release %s of %s: %w", amount, product, err)
	}
	return nil
}

// Adjust applies a signed change. A negative delta is a reservation and is
// checked against availability first.
func (l *Ledger) Adjust(ctx context.Context, product string, delta decimal.Decimal) error {
	switch {
	case delta.IsNegative():
		return l.Reserve(ctx, product, delta.Neg())
	case delta.IsPositive():
		return l.Release(ctx, product, delta)
	}
	return nil
}
