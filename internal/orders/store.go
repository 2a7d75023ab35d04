package orders

import (
	"context"
	"errors"

	"github.com/jogardn/roast-orders/internal/inventory"
	"github.com/jogardn/roast-orders/internal/numbering"
	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrConflict marks a transaction the store aborted because it raced another
// one (serialization failure, deadlock, concurrent order number insert). The
// whole operation may be re-run.
var ErrConflict = errors.New("transaction conflict")

// Tx is the explicit transaction scope handed to every component.
type Tx interface {
	numbering.Store
	inventory.Store
	pricing.ConfigReader

	InsertOrder(ctx context.Context, order *models.Order) error
	// OrderForUpdate locks the order row until the transaction ends.
	OrderForUpdate(ctx context.Context, id string) (*models.Order, bool, error)
	SaveOrder(ctx context.Context, order *models.Order) error
}

type Store interface {
	// WithTx runs fn in one serializable transaction. It commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// ListOrders returns every order, or only those of one local date
	// (YYYY-MM-DD) when date is not empty.
	ListOrders(ctx context.Context, date string) ([]models.Order, error)
	StockLevel(ctx context.Context, product string) (decimal.Decimal, error)
	Ping(ctx context.Context) error
}
