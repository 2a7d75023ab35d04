package postgres

import (
	"errors"
	"fmt"

	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/lib/pq"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// classify marks store errors caused by a racing transaction as
// orders.ErrConflict, keeping the original error in the chain.
func classify(err error) error {
	if err == nil || errors.Is(err, orders.ErrConflict) {
		return err
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", orders.ErrConflict, err)
	case codeUniqueViolation:
		// Two allocations for the same day raced past the sequence lock.
		if pqErr.Constraint == orderNumberConstraint {
			return fmt.Errorf("%w: %w", orders.ErrConflict, err)
		}
	}
	return err
}
