package orders

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/jogardn/roast-orders/internal/metrics"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds how long a conflicting transaction is re-run. Concurrent
// creates serialize on the stock row, so one creator commits per round and the
// rest retry; the budget is therefore set in elapsed time. MaxRetries adds a
// count limit when non-zero. At least one of the two bounds must be set.
type RetryPolicy struct {
	MaxRetries      uint64
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxElapsedTime:  10 * time.Second,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()

	var b backoff.BackOff = exp
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// inTx runs fn as one transaction, re-running the whole transaction when the
// store reports a conflict. Any other error ends the loop at once.
func (m *Manager) inTx(ctx context.Context, operation string, fn func(tx Tx) error) error {
	attempts := 0

	err := backoff.Retry(func() error {
		attempts++
		err := m.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			metrics.TransactionRetries.WithLabelValues(operation).Inc()
			m.logger.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempts,
			}).WithError(err).Warn("Transaction conflict, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, m.retry.backOff(ctx))

	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	if errors.Is(err, ErrConflict) {
		return apperror.Wrap(apperror.TransactionFailure, err, "%s still conflicting after %d attempts", operation, attempts)
	}
	return apperror.Wrap(apperror.TransactionFailure, err, "%s failed", operation)
}
