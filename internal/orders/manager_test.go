package orders_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/jogardn/roast-orders/internal/memstore"
	"github.com/jogardn/roast-orders/internal/numbering"
	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (n *recordingNotifier) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

type fixture struct {
	store    *memstore.Store
	manager  *orders.Manager
	notifier *recordingNotifier
}

var opDay = time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

// steppingClock returns strictly increasing instants on opDay.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := opDay
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newFixture(t *testing.T, stock string) *fixture {
	t.Helper()
	logger := testLogger()

	store := memstore.New()
	prices := pricing.Defaults()
	prices[pricing.KeyUnitPrice] = dec("100")
	store.Seed("chicken", dec(stock), prices)

	m := orders.NewManager(store, numbering.NewAllocator(time.UTC), orders.Options{
		Product: "chicken",
		Retry:   orders.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond},
		Now:     steppingClock(),
	}, logger)

	n := &recordingNotifier{}
	m.AddNotifier(n)

	return &fixture{store: store, manager: m, notifier: n}
}

func pickup(qty string) models.OrderCommand {
	return models.OrderCommand{
		CustomerName:  "Ana",
		DeliveryMode:  models.DeliveryPickup,
		PaymentMethod: "cash",
		Quantity:      dec(qty),
	}
}

func (f *fixture) stock(t *testing.T) decimal.Decimal {
	t.Helper()
	qty, err := f.manager.Stock(context.Background())
	require.NoError(t, err)
	return qty
}

func TestValidateQuantity(t *testing.T) {
	valid := []string{"0.5", "1", "1.5", "2", "12.5"}
	for _, q := range valid {
		assert.NoError(t, orders.ValidateQuantity(dec(q)), q)
	}

	invalid := []string{"0", "-0.5", "-1", "0.25", "1.3", "2.75"}
	for _, q := range invalid {
		err := orders.ValidateQuantity(dec(q))
		assert.Equal(t, apperror.InvalidQuantity, apperror.KindOf(err), q)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t, "10")

	res, err := f.manager.Create(context.Background(), pickup("1.5"))
	require.NoError(t, err)

	assert.Equal(t, "P-07-03-2026-001", res.OrderNumber)
	assert.Equal(t, models.StatusPending, res.Status)
	assert.True(t, res.TotalPrice.Equal(dec("170")), res.TotalPrice.String())
	assert.True(t, f.stock(t).Equal(dec("8.5")))

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventOrderCreated, f.notifier.events[0].Type)
	assert.Equal(t, res.OrderID, f.notifier.events[0].OrderID)
}

func TestCreateRejectsBeforeTouchingStock(t *testing.T) {
	f := newFixture(t, "10")

	_, err := f.manager.Create(context.Background(), pickup("0.3"))
	assert.Equal(t, apperror.InvalidQuantity, apperror.KindOf(err))

	_, err = f.manager.Create(context.Background(), pickup("11"))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.InsufficientStock, appErr.Kind)
	assert.True(t, appErr.Available.Equal(dec("10")))

	assert.True(t, f.stock(t).Equal(dec("10")))
	list, err := f.manager.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.notifier.events)
}

func TestCreateFallsBackToCommandUnitPrice(t *testing.T) {
	f := newFixture(t, "10")
	f.store.SetPrice(pricing.KeyUnitPrice, decimal.Zero)

	cmd := pickup("2")
	_, err := f.manager.Create(context.Background(), cmd)
	assert.Equal(t, apperror.InvalidCommand, apperror.KindOf(err))

	cmd.UnitPrice = dec("90")
	res, err := f.manager.Create(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.TotalPrice.Equal(dec("180")))
	assert.Equal(t, "P-07-03-2026-001", res.OrderNumber, "failed attempt must not consume a number")
}

func TestCreateShippingWithSideDish(t *testing.T) {
	f := newFixture(t, "10")

	cmd := pickup("1")
	cmd.DeliveryMode = models.DeliveryShipping
	cmd.DeliveryZone = models.ZoneFar
	cmd.Address = "Calle 1"
	cmd.WithSideDish = true
	cmd.SideDishQuantity = 2

	res, err := f.manager.Create(context.Background(), cmd)
	require.NoError(t, err)
	// 100 + 30 + 2*25
	assert.True(t, res.TotalPrice.Equal(dec("180")), res.TotalPrice.String())

	cmd.DeliveryZone = ""
	_, err = f.manager.Create(context.Background(), cmd)
	assert.Equal(t, apperror.InvalidCommand, apperror.KindOf(err))
}

func TestConcurrentCreatesNumberSequentially(t *testing.T) {
	f := newFixture(t, "100")
	const n = 25

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.manager.Create(context.Background(), pickup("1"))
			errs[i] = err
			if err == nil {
				numbers[i] = res.OrderNumber
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("P-07-03-2026-%03d", i+1), number)
	}
	assert.True(t, f.stock(t).Equal(dec("75")))
}

func TestConcurrentCreatesDoNotOversell(t *testing.T) {
	f := newFixture(t, "10")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Create(context.Background(), pickup("6"))
		}(i)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperror.KindOf(err) == apperror.InsufficientStock:
			short++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)
	assert.True(t, f.stock(t).Equal(dec("4")))
}

func TestUpdateAdjustsStock(t *testing.T) {
	f := newFixture(t, "7")
	ctx := context.Background()

	created, err := f.manager.Create(ctx, pickup("2"))
	require.NoError(t, err)
	require.True(t, f.stock(t).Equal(dec("5")))

	up, err := f.manager.Update(ctx, created.OrderID, pickup("3"))
	require.NoError(t, err)
	assert.True(t, f.stock(t).Equal(dec("4")))
	assert.True(t, up.Changes.Quantity.Previous.Equal(dec("2")))
	assert.True(t, up.Changes.Quantity.New.Equal(dec("3")))
	assert.True(t, up.Changes.Quantity.Delta.Equal(dec("1")))
	assert.True(t, up.Changes.TotalPrice.Equal(dec("300")))
	assert.Equal(t, created.OrderNumber, up.Order.OrderNumber)
	assert.NotNil(t, up.Order.UpdatedAt)

	_, err = f.manager.Update(ctx, created.OrderID, pickup("2"))
	require.NoError(t, err)
	assert.True(t, f.stock(t).Equal(dec("5")))

	_, err = f.manager.Update(ctx, created.OrderID, pickup("8"))
	assert.Equal(t, apperror.InsufficientStock, apperror.KindOf(err))
	assert.True(t, f.stock(t).Equal(dec("5")))
}

func TestUpdateRepricesWithCurrentConfig(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	created, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)

	f.store.SetPrice(pricing.KeyUnitPrice, dec("120"))
	up, err := f.manager.Update(ctx, created.OrderID, pickup("1"))
	require.NoError(t, err)
	assert.True(t, up.Order.TotalPrice.Equal(dec("120")))
	assert.True(t, up.Changes.Quantity.Delta.IsZero())
}

func TestUpdateNotFoundAndImmutable(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.manager.Update(ctx, "missing", pickup("1"))
	assert.Equal(t, apperror.NotFound, apperror.KindOf(err))

	created, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)
	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusDelivered)
	require.NoError(t, err)

	_, err = f.manager.Update(ctx, created.OrderID, pickup("2"))
	assert.Equal(t, apperror.ImmutableOrder, apperror.KindOf(err))
	assert.True(t, f.stock(t).Equal(dec("9")))
}

func TestCancelReleasesStockOnce(t *testing.T) {
	f := newFixture(t, "5")
	ctx := context.Background()

	created, err := f.manager.Create(ctx, pickup("2"))
	require.NoError(t, err)
	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusPreparing)
	require.NoError(t, err)
	require.True(t, f.stock(t).Equal(dec("3")))

	cancelled, err := f.manager.TransitionStatus(ctx, created.OrderID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.True(t, f.stock(t).Equal(dec("5")))

	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusCancelled)
	assert.Equal(t, apperror.ImmutableOrder, apperror.KindOf(err))
	assert.True(t, f.stock(t).Equal(dec("5")))

	last := f.notifier.events[len(f.notifier.events)-1]
	assert.Equal(t, models.EventOrderStatusChanged, last.Type)
	assert.Equal(t, models.StatusPreparing, last.PreviousStatus)
}

func TestCancelOutForDeliveryRejected(t *testing.T) {
	f := newFixture(t, "5")
	ctx := context.Background()

	created, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)
	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusOutForDelivery)
	require.NoError(t, err)

	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusCancelled)
	assert.Equal(t, apperror.ImmutableOrder, apperror.KindOf(err))
	assert.True(t, f.stock(t).Equal(dec("4")))
}

func TestTransitionDeliveredStampsTime(t *testing.T) {
	f := newFixture(t, "5")
	ctx := context.Background()

	created, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)

	// Jumps between non-terminal statuses are allowed.
	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusOutForDelivery)
	require.NoError(t, err)
	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusPending)
	require.NoError(t, err)

	delivered, err := f.manager.TransitionStatus(ctx, created.OrderID, models.StatusDelivered)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
	assert.True(t, f.stock(t).Equal(dec("4")))

	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.StatusPreparing)
	assert.Equal(t, apperror.ImmutableOrder, apperror.KindOf(err))
}

func TestTransitionInvalidStatusAndNotFound(t *testing.T) {
	f := newFixture(t, "5")
	ctx := context.Background()

	_, err := f.manager.TransitionStatus(ctx, "missing", models.StatusPreparing)
	assert.Equal(t, apperror.NotFound, apperror.KindOf(err))

	created, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)
	_, err = f.manager.TransitionStatus(ctx, created.OrderID, models.Status("lost"))
	assert.Equal(t, apperror.InvalidStatus, apperror.KindOf(err))
}

func TestListOrdersForBoard(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	a, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)

	b, err := f.manager.Create(ctx, pickup("1"))
	require.NoError(t, err)
	_, err = f.manager.TransitionStatus(ctx, b.OrderID, models.StatusDelivered)
	require.NoError(t, err)

	noon := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	cmd := pickup("1")
	cmd.RequestedDeliveryTime = &noon
	c, err := f.manager.Create(ctx, cmd)
	require.NoError(t, err)

	list, err := f.manager.List(ctx, "2026-03-07")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{c.OrderID, a.OrderID, b.OrderID}, []string{list[0].ID, list[1].ID, list[2].ID})

	other, err := f.manager.List(ctx, "2026-03-08")
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = f.manager.List(ctx, "07/03/2026")
	assert.Equal(t, apperror.InvalidCommand, apperror.KindOf(err))
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, "5")
	f.notifier.err = fmt.Errorf("broker down")

	_, err := f.manager.Create(context.Background(), pickup("1"))
	require.NoError(t, err)
	assert.True(t, f.stock(t).Equal(dec("4")))
}

// conflictingStore fails the first n transactions with a store conflict.
type conflictingStore struct {
	*memstore.Store
	mu        sync.Mutex
	remaining int
	calls     int
}

func (s *conflictingStore) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.remaining > 0
	if fail {
		s.remaining--
	}
	s.mu.Unlock()

	if fail {
		return s.Store.WithTx(ctx, func(tx orders.Tx) error {
			if err := fn(tx); err != nil {
				return err
			}
			return fmt.Errorf("could not serialize access: %w", orders.ErrConflict)
		})
	}
	return s.Store.WithTx(ctx, fn)
}

func newConflictingManager(t *testing.T, failures int) (*conflictingStore, *orders.Manager) {
	t.Helper()
	return newConflictingManagerWithPolicy(t, failures, orders.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond})
}

func newConflictingManagerWithPolicy(t *testing.T, failures int, policy orders.RetryPolicy) (*conflictingStore, *orders.Manager) {
	t.Helper()
	logger := testLogger()

	inner := memstore.New()
	prices := pricing.Defaults()
	prices[pricing.KeyUnitPrice] = dec("100")
	inner.Seed("chicken", dec("10"), prices)

	store := &conflictingStore{Store: inner, remaining: failures}
	m := orders.NewManager(store, numbering.NewAllocator(time.UTC), orders.Options{
		Product: "chicken",
		Retry:   policy,
		Now:     steppingClock(),
	}, logger)
	return store, m
}

func TestConflictIsRetried(t *testing.T) {
	store, m := newConflictingManager(t, 2)

	res, err := m.Create(context.Background(), pickup("1"))
	require.NoError(t, err)
	assert.Equal(t, "P-07-03-2026-001", res.OrderNumber)
	assert.Equal(t, 3, store.calls)

	qty, err := m.Stock(context.Background())
	require.NoError(t, err)
	assert.True(t, qty.Equal(dec("9")), "rolled back attempts must not reserve stock")
}

func TestConflictRetriesAreBounded(t *testing.T) {
	store, m := newConflictingManager(t, 100)

	_, err := m.Create(context.Background(), pickup("1"))
	assert.Equal(t, apperror.TransactionFailure, apperror.KindOf(err))
	assert.Equal(t, 4, store.calls)
}

func TestDefaultPolicyOutlastsLongContention(t *testing.T) {
	policy := orders.DefaultRetryPolicy()
	assert.Zero(t, policy.MaxRetries, "the default budget is time-bound, not count-bound")

	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 2 * time.Millisecond
	store, m := newConflictingManagerWithPolicy(t, 40, policy)

	res, err := m.Create(context.Background(), pickup("1"))
	require.NoError(t, err)
	assert.Equal(t, "P-07-03-2026-001", res.OrderNumber)
	assert.Equal(t, 41, store.calls)
}

func TestElapsedBudgetEndsRetries(t *testing.T) {
	store, m := newConflictingManagerWithPolicy(t, 1000000, orders.RetryPolicy{
		MaxElapsedTime:  50 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})

	_, err := m.Create(context.Background(), pickup("1"))
	assert.Equal(t, apperror.TransactionFailure, apperror.KindOf(err))
	assert.Greater(t, store.calls, 1)
}

func TestDomainErrorsAreNotRetried(t *testing.T) {
	store, m := newConflictingManager(t, 0)

	_, err := m.Create(context.Background(), pickup("20"))
	assert.Equal(t, apperror.InsufficientStock, apperror.KindOf(err))
	assert.Equal(t, 1, store.calls)
}
