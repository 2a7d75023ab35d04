package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jogardn/roast-orders/internal/apperror"
)

const (
	Prefix     = "P"
	DateLayout = "2006-01-02"
)

// Store is the slice of the transaction scope the allocator needs.
type Store interface {
	// LastOrderNumber returns the highest order number for orderDate
	// (YYYY-MM-DD) and keeps the day's sequence locked until the enclosing
	// transaction ends.
	LastOrderNumber(ctx context.Context, orderDate string) (string, bool, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)
}

// Allocator hands out P-DD-MM-YYYY-NNN numbers, sequential per local day.
type Allocator struct {
	loc *time.Location
}

func NewAllocator(loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{loc: loc}
}

func (a *Allocator) Location() *time.Location {
	return a.loc
}

// OrderDate is the operation-timezone calendar date of at.
func (a *Allocator) OrderDate(at time.Time) string {
	return at.In(a.loc).Format(DateLayout)
}

// Allocate must run inside the transaction that will insert the order row.
func (a *Allocator) Allocate(ctx context.Context, st Store, at time.Time) (string, error) {
	local := at.In(a.loc)

	last, found, err := st.LastOrderNumber(ctx, local.Format(DateLayout))
	if err != nil {
		return "", fmt.Errorf("failed to read last order number: %w", err)
	}

	next := 1
	if found {
		seq, err := ParseSequence(last)
		if err != nil {
			return "", err
		}
		next = seq + 1
	}

	number := Format(local, next)

	exists, err := st.OrderNumberExists(ctx, number)
	if err != nil {
		return "", fmt.Errorf("failed to check order number %s: %w", number, err)
	}
	if exists {
		return "", apperror.NewDuplicateOrderNumber(number)
	}

	return number, nil
}

// Format renders the number for a local date and sequence.
func Format(local time.Time, seq int) string {
	return fmt.Sprintf("%s-%02d-%02d-%04d-%03d", Prefix, local.Day(), int(local.Month()), local.Year(), seq)
}

// ParseSequence extracts the trailing numeric suffix of an order number.
// Every dash-separated segment must be non-empty, so a signed suffix such
// as "--1" is rejected rather than read as its digits.
func ParseSequence(number string) (int, error) {
	invalid := func() error {
		e := apperror.New(apperror.InvalidSequenceFormat, "order number %q has a non-numeric sequence suffix", number)
		e.OrderNumber = number
		return e
	}

	segments := strings.Split(number, "-")
	if len(segments) < 2 {
		return 0, invalid()
	}
	for _, segment := range segments {
		if segment == "" {
			return 0, invalid()
		}
	}
	suffix := segments[len(segments)-1]

	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, invalid()
		}
	}

	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, invalid()
	}
	return seq, nil
}
