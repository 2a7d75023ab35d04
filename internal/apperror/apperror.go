// Package apperror defines the failure kinds returned by the order core and
// their mapping to caller-facing statuses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	InvalidQuantity       Kind = "InvalidQuantity"
	InsufficientStock     Kind = "InsufficientStock"
	InvalidSequenceFormat Kind = "InvalidSequenceFormat"
	DuplicateOrderNumber  Kind = "DuplicateOrderNumber"
	NotFound              Kind = "NotFound"
	ImmutableOrder        Kind = "ImmutableOrder"
	InvalidStatus         Kind = "InvalidStatus"
	InvalidCommand        Kind = "InvalidCommand"
	TransactionFailure    Kind = "TransactionFailure"
)

type Error struct {
	Kind    Kind
	Message string

	// Set for InsufficientStock.
	Available decimal.Decimal
	Shortfall decimal.Decimal

	// Set for DuplicateOrderNumber and InvalidSequenceFormat.
	OrderNumber string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail is the diagnostic text that may be shown outside production.
func (e *Error) Detail() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewInsufficientStock(available, requested decimal.Decimal) *Error {
	return &Error{
		Kind:      InsufficientStock,
		Message:   fmt.Sprintf("insufficient stock: available %s, requested %s", available.String(), requested.String()),
		Available: available,
		Shortfall: requested.Sub(available),
	}
}

func NewDuplicateOrderNumber(number string) *Error {
	return &Error{
		Kind:        DuplicateOrderNumber,
		Message:     fmt.Sprintf("order number %s already exists", number),
		OrderNumber: number,
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf classifies err. Anything that is not an *Error is a store-level
// failure.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return TransactionFailure
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidQuantity, InvalidStatus, InvalidCommand:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InsufficientStock, ImmutableOrder, DuplicateOrderNumber:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
