package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrOrderNotFound is returned when an order does not exist or is not
// visible to the caller.
var ErrOrderNotFound = errors.New("order not found")

// ValidationError reports malformed order input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced row that does not exist.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// OutOfStockError reports a variant without enough stock for a line.
type OutOfStockError struct {
	ItemID    int64
	VariantID int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("not enough stock for item %d variant %d: requested %d, available %d",
		e.ItemID, e.VariantID, e.Requested, e.Available)
}

// IllegalTransitionError reports a status change the lifecycle forbids.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}
