package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// MaxCodeLength bounds coupon codes.
const MaxCodeLength = 32

var (
	// ErrNotFound is returned when no coupon matches the lookup.
	ErrNotFound = errors.New("coupon not found")
	// ErrContention is returned by TryConsume when the usage counter moved
	// between read and update, or the cap was reached concurrently.
	ErrContention = errors.New("coupon usage changed concurrently")
	// ErrCodeTaken is returned when creating a coupon whose code exists.
	ErrCodeTaken = errors.New("coupon code already exists")
)

// Coupon is a stored discount definition.
type Coupon struct {
	ID             int64
	Code           string
	Description    *string
	DiscountType   DiscountType
	Value          decimal.Decimal
	Active         bool
	StartAt        *time.Time
	EndAt          *time.Time
	MinOrderAmount decimal.NullDecimal
	// MaxUses of zero means unlimited.
	MaxUses   int
	UsedCount int
	CreatedBy *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reason says why a coupon cannot be applied.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonInactive     Reason = "inactive"
	ReasonNotStarted   Reason = "not_started"
	ReasonExpired      Reason = "expired"
	ReasonBelowMinimum Reason = "below_minimum"
	ReasonExhausted    Reason = "exhausted"
)

// InvalidError reports a coupon that failed validation.
type InvalidError struct {
	Code   string
	Reason Reason
	// Minimum is set for ReasonBelowMinimum.
	Minimum decimal.Decimal
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon %q: %s", e.Code, e.Message())
}

// Message is the client-facing description of the failure.
func (e *InvalidError) Message() string {
	switch e.Reason {
	case ReasonNotFound:
		return "Coupon not found"
	case ReasonInactive:
		return "Coupon not available or inactive"
	case ReasonNotStarted:
		return "Coupon not valid yet"
	case ReasonExpired:
		return "Coupon has expired"
	case ReasonBelowMinimum:
		return "Order total below minimum required amount: " + e.Minimum.StringFixed(2)
	case ReasonExhausted:
		return "Coupon usage limit reached"
	default:
		return "Coupon is not valid"
	}
}

// ValidationError reports a malformed coupon definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Check evaluates the redemption predicate at now for an order whose
// pre-discount subtotal is subtotal.
func (c *Coupon) Check(now time.Time, subtotal decimal.Decimal) error {
	fail := func(r Reason) error {
		return &InvalidError{Code: c.Code, Reason: r}
	}
	if !c.Active {
		return fail(ReasonInactive)
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return fail(ReasonNotStarted)
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return fail(ReasonExpired)
	}
	if c.MinOrderAmount.Valid && subtotal.LessThan(c.MinOrderAmount.Decimal) {
		return &InvalidError{Code: c.Code, Reason: ReasonBelowMinimum, Minimum: c.MinOrderAmount.Decimal}
	}
	if c.Exhausted() {
		return fail(ReasonExhausted)
	}
	return nil
}

// Exhausted reports whether a capped coupon has no uses left.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.UsedCount >= c.MaxUses
}

// Store is the coupon contract used inside the order transaction.
type Store interface {
	// FindByCode looks a coupon up by its exact, case-sensitive code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// TryConsume advances used_count by one if it still equals expectedUsed
	// and the cap allows it, returning the new count or ErrContention.
	TryConsume(ctx context.Context, id int64, expectedUsed int) (int, error)
}

// ManageStore adds the coupon management operations.
type ManageStore interface {
	Store
	Get(ctx context.Context, id int64) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	// List returns coupons created by createdBy, or all coupons when nil.
	List(ctx context.Context, createdBy *int64) ([]Coupon, error)
	SetActive(ctx context.Context, id int64, active bool, at time.Time) (*Coupon, error)
}
