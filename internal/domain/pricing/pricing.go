// Package pricing computes order totals from captured line prices, an
// optional coupon and a shipping charge. It performs no I/O.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cartstream/storefront/internal/domain/coupon"
)

// Places is the number of fractional digits kept for currency amounts.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

var (
	// ErrNegativeShipping is returned for a shipping charge below zero.
	ErrNegativeShipping = errors.New("shipping charge must not be negative")
	// ErrInvalidQuantity is returned for a line quantity below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrNegativePrice is returned for a negative unit price.
	ErrNegativePrice = errors.New("unit price must not be negative")
)

// Line is one priced order line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns the line total rounded half-to-even.
func (l Line) Total() decimal.Decimal {
	return Round(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// Totals is the priced breakdown of an order.
type Totals struct {
	LineTotals []decimal.Decimal
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Shipping   decimal.Decimal
	Final      decimal.Decimal
}

// Round rounds a currency amount half-to-even.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(Places)
}

// Subtotal sums the rounded line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Evaluate prices lines with an optional coupon c and a shipping charge.
// The coupon is assumed to be already validated.
func Evaluate(lines []Line, c *coupon.Coupon, shipping decimal.Decimal) (Totals, error) {
	if shipping.IsNegative() {
		return Totals{}, ErrNegativeShipping
	}
	t := Totals{
		LineTotals: make([]decimal.Decimal, len(lines)),
		Subtotal:   zero,
		Discount:   zero,
		Shipping:   Round(shipping),
	}
	for i, l := range lines {
		if l.Quantity < 1 {
			return Totals{}, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, ErrNegativePrice
		}
		t.LineTotals[i] = l.Total()
		t.Subtotal = t.Subtotal.Add(t.LineTotals[i])
	}
	if c != nil {
		d, err := Discount(c, t.Subtotal)
		if err != nil {
			return Totals{}, err
		}
		t.Discount = d
	}
	t.Final = t.Subtotal.Sub(t.Discount).Add(t.Shipping)
	return t, nil
}

// Discount computes the coupon discount for subtotal, clamped to
// [0, subtotal] and rounded half-to-even once.
func Discount(c *coupon.Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch c.DiscountType {
	case coupon.DiscountPercentage:
		amount = applyPercentage(c.Value, subtotal)
	case coupon.DiscountFixed:
		amount = applyFixed(c.Value, subtotal)
	default:
		return zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
	return Round(floorAtZero(amount)), nil
}

func applyPercentage(pct, subtotal decimal.Decimal) decimal.Decimal {
	return decimal.Min(subtotal, subtotal.Mul(pct).Div(hundred))
}

func applyFixed(value, subtotal decimal.Decimal) decimal.Decimal {
	return decimal.Min(value, subtotal)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
