package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
)

// ListForCustomer returns the caller's own orders, newest first.
func (s *Service) ListForCustomer(ctx context.Context, p auth.Principal) ([]View, error) {
	if err := p.Require(auth.RoleCustomer); err != nil {
		return nil, err
	}
	return s.list(ctx, Filter{CustomerID: &p.UserID})
}

// ListForShopOwner returns the orders containing the caller's items, with
// only the caller's lines attached.
func (s *Service) ListForShopOwner(ctx context.Context, p auth.Principal) ([]View, error) {
	if err := p.Require(auth.RoleShopOwner); err != nil {
		return nil, err
	}
	return s.list(ctx, Filter{OwnerID: &p.UserID})
}

// ListAll returns every order with all of its lines.
func (s *Service) ListAll(ctx context.Context, p auth.Principal) ([]View, error) {
	if err := p.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}
	return s.list(ctx, Filter{})
}

func (s *Service) list(ctx context.Context, f Filter) ([]View, error) {
	ctx, span := s.tel.tracer.Start(ctx, "order.List")
	defer span.End()

	views, err := s.reader.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return views, nil
}

// Invoice is the price breakdown of one order as shown to its customer.
type Invoice struct {
	OrderID         int64
	OrderDate       time.Time
	Status          Status
	CustomerName    string
	ShippingAddress *address.Address
	Lines           []LineView
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	ShippingCharge  decimal.Decimal
	Total           decimal.Decimal
	CouponCode      *string
	TransactionID   *string
	TrackingNumber  *string
}

// Invoice returns the invoice of one of the caller's orders. Orders of other
// customers are reported as not found.
func (s *Service) Invoice(ctx context.Context, p auth.Principal, orderID int64) (*Invoice, error) {
	if err := p.Require(auth.RoleCustomer); err != nil {
		return nil, err
	}
	views, err := s.list(ctx, Filter{OrderID: &orderID, CustomerID: &p.UserID})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrOrderNotFound
	}
	v := views[0]
	return &Invoice{
		OrderID:         v.Order.ID,
		OrderDate:       v.Order.OrderDate,
		Status:          v.Order.Status,
		CustomerName:    v.CustomerUsername,
		ShippingAddress: v.ShippingAddress,
		Lines:           v.Lines,
		Subtotal:        v.Order.Subtotal,
		Discount:        v.Order.Discount,
		ShippingCharge:  v.Order.ShippingCharge,
		Total:           v.Order.TotalPrice,
		CouponCode:      v.Order.CouponCode,
		TransactionID:   v.Order.TransactionID,
		TrackingNumber:  v.Order.TrackingNumber,
	}, nil
}
