package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/pkg/ist"
)

var hundred = decimal.NewFromInt(100)

// Service implements coupon redemption checks and coupon management.
type Service struct {
	store ManageStore
	now   func() time.Time
}

// NewService creates a Service backed by the given store, evaluating
// validity windows against the IST clock.
func NewService(store ManageStore) *Service {
	return &Service{store: store, now: ist.Now}
}

// Redeem checks whether code can be applied to an order of orderTotal and
// returns the coupon. It does not consume a use; consumption happens inside
// the order transaction.
func (s *Service) Redeem(ctx context.Context, p auth.Principal, code string, orderTotal decimal.Decimal) (*Coupon, error) {
	if err := p.Require(auth.RoleCustomer); err != nil {
		return nil, err
	}
	c, err := s.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &InvalidError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := c.Check(s.now(), orderTotal); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns an active coupon by code.
func (s *Service) Lookup(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, ErrNotFound
	}
	return c, nil
}

// CreateRequest holds the input for a new coupon definition.
type CreateRequest struct {
	Code           string
	Description    *string
	DiscountType   DiscountType
	Value          decimal.Decimal
	Active         bool
	StartAt        *time.Time
	EndAt          *time.Time
	MinOrderAmount decimal.NullDecimal
	MaxUses        int
}

// Validate checks the coupon definition without touching storage.
func (r CreateRequest) Validate() error {
	code := strings.TrimSpace(r.Code)
	switch {
	case code == "":
		return &ValidationError{Field: "code", Reason: "required"}
	case len(code) > MaxCodeLength:
		return &ValidationError{Field: "code", Reason: "too long"}
	case !r.DiscountType.Valid():
		return &ValidationError{Field: "discount_type", Reason: "must be percentage or fixed"}
	case r.Value.IsNegative():
		return &ValidationError{Field: "discount_value", Reason: "must not be negative"}
	case r.DiscountType == DiscountPercentage && r.Value.GreaterThan(hundred):
		return &ValidationError{Field: "discount_value", Reason: "percentage above 100"}
	case r.MaxUses < 0:
		return &ValidationError{Field: "max_uses", Reason: "must not be negative"}
	case r.MinOrderAmount.Valid && r.MinOrderAmount.Decimal.IsNegative():
		return &ValidationError{Field: "min_order_amount", Reason: "must not be negative"}
	case r.StartAt != nil && r.EndAt != nil && r.EndAt.Before(*r.StartAt):
		return &ValidationError{Field: "end_at", Reason: "before start_at"}
	}
	return nil
}

// Create stores a new coupon owned by the calling shop owner or admin.
func (s *Service) Create(ctx context.Context, p auth.Principal, req CreateRequest) (*Coupon, error) {
	if err := p.Require(auth.RoleShopOwner, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	creator := p.UserID
	c := &Coupon{
		Code:           strings.TrimSpace(req.Code),
		Description:    req.Description,
		DiscountType:   req.DiscountType,
		Value:          req.Value,
		Active:         req.Active,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		MinOrderAmount: req.MinOrderAmount,
		MaxUses:        req.MaxUses,
		CreatedBy:      &creator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// List returns the caller's coupons, or every coupon for an admin.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]Coupon, error) {
	if err := p.Require(auth.RoleShopOwner, auth.RoleAdmin); err != nil {
		return nil, err
	}
	var createdBy *int64
	if p.Is(auth.RoleShopOwner) {
		createdBy = &p.UserID
	}
	return s.store.List(ctx, createdBy)
}

// Toggle flips the active flag. Shop owners may only toggle their own
// coupons.
func (s *Service) Toggle(ctx context.Context, p auth.Principal, id int64) (*Coupon, error) {
	if err := p.Require(auth.RoleShopOwner, auth.RoleAdmin); err != nil {
		return nil, err
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Is(auth.RoleShopOwner) && (c.CreatedBy == nil || *c.CreatedBy != p.UserID) {
		return nil, errors.Wrap(auth.ErrForbidden, "coupon owned by another user")
	}
	return s.store.SetActive(ctx, id, !c.Active, s.now())
}
