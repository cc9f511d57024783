package order

import (
	"context"
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/catalog"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/pricing"
	"github.com/cartstream/storefront/pkg/ist"
)

// LineRequest is one requested order line.
type LineRequest struct {
	ItemID    int64
	VariantID int64
	Quantity  int
}

// CreateRequest holds the input for placing an order. Exactly one of
// ShippingAddressID and ShippingAddress must be set.
type CreateRequest struct {
	Items              []LineRequest
	CouponCode         *string
	ShippingAddressID  *int64
	ShippingAddress    *address.Fields
	MakeDefaultAddress bool
	ShippingCharge     decimal.Decimal
	TransactionID      *string
}

func (r *CreateRequest) validate() error {
	if len(r.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}
	for i, l := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case l.ItemID <= 0:
			return &ValidationError{Field: field + ".item_id", Reason: "required"}
		case l.VariantID <= 0:
			return &ValidationError{Field: field + ".variant_id", Reason: "required"}
		case l.Quantity < 1:
			return &ValidationError{Field: field + ".quantity", Reason: "must be at least 1"}
		}
	}
	switch {
	case r.ShippingAddressID == nil && r.ShippingAddress == nil:
		return &ValidationError{Field: "shipping_address", Reason: "shipping_address or shipping_address_id required"}
	case r.ShippingAddressID != nil && r.ShippingAddress != nil:
		return &ValidationError{Field: "shipping_address", Reason: "give either shipping_address or shipping_address_id, not both"}
	case r.ShippingAddressID == nil:
		if err := r.ShippingAddress.Validate(); err != nil {
			return &ValidationError{Field: "shipping_address", Reason: err.Error()}
		}
	}
	if r.ShippingCharge.IsNegative() {
		return &ValidationError{Field: "shipping_charge", Reason: "must not be negative"}
	}
	if r.CouponCode != nil && strings.TrimSpace(*r.CouponCode) == "" {
		r.CouponCode = nil
	}
	return nil
}

// Service is the order lifecycle engine: it owns the creation transaction,
// status transitions and the role-scoped reads.
type Service struct {
	tx       Transactor
	reader   Reader
	notifier Notifier
	tel      *Telemetry
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(tx Transactor, reader Reader, notifier Notifier, tel *Telemetry) *Service {
	return &Service{
		tx:       tx,
		reader:   reader,
		notifier: notifier,
		tel:      tel,
		now:      ist.Now,
	}
}

// resolvedLine is a requested line with its loaded catalog rows.
type resolvedLine struct {
	req     LineRequest
	item    *catalog.Item
	variant *catalog.Variant
}

type lineKey struct {
	itemID, variantID int64
}

type lowStockAlert struct {
	item  *catalog.Item
	stock int
}

// stockTake is the total quantity taken from one variant by an order.
type stockTake struct {
	line     resolvedLine
	quantity int
}

// stockTakes merges lines per variant, ordered by variant id so concurrent
// orders lock variant rows in the same order.
func stockTakes(lines []resolvedLine) []stockTake {
	idx := make(map[int64]int, len(lines))
	var out []stockTake
	for _, l := range lines {
		if i, ok := idx[l.variant.ID]; ok {
			out[i].quantity += l.req.Quantity
			continue
		}
		idx[l.variant.ID] = len(out)
		out = append(out, stockTake{line: l, quantity: l.req.Quantity})
	}
	slices.SortFunc(out, func(a, b stockTake) int {
		return cmp.Compare(a.line.variant.ID, b.line.variant.ID)
	})
	return out
}

// Create places an order for a customer. Everything up to the coupon
// increment runs in one transaction; any error rolls all of it back. Email
// goes out only after commit.
func (s *Service) Create(ctx context.Context, p auth.Principal, req CreateRequest) (*Order, error) {
	ctx, span := s.tel.tracer.Start(ctx, "order.Create")
	defer span.End()

	if err := p.Require(auth.RoleCustomer); err != nil {
		return nil, s.reject(ctx, err)
	}
	if err := req.validate(); err != nil {
		return nil, s.reject(ctx, err)
	}

	var (
		created *Order
		emails  []notify.Email
		alerts  int
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()

		lines, err := resolveLines(ctx, tx.Catalog(), req.Items)
		if err != nil {
			return err
		}

		addr, err := address.Resolve(ctx, tx.Addresses(), p.UserID,
			req.ShippingAddressID, req.ShippingAddress, req.MakeDefaultAddress, now)
		if err != nil {
			if errors.Is(err, address.ErrNotFound) {
				id := int64(0)
				if req.ShippingAddressID != nil {
					id = *req.ShippingAddressID
				}
				return &NotFoundError{Kind: "address", ID: id}
			}
			return errors.Wrap(err, "resolve address")
		}

		priced := make([]pricing.Line, len(lines))
		for i, l := range lines {
			priced[i] = pricing.Line{UnitPrice: l.variant.Price.Decimal, Quantity: l.req.Quantity}
		}

		var cp *coupon.Coupon
		if req.CouponCode != nil {
			cp, err = resolveCoupon(ctx, tx.Coupons(), *req.CouponCode, now, pricing.Subtotal(priced))
			if err != nil {
				return err
			}
		}

		totals, err := pricing.Evaluate(priced, cp, req.ShippingCharge)
		if err != nil {
			return &ValidationError{Field: "pricing", Reason: err.Error()}
		}

		o := &Order{
			CustomerID:        p.UserID,
			Status:            StatusPending,
			OrderDate:         now,
			Subtotal:          totals.Subtotal,
			Discount:          totals.Discount,
			ShippingCharge:    totals.Shipping,
			TotalPrice:        totals.Final,
			ShippingAddressID: &addr.ID,
			TransactionID:     req.TransactionID,
			UpdatedAt:         now,
			Lines:             make([]Line, len(lines)),
		}
		if cp != nil {
			code := cp.Code
			o.CouponCode = &code
		}
		for i, l := range lines {
			o.Lines[i] = Line{
				ItemID:    l.item.ID,
				VariantID: l.variant.ID,
				Quantity:  l.req.Quantity,
				UnitPrice: priced[i].UnitPrice,
				LineTotal: totals.LineTotals[i],
			}
		}
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		var lowStock []lowStockAlert
		for _, take := range stockTakes(lines) {
			l := take.line
			stock, err := tx.Catalog().TryDecrementStock(ctx, l.variant.ID, take.quantity)
			if err != nil {
				if errors.Is(err, catalog.ErrInsufficientStock) {
					return outOfStock(ctx, tx.Catalog(), l, take.quantity)
				}
				return errors.Wrapf(err, "decrement stock of variant %d", l.variant.ID)
			}
			if stock < LowStockThreshold {
				lowStock = append(lowStock, lowStockAlert{item: l.item, stock: stock})
			}
		}

		if cp != nil {
			if _, err := tx.Coupons().TryConsume(ctx, cp.ID, cp.UsedCount); err != nil {
				if errors.Is(err, coupon.ErrContention) {
					return err
				}
				return errors.Wrap(err, "consume coupon")
			}
		}

		msgs := creationMessages(ctx, tx.Users(), p, o, lines, lowStock)
		emails = s.notifier.Stage(ctx, tx.Notifications(), msgs...)
		alerts = len(lowStock)
		created = o
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	s.tel.created.Add(ctx, 1)
	if alerts > 0 {
		s.tel.lowStock.Add(ctx, int64(alerts))
	}
	s.notifier.Enqueue(ctx, emails...)

	zctx.From(ctx).Info("Order placed",
		zap.Int64("order_id", created.ID),
		zap.Int64("customer_id", created.CustomerID),
		zap.String("total", created.TotalPrice.StringFixed(2)),
	)
	return created, nil
}

func (s *Service) reject(ctx context.Context, err error) error {
	s.tel.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(err))))
	return err
}

// outOfStock reports a failed decrement with the stock left after any
// concurrent order, falling back to the stock read earlier.
func outOfStock(ctx context.Context, st catalog.Store, l resolvedLine, requested int) error {
	available := l.variant.Stock
	if v, err := st.GetVariant(ctx, l.variant.ID); err == nil {
		available = v.Stock
	}
	return &OutOfStockError{
		ItemID:    l.item.ID,
		VariantID: l.variant.ID,
		Requested: requested,
		Available: available,
	}
}

// resolveLines loads and checks the catalog rows of every requested line.
// Rows are cached per (item, variant) so a repeated pair is read once, and
// stock is checked against the running total per variant.
func resolveLines(ctx context.Context, st catalog.Store, reqs []LineRequest) ([]resolvedLine, error) {
	cache := make(map[lineKey]resolvedLine, len(reqs))
	wanted := make(map[int64]int, len(reqs))
	out := make([]resolvedLine, 0, len(reqs))
	for _, r := range reqs {
		key := lineKey{itemID: r.ItemID, variantID: r.VariantID}
		rl, ok := cache[key]
		if !ok {
			item, err := st.GetItem(ctx, r.ItemID)
			if err != nil {
				if errors.Is(err, catalog.ErrItemNotFound) {
					return nil, &NotFoundError{Kind: "item", ID: r.ItemID}
				}
				return nil, errors.Wrapf(err, "get item %d", r.ItemID)
			}
			variant, err := st.GetVariant(ctx, r.VariantID)
			if err != nil {
				if errors.Is(err, catalog.ErrVariantNotFound) {
					return nil, &NotFoundError{Kind: "variant", ID: r.VariantID}
				}
				return nil, errors.Wrapf(err, "get variant %d", r.VariantID)
			}
			rl = resolvedLine{item: item, variant: variant}
			cache[key] = rl
		}
		rl.req = r

		if rl.variant.ItemID != rl.item.ID {
			return nil, &ValidationError{
				Field:  "variant_id",
				Reason: fmt.Sprintf("variant %d does not belong to item %d", rl.variant.ID, rl.item.ID),
			}
		}
		if !rl.variant.Price.Valid {
			return nil, &ValidationError{
				Field:  "variant_id",
				Reason: fmt.Sprintf("variant %d has no price", rl.variant.ID),
			}
		}
		wanted[rl.variant.ID] += r.Quantity
		if rl.variant.Stock < wanted[rl.variant.ID] {
			return nil, &OutOfStockError{
				ItemID:    rl.item.ID,
				VariantID: rl.variant.ID,
				Requested: wanted[rl.variant.ID],
				Available: rl.variant.Stock,
			}
		}
		out = append(out, rl)
	}
	return out, nil
}

func resolveCoupon(ctx context.Context, st coupon.Store, code string, now time.Time, subtotal decimal.Decimal) (*coupon.Coupon, error) {
	cp, err := st.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, &coupon.InvalidError{Code: code, Reason: coupon.ReasonNotFound}
		}
		return nil, errors.Wrap(err, "find coupon")
	}
	if err := cp.Check(now, subtotal); err != nil {
		return nil, err
	}
	return cp, nil
}

// creationMessages builds the customer confirmation, one confirmation per
// shop owner covering only their lines, and the low stock alerts. A failed
// owner lookup drops that owner's email but keeps the in-app message.
func creationMessages(
	ctx context.Context,
	users auth.UserStore,
	p auth.Principal,
	o *Order,
	lines []resolvedLine,
	lowStock []lowStockAlert,
) []notify.Message {
	lg := zctx.From(ctx)
	total := o.TotalPrice.StringFixed(2)

	customerEmail := notify.OrderConfirmation(p.Email, o.ID, summarize(o.Lines, lines, 0), total, false)
	msgs := []notify.Message{{
		UserID: p.UserID,
		Text:   fmt.Sprintf("Your order #%d has been placed successfully. Total: %s", o.ID, total),
		Email:  &customerEmail,
	}}

	owners := make(map[int64]*auth.User)
	ownerEmail := func(id int64) string {
		u, ok := owners[id]
		if !ok {
			var err error
			if u, err = users.GetUser(ctx, id); err != nil {
				lg.Warn("Lookup shop owner for notification", zap.Int64("owner_id", id), zap.Error(err))
				u = nil
			}
			owners[id] = u
		}
		if u == nil {
			return ""
		}
		return u.Email
	}

	var ownerOrder []int64
	ownerTotals := make(map[int64]decimal.Decimal)
	ownerCounts := make(map[int64]int)
	for i, l := range lines {
		id := l.item.OwnerID
		if _, seen := ownerTotals[id]; !seen {
			ownerOrder = append(ownerOrder, id)
			ownerTotals[id] = decimal.Zero
		}
		ownerTotals[id] = ownerTotals[id].Add(o.Lines[i].LineTotal)
		ownerCounts[id] += o.Lines[i].Quantity
	}
	for _, id := range ownerOrder {
		m := notify.Message{
			UserID: id,
			Text:   fmt.Sprintf("New order #%d received: %d unit(s) of your items.", o.ID, ownerCounts[id]),
		}
		if to := ownerEmail(id); to != "" {
			e := notify.OrderConfirmation(to, o.ID, summarize(o.Lines, lines, id), ownerTotals[id].StringFixed(2), true)
			m.Email = &e
		}
		msgs = append(msgs, m)
	}

	for _, a := range lowStock {
		m := notify.Message{
			UserID: a.item.OwnerID,
			Text:   notify.LowStockText(a.item.Title, a.stock),
		}
		if to := ownerEmail(a.item.OwnerID); to != "" {
			e := notify.LowStock(to, a.item.Title, a.stock)
			m.Email = &e
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// summarize lists the order lines, restricted to ownerID's items when it is
// non-zero.
func summarize(ls []Line, resolved []resolvedLine, ownerID int64) string {
	var b strings.Builder
	for i, l := range ls {
		r := resolved[i]
		if ownerID != 0 && r.item.OwnerID != ownerID {
			continue
		}
		fmt.Fprintf(&b, "- %s%s x%d: %s\n", r.item.Title, variantLabel(r.variant), l.Quantity, l.LineTotal.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

func variantLabel(v *catalog.Variant) string {
	var parts []string
	if v.Size != nil && *v.Size != "" {
		parts = append(parts, *v.Size)
	}
	if v.Color != nil && *v.Color != "" {
		parts = append(parts, *v.Color)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "/") + ")"
}

func rejectReason(err error) string {
	var (
		vErr   *ValidationError
		nfErr  *NotFoundError
		oosErr *OutOfStockError
		cpErr  *coupon.InvalidError
	)
	switch {
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &nfErr):
		return "not_found"
	case errors.As(err, &oosErr):
		return "out_of_stock"
	case errors.As(err, &cpErr):
		return "coupon_invalid"
	case errors.Is(err, coupon.ErrContention):
		return "coupon_contention"
	default:
		return "internal"
	}
}
