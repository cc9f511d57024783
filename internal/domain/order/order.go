package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/catalog"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
)

// LowStockThreshold is the stock level below which a decrement alerts the
// item owner.
const LowStockThreshold = 5

// Order is a placed order. Totals are captured at creation and never
// recomputed.
type Order struct {
	ID                int64
	CustomerID        int64
	Status            Status
	OrderDate         time.Time
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	ShippingCharge    decimal.Decimal
	TotalPrice        decimal.Decimal
	CouponCode        *string
	ShippingAddressID *int64
	TransactionID     *string
	TrackingNumber    *string
	UpdatedAt         time.Time
	Lines             []Line
}

// Line is one immutable order line with its captured price.
type Line struct {
	ID        int64
	OrderID   int64
	ItemID    int64
	VariantID int64
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// LineView is a line joined with its item and variant attributes.
type LineView struct {
	Line
	ItemTitle    string
	OwnerID      int64
	OwnerName    string
	VariantSize  *string
	VariantColor *string
	VariantPrice decimal.NullDecimal
	ImageURL     *string
}

// View is an order as returned by the role-scoped queries.
type View struct {
	Order            Order
	CustomerUsername string
	ShippingAddress  *address.Address
	Lines            []LineView
}

// Filter scopes List. Nil fields do not filter.
type Filter struct {
	OrderID    *int64
	CustomerID *int64
	// OwnerID keeps orders with at least one line of the owner's items and
	// drops every other owner's lines.
	OwnerID *int64
}

// Reader serves the read-only order queries.
type Reader interface {
	List(ctx context.Context, f Filter) ([]View, error)
}

// Repository is the order persistence contract bound to a transaction.
type Repository interface {
	Reader
	// Insert stores o and its lines, filling the generated IDs.
	Insert(ctx context.Context, o *Order) error
	// GetForUpdate loads the order with its lines and locks the order row.
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	// UpdateStatus moves the order from one status to another. It returns
	// ErrOrderNotFound when the row is no longer in status from.
	UpdateStatus(ctx context.Context, id int64, from, to Status, tracking *string, at time.Time) error
	// HasOwnerLine reports whether the order has a line of an item owned by
	// ownerID.
	HasOwnerLine(ctx context.Context, orderID, ownerID int64) (bool, error)
}

// Tx gives access to every store bound to one database transaction.
type Tx interface {
	Catalog() catalog.Store
	Coupons() coupon.Store
	Addresses() address.Store
	Orders() Repository
	Notifications() notify.Store
	Users() auth.UserStore
}

// Transactor runs fn inside a single database transaction, committing when
// fn returns nil and rolling back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notifier persists notifications through a transaction-bound store and
// delivers email once the transaction is over.
type Notifier interface {
	Stage(ctx context.Context, st notify.Store, msgs ...notify.Message) []notify.Email
	Enqueue(ctx context.Context, emails ...notify.Email)
}
