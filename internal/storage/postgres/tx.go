package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/catalog"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/order"
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs order work inside one PostgreSQL transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that uses the given pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx begins a read-committed transaction, runs fn with stores bound to it
// and commits when fn returns nil.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, txStores{db: tx})
	})
}

type txStores struct {
	db DBTX
}

func (s txStores) Catalog() catalog.Store { return &CatalogRepository{db: s.db} }
func (s txStores) Coupons() coupon.Store { return &CouponRepository{db: s.db} }
func (s txStores) Addresses() address.Store { return &AddressRepository{db: s.db} }
func (s txStores) Orders() order.Repository { return &OrderRepository{db: s.db} }
func (s txStores) Notifications() notify.Store { return &NotificationRepository{db: s.db} }
func (s txStores) Users() auth.UserStore { return &UserRepository{db: s.db} }
