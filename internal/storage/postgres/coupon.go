package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/pkg/ist"
)

const (
	couponColumns = `id, code, description, discount_type, value, active, start_at, end_at,
		min_order_amount, max_uses, used_count, created_by, created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE $1::BIGINT IS NULL OR created_by = $1 ORDER BY created_at DESC, id DESC`

	consumeCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND used_count = $2 AND (max_uses = 0 OR used_count < max_uses)
		RETURNING used_count`

	insertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, active, start_at, end_at,
		min_order_amount, max_uses, used_count, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $11)
		RETURNING id`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, active, start_at, end_at,
		min_order_amount, max_uses, used_count, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $11)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			active = EXCLUDED.active,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			min_order_amount = EXCLUDED.min_order_amount,
			max_uses = GREATEST(EXCLUDED.max_uses, coupons.used_count),
			updated_at = EXCLUDED.updated_at`

	setCouponActiveSQL = `UPDATE coupons SET active = $2, updated_at = $3 WHERE id = $1
		RETURNING ` + couponColumns
)

var _ coupon.ManageStore = (*CouponRepository)(nil)

// CouponRepository implements coupon.ManageStore backed by PostgreSQL.
type CouponRepository struct {
	db DBTX
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: pool}
}

// FindByCode looks up a coupon by its exact code, active or not.
// Returns coupon.ErrNotFound when no coupon has that code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, fmt.Sprintf("finding coupon by code %q", code), getCouponByCodeSQL, code)
}

// Get returns the coupon with the given ID.
func (r *CouponRepository) Get(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return r.one(ctx, fmt.Sprintf("getting coupon %d", id), getCouponSQL, id)
}

// TryConsume advances used_count with a compare-and-set on the value read by
// the caller. A lost race or a reached cap affects no row and yields
// coupon.ErrContention.
func (r *CouponRepository) TryConsume(ctx context.Context, id int64, expectedUsed int) (int, error) {
	var used int
	err := r.db.QueryRow(ctx, consumeCouponSQL, id, expectedUsed).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, coupon.ErrContention
		}
		return 0, fmt.Errorf("consuming coupon %d: %w", id, err)
	}
	return used, nil
}

// Create inserts c and fills its ID. A duplicate code yields
// coupon.ErrCodeTaken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := r.db.QueryRow(ctx, insertCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.Value, c.Active,
		ist.WallPtr(c.StartAt), ist.WallPtr(c.EndAt), c.MinOrderAmount, c.MaxUses,
		c.CreatedBy, ist.Wall(c.CreatedAt),
	).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	c.UsedCount = 0
	c.UpdatedAt = c.CreatedAt
	return nil
}

// UpsertMany inserts or redefines coupons by code in one round trip. Usage
// counters and the creator of existing coupons are preserved, and max_uses is
// never lowered below the current usage.
func (r *CouponRepository) UpsertMany(ctx context.Context, coupons []coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			c.Code, c.Description, string(c.DiscountType), c.Value, c.Active,
			ist.WallPtr(c.StartAt), ist.WallPtr(c.EndAt), c.MinOrderAmount, c.MaxUses,
			c.CreatedBy, ist.Wall(c.CreatedAt),
		)
	}

	br := r.db.SendBatch(ctx, batch)
	for _, c := range coupons {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing coupon batch: %w", err)
	}
	return nil
}

// List returns the coupons created by createdBy, or every coupon when nil.
func (r *CouponRepository) List(ctx context.Context, createdBy *int64) ([]coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, listCouponsSQL, createdBy)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// SetActive flips the active flag and returns the updated coupon.
func (r *CouponRepository) SetActive(ctx context.Context, id int64, active bool, at time.Time) (*coupon.Coupon, error) {
	return r.one(ctx, fmt.Sprintf("updating coupon %d", id), setCouponActiveSQL, id, active, ist.Wall(at))
}

func (r *CouponRepository) one(ctx context.Context, op, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Value, &c.Active, &c.StartAt, &c.EndAt,
		&c.MinOrderAmount, &c.MaxUses, &c.UsedCount, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.StartAt = ist.FromWallPtr(c.StartAt)
	c.EndAt = ist.FromWallPtr(c.EndAt)
	c.CreatedAt = ist.FromWall(c.CreatedAt)
	c.UpdatedAt = ist.FromWall(c.UpdatedAt)
	return c, err
}
