package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/pkg/ist"
)

const (
	addressColumns = `id, user_id, full_name, phone, address_line1, address_line2, city, state,
		postal_code, country, is_default, created_at, updated_at`

	getAddressSQL = `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1`

	findIdenticalAddressSQL = `SELECT ` + addressColumns + ` FROM addresses
		WHERE user_id = $1 AND full_name = $2 AND phone = $3 AND address_line1 = $4
		AND COALESCE(address_line2, '') = $5 AND city = $6 AND state = $7
		AND postal_code = $8 AND country = $9
		ORDER BY id LIMIT 1`

	insertAddressSQL = `INSERT INTO addresses (user_id, full_name, phone, address_line1, address_line2,
		city, state, postal_code, country, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING ` + addressColumns

	unsetOtherDefaultsSQL = `UPDATE addresses SET is_default = FALSE
		WHERE user_id = $1 AND id <> $2 AND is_default`

	setDefaultAddressSQL = `UPDATE addresses SET is_default = TRUE, updated_at = $2 WHERE id = $1`
)

var _ address.Store = (*AddressRepository)(nil)

// AddressRepository implements address.Store backed by PostgreSQL.
type AddressRepository struct {
	db DBTX
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{db: pool}
}

// Get returns the address with the given ID.
func (r *AddressRepository) Get(ctx context.Context, id int64) (*address.Address, error) {
	return r.one(ctx, fmt.Sprintf("getting address %d", id), getAddressSQL, id)
}

// FindIdentical returns userID's address whose content equals f, treating a
// NULL second line as empty.
func (r *AddressRepository) FindIdentical(ctx context.Context, userID int64, f address.Fields) (*address.Address, error) {
	return r.one(ctx, "finding identical address", findIdenticalAddressSQL,
		userID, f.FullName, f.Phone, f.AddressLine1, f.Line2(), f.City, f.State, f.PostalCode, f.Country)
}

// Insert stores a new address for userID.
func (r *AddressRepository) Insert(ctx context.Context, userID int64, f address.Fields, isDefault bool, at time.Time) (*address.Address, error) {
	return r.one(ctx, "inserting address", insertAddressSQL,
		userID, f.FullName, f.Phone, f.AddressLine1, f.AddressLine2, f.City, f.State, f.PostalCode, f.Country,
		isDefault, ist.Wall(at))
}

// UnsetOtherDefaults clears the default flag on userID's addresses other than
// keepID.
func (r *AddressRepository) UnsetOtherDefaults(ctx context.Context, userID, keepID int64) error {
	if _, err := r.db.Exec(ctx, unsetOtherDefaultsSQL, userID, keepID); err != nil {
		return fmt.Errorf("unsetting default addresses of user %d: %w", userID, err)
	}
	return nil
}

// SetDefault marks the address as its owner's default.
func (r *AddressRepository) SetDefault(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, setDefaultAddressSQL, id, ist.Wall(at))
	if err != nil {
		return fmt.Errorf("setting default address %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return address.ErrNotFound
	}
	return nil
}

func (r *AddressRepository) one(ctx context.Context, op, sql string, args ...any) (*address.Address, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

func scanAddress(row pgx.CollectableRow) (address.Address, error) {
	var a address.Address
	err := row.Scan(
		&a.ID, &a.UserID, &a.Fields.FullName, &a.Fields.Phone, &a.Fields.AddressLine1, &a.Fields.AddressLine2,
		&a.Fields.City, &a.Fields.State, &a.Fields.PostalCode, &a.Fields.Country,
		&a.IsDefault, &a.CreatedAt, &a.UpdatedAt,
	)
	a.CreatedAt = ist.FromWall(a.CreatedAt)
	a.UpdatedAt = ist.FromWall(a.UpdatedAt)
	return a, err
}
