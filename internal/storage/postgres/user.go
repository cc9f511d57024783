package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/pkg/ist"
)

const getUserSQL = `SELECT id, username, email, role, is_verified, created_at FROM users WHERE id = $1`

var _ auth.UserStore = (*UserRepository)(nil)

// UserRepository provides user lookups backed by PostgreSQL.
type UserRepository struct {
	db DBTX
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: pool}
}

// GetUser returns the user with the given ID or auth.ErrUserNotFound.
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	rows, err := r.db.Query(ctx, getUserSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.User, error) {
		var (
			u    auth.User
			role string
		)
		err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &u.IsVerified, &u.CreatedAt)
		u.Role = auth.Role(role)
		u.CreatedAt = ist.FromWall(u.CreatedAt)
		return u, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	return &u, nil
}
