// Package auth defines roles, the authenticated principal and the role gate
// applied at every service entry point.
package auth

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Role is one of the three mutually exclusive user roles.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleShopOwner Role = "shop_owner"
	RoleCustomer  Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleShopOwner, RoleCustomer:
		return true
	}
	return false
}

var (
	// ErrForbidden is returned when the caller's role does not allow the
	// requested operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUserNotFound is returned by UserStore when no user has the given id.
	ErrUserNotFound = errors.New("user not found")
)

// User is the stored account row. The role field is authoritative.
type User struct {
	ID         int64
	Username   string
	Email      string
	Role       Role
	IsVerified bool
	CreatedAt  time.Time
}

// Principal is the authenticated caller of a service operation.
type Principal struct {
	UserID   int64
	Username string
	Email    string
	Role     Role
}

// PrincipalOf builds the principal for a loaded user.
func PrincipalOf(u *User) Principal {
	return Principal{UserID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}

// Require returns ErrForbidden unless the principal holds one of roles.
func (p Principal) Require(roles ...Role) error {
	if slices.Contains(roles, p.Role) {
		return nil
	}
	return errors.Wrapf(ErrForbidden, "role %q", p.Role)
}

// Is reports whether the principal has role r.
func (p Principal) Is(r Role) bool { return p.Role == r }

// UserStore provides lookup of users by id.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
