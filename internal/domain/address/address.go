// Package address holds user shipping addresses and the resolution rules
// used when an order names or embeds an address.
package address

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an address does not exist or belongs to
// another user.
var ErrNotFound = errors.New("address not found")

// Fields is the content of an address. Two addresses with equal Fields are
// the same address.
type Fields struct {
	FullName     string
	Phone        string
	AddressLine1 string
	AddressLine2 *string
	City         string
	State        string
	PostalCode   string
	Country      string
}

// Line2 returns address line 2 with NULL folded into the empty string.
func (f Fields) Line2() string {
	if f.AddressLine2 == nil {
		return ""
	}
	return *f.AddressLine2
}

// Equal compares content, treating a missing and an empty line 2 as equal.
func (f Fields) Equal(o Fields) bool {
	return f.FullName == o.FullName &&
		f.Phone == o.Phone &&
		f.AddressLine1 == o.AddressLine1 &&
		f.Line2() == o.Line2() &&
		f.City == o.City &&
		f.State == o.State &&
		f.PostalCode == o.PostalCode &&
		f.Country == o.Country
}

// Validate reports the first required field that is blank.
func (f Fields) Validate() error {
	required := []struct {
		name, value string
	}{
		{"full_name", f.FullName},
		{"phone", f.Phone},
		{"address_line1", f.AddressLine1},
		{"city", f.City},
		{"state", f.State},
		{"postal_code", f.PostalCode},
		{"country", f.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.Errorf("%s is required", r.name)
		}
	}
	return nil
}

// Address is a stored shipping address.
type Address struct {
	ID        int64
	UserID    int64
	Fields    Fields
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the address persistence contract.
type Store interface {
	Get(ctx context.Context, id int64) (*Address, error)
	FindIdentical(ctx context.Context, userID int64, f Fields) (*Address, error)
	Insert(ctx context.Context, userID int64, f Fields, isDefault bool, at time.Time) (*Address, error)
	// UnsetOtherDefaults clears the default flag on every address of userID
	// except keepID.
	UnsetOtherDefaults(ctx context.Context, userID, keepID int64) error
	SetDefault(ctx context.Context, id int64, at time.Time) error
}

// Resolve returns the address an order ships to. With id set it must be one
// of userID's addresses; otherwise inline content is reused when an identical
// address exists and inserted when not. A default inline address becomes the
// user's only default. All calls run on st, so the caller's transaction
// covers them.
func Resolve(ctx context.Context, st Store, userID int64, id *int64, inline *Fields, makeDefault bool, now time.Time) (*Address, error) {
	if id != nil {
		a, err := st.Get(ctx, *id)
		if err != nil {
			return nil, err
		}
		if a.UserID != userID {
			return nil, ErrNotFound
		}
		return a, nil
	}
	if inline == nil {
		return nil, errors.New("shipping address required")
	}

	a, err := st.FindIdentical(ctx, userID, *inline)
	switch {
	case errors.Is(err, ErrNotFound):
		// At most one default per user: clear before the new row claims it.
		if makeDefault {
			if err := st.UnsetOtherDefaults(ctx, userID, 0); err != nil {
				return nil, errors.Wrap(err, "unset other defaults")
			}
		}
		a, err = st.Insert(ctx, userID, *inline, makeDefault, now)
		if err != nil {
			return nil, errors.Wrap(err, "insert address")
		}
	case err != nil:
		return nil, errors.Wrap(err, "find address")
	case makeDefault && !a.IsDefault:
		if err := st.UnsetOtherDefaults(ctx, userID, a.ID); err != nil {
			return nil, errors.Wrap(err, "unset other defaults")
		}
		if err := st.SetDefault(ctx, a.ID, now); err != nil {
			return nil, errors.Wrap(err, "set default address")
		}
		a.IsDefault = true
	}
	return a, nil
}
