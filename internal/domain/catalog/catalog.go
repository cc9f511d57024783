// Package catalog describes items, their purchasable variants and variant
// images. Items carry no price or stock; both live on variants.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrItemNotFound is returned when a requested item does not exist.
	ErrItemNotFound = errors.New("item not found")
	// ErrVariantNotFound is returned when a requested variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrInsufficientStock is returned by TryDecrementStock when the stored
	// stock is lower than the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Item is a catalog entry owned by a shop owner.
type Item struct {
	ID          int64
	Title       string
	Description *string
	OwnerID     int64
}

// Variant is a size/color SKU of an item: the unit that carries price and
// stock.
type Variant struct {
	ID       int64
	ItemID   int64
	Size     *string
	Color    *string
	Price    decimal.NullDecimal
	Stock    int
	ImageURL *string
}

// Image is one entry of a variant's image set.
type Image struct {
	ID           int64
	VariantID    int64
	URL          string
	DisplayOrder int
	IsPrimary    bool
}

// PrimaryImage picks the variant's primary image: the flagged primary image,
// else the lowest display order, else the variant's own image url.
func PrimaryImage(v Variant, images []Image) *string {
	var best *Image
	for i := range images {
		img := &images[i]
		switch {
		case best == nil:
			best = img
		case img.IsPrimary && !best.IsPrimary:
			best = img
		case img.IsPrimary == best.IsPrimary && img.DisplayOrder < best.DisplayOrder:
			best = img
		}
	}
	if best != nil {
		return &best.URL
	}
	return v.ImageURL
}

// Store is the catalog persistence contract used by the order core. Every
// method runs on the connection or transaction the store is bound to.
type Store interface {
	GetItem(ctx context.Context, id int64) (*Item, error)
	GetVariant(ctx context.Context, id int64) (*Variant, error)
	ListVariantsForItem(ctx context.Context, itemID int64) ([]Variant, error)
	// TryDecrementStock lowers the variant stock by qty and returns the new
	// stock, or ErrInsufficientStock if the stored stock is below qty.
	TryDecrementStock(ctx context.Context, variantID int64, qty int) (int, error)
	// RestoreStock raises the variant stock by qty.
	RestoreStock(ctx context.Context, variantID int64, qty int) (int, error)
}
