package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/catalog"
)

const (
	getItemSQL = `SELECT id, title, description, owner_id FROM items WHERE id = $1`

	variantColumns = `id, item_id, size, color, price, stock, image_url`

	getVariantSQL = `SELECT ` + variantColumns + ` FROM product_variants WHERE id = $1`

	listVariantsForItemSQL = `SELECT ` + variantColumns + ` FROM product_variants
		WHERE item_id = $1 ORDER BY id`

	decrementStockSQL = `UPDATE product_variants SET stock = stock - $2
		WHERE id = $1 AND stock >= $2 RETURNING stock`

	restoreStockSQL = `UPDATE product_variants SET stock = stock + $2
		WHERE id = $1 RETURNING stock`

	listImagesForVariantsSQL = `SELECT id, variant_id, url, display_order, is_primary
		FROM variant_images WHERE variant_id = ANY($1) ORDER BY variant_id, display_order, id`
)

var _ catalog.Store = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Store backed by PostgreSQL.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: pool}
}

// GetItem returns a single item by its identifier.
func (r *CatalogRepository) GetItem(ctx context.Context, id int64) (*catalog.Item, error) {
	rows, err := r.db.Query(ctx, getItemSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}

	it, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrItemNotFound
		}
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}
	return &it, nil
}

// GetVariant returns a single variant by its identifier.
func (r *CatalogRepository) GetVariant(ctx context.Context, id int64) (*catalog.Variant, error) {
	rows, err := r.db.Query(ctx, getVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %d: %w", id, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrVariantNotFound
		}
		return nil, fmt.Errorf("getting variant %d: %w", id, err)
	}
	return &v, nil
}

// ListVariantsForItem returns the variants of an item ordered by ID.
func (r *CatalogRepository) ListVariantsForItem(ctx context.Context, itemID int64) ([]catalog.Variant, error) {
	rows, err := r.db.Query(ctx, listVariantsForItemSQL, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing variants of item %d: %w", itemID, err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// TryDecrementStock lowers the stock in a single conditional update, so two
// concurrent orders can never drive it below zero.
func (r *CatalogRepository) TryDecrementStock(ctx context.Context, variantID int64, qty int) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, decrementStockSQL, variantID, qty).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, catalog.ErrInsufficientStock
		}
		return 0, fmt.Errorf("decrementing stock of variant %d: %w", variantID, err)
	}
	return stock, nil
}

// RestoreStock raises the stock of a variant by qty.
func (r *CatalogRepository) RestoreStock(ctx context.Context, variantID int64, qty int) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, restoreStockSQL, variantID, qty).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, catalog.ErrVariantNotFound
		}
		return 0, fmt.Errorf("restoring stock of variant %d: %w", variantID, err)
	}
	return stock, nil
}

// imagesFor loads the image sets of the given variants keyed by variant ID.
func imagesFor(ctx context.Context, db DBTX, variantIDs []int64) (map[int64][]catalog.Image, error) {
	out := make(map[int64][]catalog.Image)
	if len(variantIDs) == 0 {
		return out, nil
	}
	rows, err := db.Query(ctx, listImagesForVariantsSQL, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("listing variant images: %w", err)
	}
	images, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Image, error) {
		var img catalog.Image
		err := row.Scan(&img.ID, &img.VariantID, &img.URL, &img.DisplayOrder, &img.IsPrimary)
		return img, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing variant images: %w", err)
	}
	for _, img := range images {
		out[img.VariantID] = append(out[img.VariantID], img)
	}
	return out, nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var it catalog.Item
	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.OwnerID)
	return it, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ItemID, &v.Size, &v.Color, &v.Price, &v.Stock, &v.ImageURL)
	return v, err
}
