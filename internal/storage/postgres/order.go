package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/catalog"
	"github.com/cartstream/storefront/internal/domain/order"
	"github.com/cartstream/storefront/pkg/ist"
)

const (
	orderColumns = `o.id, o.customer_id, o.status, o.order_date, o.subtotal, o.discount, o.shipping_charge,
		o.total_price, o.coupon_code, o.shipping_address_id, o.transaction_id, o.tracking_number, o.updated_at`

	insertOrderSQL = `INSERT INTO orders (customer_id, status, order_date, subtotal, discount, shipping_charge,
		total_price, coupon_code, shipping_address_id, transaction_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, item_id, variant_id, quantity, unit_price, line_total_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1 FOR UPDATE`

	listOrderLinesSQL = `SELECT id, order_id, item_id, variant_id, quantity, unit_price, line_total_price
		FROM order_items WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $3, tracking_number = COALESCE($4, tracking_number), updated_at = $5
		WHERE id = $1 AND status = $2`

	hasOwnerLineSQL = `SELECT EXISTS (
		SELECT 1 FROM order_items oi JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id = $1 AND i.owner_id = $2)`

	listOrdersSQL = `SELECT ` + orderColumns + `, u.username
		FROM orders o JOIN users u ON u.id = o.customer_id
		WHERE ($1::BIGINT IS NULL OR o.id = $1)
		AND ($2::BIGINT IS NULL OR o.customer_id = $2)
		AND ($3::BIGINT IS NULL OR EXISTS (
			SELECT 1 FROM order_items oi JOIN items i ON i.id = oi.item_id
			WHERE oi.order_id = o.id AND i.owner_id = $3))
		ORDER BY o.order_date DESC, o.id DESC`

	listLineViewsSQL = `SELECT oi.id, oi.order_id, oi.item_id, oi.variant_id, oi.quantity, oi.unit_price,
		oi.line_total_price, i.title, i.owner_id, ow.username, v.size, v.color, v.price, v.image_url
		FROM order_items oi
		JOIN items i ON i.id = oi.item_id
		JOIN users ow ON ow.id = i.owner_id
		LEFT JOIN product_variants v ON v.id = oi.variant_id
		WHERE oi.order_id = ANY($1) AND ($2::BIGINT IS NULL OR i.owner_id = $2)
		ORDER BY oi.order_id, oi.id`

	listAddressesByIDSQL = `SELECT ` + addressColumns + ` FROM addresses WHERE id = ANY($1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: pool}
}

// Insert persists a new order and its lines, filling in the generated IDs.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	err := r.db.QueryRow(ctx, insertOrderSQL,
		o.CustomerID, string(o.Status), ist.Wall(o.OrderDate), o.Subtotal, o.Discount, o.ShippingCharge,
		o.TotalPrice, o.CouponCode, o.ShippingAddressID, o.TransactionID, ist.Wall(o.UpdatedAt),
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		err := r.db.QueryRow(ctx, insertOrderItemSQL,
			o.ID, l.ItemID, l.VariantID, l.Quantity, l.UnitPrice, l.LineTotal,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("creating line %d of order %d: %w", i, o.ID, err)
		}
	}
	return nil
}

// GetForUpdate loads the order with its lines and locks the order row until
// the surrounding transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.db.Query(ctx, getOrderForUpdateSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	rows, err = r.db.Query(ctx, listOrderLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", id, err)
	}
	o.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var l order.Line
		err := row.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.VariantID, &l.Quantity, &l.UnitPrice, &l.LineTotal)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus moves the order from one status to another. The tracking
// number is only overwritten when a new one is given.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to order.Status, tracking *string, at time.Time) error {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to), tracking, ist.Wall(at))
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// HasOwnerLine reports whether the order contains an item owned by ownerID.
func (r *OrderRepository) HasOwnerLine(ctx context.Context, orderID, ownerID int64) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, hasOwnerLineSQL, orderID, ownerID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking owner %d on order %d: %w", ownerID, orderID, err)
	}
	return ok, nil
}

// List returns the orders matching f, newest first, with their lines, item
// and variant attributes and shipping address. With f.OwnerID set only that
// owner's lines are attached.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.View, error) {
	rows, err := r.db.Query(ctx, listOrdersSQL, f.OrderID, f.CustomerID, f.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	views, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.View, error) {
		var v order.View
		o, err := scanOrderRow(row, &v.CustomerUsername)
		v.Order = o
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if len(views) == 0 {
		return nil, nil
	}

	var (
		orderIDs   = make([]int64, len(views))
		addressIDs []int64
		byID       = make(map[int64]*order.View, len(views))
	)
	for i := range views {
		v := &views[i]
		orderIDs[i] = v.Order.ID
		byID[v.Order.ID] = v
		if v.Order.ShippingAddressID != nil {
			addressIDs = append(addressIDs, *v.Order.ShippingAddressID)
		}
	}

	lines, err := r.lineViews(ctx, orderIDs, f.OwnerID)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		v := byID[l.OrderID]
		v.Lines = append(v.Lines, l)
	}

	if len(addressIDs) > 0 {
		rows, err := r.db.Query(ctx, listAddressesByIDSQL, addressIDs)
		if err != nil {
			return nil, fmt.Errorf("listing order addresses: %w", err)
		}
		addrs, err := pgx.CollectRows(rows, scanAddress)
		if err != nil {
			return nil, fmt.Errorf("listing order addresses: %w", err)
		}
		byAddr := make(map[int64]address.Address, len(addrs))
		for _, a := range addrs {
			byAddr[a.ID] = a
		}
		for i := range views {
			if id := views[i].Order.ShippingAddressID; id != nil {
				if a, ok := byAddr[*id]; ok {
					views[i].ShippingAddress = &a
				}
			}
		}
	}
	return views, nil
}

func (r *OrderRepository) lineViews(ctx context.Context, orderIDs []int64, ownerID *int64) ([]order.LineView, error) {
	rows, err := r.db.Query(ctx, listLineViewsSQL, orderIDs, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing order lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.LineView, error) {
		var l order.LineView
		err := row.Scan(
			&l.ID, &l.OrderID, &l.ItemID, &l.VariantID, &l.Quantity, &l.UnitPrice, &l.LineTotal,
			&l.ItemTitle, &l.OwnerID, &l.OwnerName, &l.VariantSize, &l.VariantColor, &l.VariantPrice, &l.ImageURL,
		)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing order lines: %w", err)
	}

	variantIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		variantIDs = append(variantIDs, l.VariantID)
	}
	images, err := imagesFor(ctx, r.db, variantIDs)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		l := &lines[i]
		l.ImageURL = catalog.PrimaryImage(catalog.Variant{ImageURL: l.ImageURL}, images[l.VariantID])
	}
	return lines, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	return scanOrderRow(row)
}

func scanOrderRow(row pgx.CollectableRow, extra ...any) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	dest := append([]any{
		&o.ID, &o.CustomerID, &status, &o.OrderDate, &o.Subtotal, &o.Discount, &o.ShippingCharge,
		&o.TotalPrice, &o.CouponCode, &o.ShippingAddressID, &o.TransactionID, &o.TrackingNumber, &o.UpdatedAt,
	}, extra...)
	err := row.Scan(dest...)
	o.Status = order.Status(status)
	o.OrderDate = ist.FromWall(o.OrderDate)
	o.UpdatedAt = ist.FromWall(o.UpdatedAt)
	return o, err
}
