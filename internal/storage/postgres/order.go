package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

const (
	orderColumns = `id, user_id, seller_id, subtotal, tax_amount, shipping_cost, discount_amount,
		total_amount, refunded_amount, status, payment_status, coupon_id, coupon_code,
		tracking_number, cancellation_reason, shipped_at, delivered_at, cancelled_at,
		version, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1, $19, $20)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, position, product_id, variant_id, name,
		sku, image_url, category_id, quantity, unit_price, total_price, discount, tax)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, product_id, variant_id, name, sku, image_url, category_id,
		quantity, unit_price, total_price, discount, tax
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderSQL = `UPDATE orders SET
			status = $3, payment_status = $4, refunded_amount = $5, tracking_number = $6,
			cancellation_reason = $7, shipped_at = $8, delivered_at = $9, cancelled_at = $10,
			updated_at = $11, version = version + 1
		WHERE id = $1 AND version = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items are written once at creation and never updated.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its line items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := atomic(ctx, r.pool, func(q pgx.Tx) error {
		_, err := q.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.SellerID, o.Subtotal, o.TaxAmount, o.ShippingCost, o.DiscountAmount,
			o.TotalAmount, o.RefundedAmount, string(o.Status), string(o.PaymentStatus),
			o.CouponID, o.CouponCode, o.TrackingNumber, o.CancellationReason,
			o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		b := &pgx.Batch{}
		for i, it := range o.Items {
			b.Queue(insertOrderItemSQL,
				it.ID, o.ID, i, it.ProductID, it.VariantID, it.Name, it.SKU, it.ImageURL, it.CategoryID,
				it.Quantity, it.UnitPrice, it.TotalPrice, it.Discount, it.Tax,
			)
		}
		if err := q.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("creating items of order %q: %w", o.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.Version = 1
	return nil
}

// Get returns the order with its line items in checkout order.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

// Update writes the mutable fields guarded by the version column.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	tag, err := q.Exec(ctx, updateOrderSQL,
		o.ID, o.Version, string(o.Status), string(o.PaymentStatus), o.RefundedAmount,
		o.TrackingNumber, o.CancellationReason, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 1 {
		o.Version++
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", o.ID, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return &order.ConcurrencyConflictError{Entity: "order", ID: o.ID}
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.SellerID, &o.Subtotal, &o.TaxAmount, &o.ShippingCost, &o.DiscountAmount,
		&o.TotalAmount, &o.RefundedAmount, &status, &paymentStatus, &o.CouponID, &o.CouponCode,
		&o.TrackingNumber, &o.CancellationReason, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}

func scanLineItem(row pgx.CollectableRow) (order.LineItem, error) {
	var it order.LineItem
	err := row.Scan(
		&it.ID, &it.ProductID, &it.VariantID, &it.Name, &it.SKU, &it.ImageURL, &it.CategoryID,
		&it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.Discount, &it.Tax,
	)
	return it, err
}
