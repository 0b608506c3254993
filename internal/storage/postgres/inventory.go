package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
)

const (
	getUnitSQL = `SELECT product_id, variant_id, on_hand, low_stock_threshold, status
		FROM inventory_units WHERE product_id = $1 AND variant_id = $2`

	getOnHandSQL = `SELECT on_hand FROM inventory_units WHERE product_id = $1 AND variant_id = $2`

	productOnHandSQL = `SELECT COALESCE(SUM(on_hand), 0) FROM inventory_units WHERE product_id = $1`

	decrementSQL = `UPDATE inventory_units
		SET on_hand = on_hand - $3,
			status = CASE WHEN on_hand - $3 > 0 THEN 'active' ELSE 'out_of_stock' END,
			updated_at = now()
		WHERE product_id = $1 AND variant_id = $2 AND on_hand >= $3
		RETURNING on_hand`

	incrementSQL = `UPDATE inventory_units
		SET on_hand = on_hand + $3,
			status = CASE WHEN on_hand + $3 > 0 THEN 'active' ELSE 'out_of_stock' END,
			updated_at = now()
		WHERE product_id = $1 AND variant_id = $2
		RETURNING on_hand`

	upsertUnitSQL = `INSERT INTO inventory_units (product_id, variant_id, on_hand, low_stock_threshold, status)
		VALUES ($1, $2, $3::int, $4, CASE WHEN $3::int > 0 THEN 'active' ELSE 'out_of_stock' END)
		ON CONFLICT (product_id, variant_id) DO UPDATE SET
			on_hand = EXCLUDED.on_hand, low_stock_threshold = EXCLUDED.low_stock_threshold,
			status = EXCLUDED.status, updated_at = now()`
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository with single-statement
// conditional updates.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) Get(ctx context.Context, key inventory.Key) (*inventory.Unit, error) {
	var (
		u      inventory.Unit
		status string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, getUnitSQL, key.ProductID, key.VariantID).Scan(
		&u.Key.ProductID, &u.Key.VariantID, &u.OnHand, &u.LowStockThreshold, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrUnitNotFound
		}
		return nil, fmt.Errorf("getting inventory unit %q: %w", key, err)
	}
	u.Status = inventory.Status(status)
	return &u, nil
}

func (r *InventoryRepository) Decrement(ctx context.Context, key inventory.Key, qty int) (int, error) {
	q := conn(ctx, r.pool)

	var onHand int
	err := q.QueryRow(ctx, decrementSQL, key.ProductID, key.VariantID, qty).Scan(&onHand)
	if err == nil {
		return onHand, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrementing inventory unit %q: %w", key, err)
	}

	// The guard failed: either the unit is missing or stock is short.
	if err := q.QueryRow(ctx, getOnHandSQL, key.ProductID, key.VariantID).Scan(&onHand); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, inventory.ErrUnitNotFound
		}
		return 0, fmt.Errorf("reading inventory unit %q: %w", key, err)
	}
	return 0, &inventory.InsufficientStockError{
		ProductID: key.ProductID,
		VariantID: key.VariantID,
		Requested: qty,
		Available: onHand,
	}
}

func (r *InventoryRepository) Increment(ctx context.Context, key inventory.Key, qty int) (int, error) {
	var onHand int
	err := conn(ctx, r.pool).QueryRow(ctx, incrementSQL, key.ProductID, key.VariantID, qty).Scan(&onHand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, inventory.ErrUnitNotFound
		}
		return 0, fmt.Errorf("incrementing inventory unit %q: %w", key, err)
	}
	return onHand, nil
}

func (r *InventoryRepository) ProductOnHand(ctx context.Context, productID string) (int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, productOnHandSQL, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing stock of product %q: %w", productID, err)
	}
	return total, nil
}

// Upsert sets a unit's on-hand amount and threshold. Status follows OnHand.
func (r *InventoryRepository) Upsert(ctx context.Context, u inventory.Unit) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertUnitSQL,
		u.Key.ProductID, u.Key.VariantID, u.OnHand, u.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("upserting inventory unit %q: %w", u.Key, err)
	}
	return nil
}
