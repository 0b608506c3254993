package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

const (
	productColumns = `id, seller_id, name, sku, image_url, category_id, price, status`

	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = EXCLUDED.seller_id, name = EXCLUDED.name, sku = EXCLUDED.sku,
			image_url = EXCLUDED.image_url, category_id = EXCLUDED.category_id,
			price = EXCLUDED.price, status = EXCLUDED.status`

	setProductStatusSQL = `UPDATE products SET status = $3 WHERE id = $1 AND status = $2`

	getCartSQL = `SELECT product_id, variant_id, quantity, unit_price
		FROM cart_items WHERE user_id = $1 ORDER BY added_at, product_id, variant_id`

	addCartItemSQL = `INSERT INTO cart_items (user_id, product_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id, variant_id) DO UPDATE SET
			quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var (
	_ product.Repository    = (*ProductRepository)(nil)
	_ product.StockObserver = (*ProductRepository)(nil)
	_ cart.Provider         = (*CartRepository)(nil)
	_ cart.Clearer          = (*CartRepository)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, nil
}

// Upsert inserts or replaces a catalog entry.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertProductSQL,
		p.ID, p.SellerID, p.Name, p.SKU, p.ImageURL, p.CategoryID, p.Price, string(p.Status))
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func (r *ProductRepository) StockDepleted(ctx context.Context, productID string) error {
	return r.setStatus(ctx, productID, product.StatusActive, product.StatusOutOfStock)
}

func (r *ProductRepository) StockRestored(ctx context.Context, productID string) error {
	return r.setStatus(ctx, productID, product.StatusOutOfStock, product.StatusActive)
}

func (r *ProductRepository) setStatus(ctx context.Context, id string, from, to product.Status) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, setProductStatusSQL, id, string(from), string(to)); err != nil {
		return fmt.Errorf("setting product %q status to %s: %w", id, to, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.SKU, &p.ImageURL, &p.CategoryID, &p.Price, &status)
	p.Status = product.Status(status)
	return p, err
}

// CartRepository implements the cart reads checkout needs.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) GetLineItems(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.VariantID, &l.Quantity, &l.UnitPrice)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}
	return lines, nil
}

// Add puts lines into the user's cart, replacing existing entries for the
// same product and variant.
func (r *CartRepository) Add(ctx context.Context, userID string, lines ...cart.Line) error {
	b := &pgx.Batch{}
	for _, l := range lines {
		b.Queue(addCartItemSQL, userID, l.ProductID, l.VariantID, l.Quantity, l.UnitPrice)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("adding cart items for user %q: %w", userID, err)
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	return nil
}
