package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Status is the catalog visibility state of a product.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusOutOfStock Status = "out_of_stock"
)

// Product is the read-only catalog view the checkout snapshots from.
type Product struct {
	ID         string
	SellerID   string
	Name       string
	SKU        string
	ImageURL   string
	CategoryID string
	Price      decimal.Decimal
	Status     Status
}

// Purchasable reports whether the product can be added to a new order.
// Stock itself is enforced by the inventory ledger, so out-of-stock products
// still pass here and fail later with a precise stock error.
func (p *Product) Purchasable() bool {
	return p.Status == StatusActive || p.Status == StatusOutOfStock
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// StockObserver is notified when a product's stock crosses zero so the catalog
// can flip its status. Implementations run inside the caller's unit of work.
type StockObserver interface {
	StockDepleted(ctx context.Context, productID string) error
	StockRestored(ctx context.Context, productID string) error
}
