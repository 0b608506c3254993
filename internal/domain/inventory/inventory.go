// Package inventory implements the stock ledger. Every stock mutation goes
// through Reserve or Release, which rely on the repository performing an
// atomic conditional update per unit.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrUnitNotFound is returned when no stock record exists for a key.
	ErrUnitNotFound = errors.New("inventory unit not found")
	// ErrInvalidQuantity is returned for non-positive reserve/release amounts.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Status mirrors the unit's sellable state.
type Status string

const (
	StatusActive     Status = "active"
	StatusOutOfStock Status = "out_of_stock"
)

// Key identifies a stock unit. VariantID is empty for products without variants.
type Key struct {
	ProductID string
	VariantID string
}

func (k Key) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.VariantID
}

// Unit is the stock record of a product or variant.
type Unit struct {
	Key               Key
	OnHand            int
	LowStockThreshold int
	Status            Status
}

// InStock reports whether the unit can currently be sold.
func (u *Unit) InStock() bool {
	return u.OnHand > 0 && u.Status == StatusActive
}

// Low reports whether the unit dropped to its low-stock threshold.
func (u *Unit) Low() bool {
	return u.LowStockThreshold > 0 && u.OnHand <= u.LowStockThreshold
}

// InsufficientStockError reports a reservation that would overdraw a unit.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	key := Key{ProductID: e.ProductID, VariantID: e.VariantID}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		key, e.Requested, e.Available)
}

// Repository persists stock units. Decrement must be a single conditional
// update (on_hand >= qty); when the condition fails it returns an
// *InsufficientStockError carrying the observed on-hand amount. Both updates
// keep Status in step with OnHand: out of stock at zero, active above it.
type Repository interface {
	Get(ctx context.Context, key Key) (*Unit, error)
	// Decrement subtracts qty and returns the remaining on-hand amount.
	Decrement(ctx context.Context, key Key, qty int) (int, error)
	// Increment adds qty and returns the resulting on-hand amount.
	Increment(ctx context.Context, key Key, qty int) (int, error)
	// ProductOnHand sums on-hand stock over every unit of the product.
	ProductOnHand(ctx context.Context, productID string) (int, error)
}

// Line is a quantity of one unit, as reserved by a checkout or released on
// cancellation.
type Line struct {
	Key      Key
	Quantity int
}

// Reserver takes and returns stock for whole orders.
type Reserver interface {
	ReserveAll(ctx context.Context, lines []Line) error
	ReleaseAll(ctx context.Context, lines []Line) error
}
