// Package cart describes the shopping cart snapshot consumed by checkout.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is one cart entry captured at checkout time. UnitPrice is the price
// the customer saw; it is never re-read from the catalog afterwards.
type Line struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Provider returns the current cart contents for a user.
type Provider interface {
	GetLineItems(ctx context.Context, userID string) ([]Line, error)
}

// Clearer empties a cart after a successful checkout.
type Clearer interface {
	Clear(ctx context.Context, userID string) error
}
