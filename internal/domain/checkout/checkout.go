// Package checkout turns a cart into a priced, persisted order. It is the
// only place where stock reservation, discount redemption and order
// persistence are combined, and it guarantees they commit together.
package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/pricing"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

var (
	// ErrEmptyCart is returned when the user's cart has no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMixedSellers is returned when the cart spans more than one seller.
	ErrMixedSellers = errors.New("cart contains products from more than one seller")
	// ErrUserRequired is returned when no user id is given.
	ErrUserRequired = errors.New("user id required")
)

// ProductUnavailableError reports a cart line whose product cannot be sold.
type ProductUnavailableError struct {
	ProductID string
	Status    product.Status
}

func (e *ProductUnavailableError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("product %s not found", e.ProductID)
	}
	return fmt.Sprintf("product %s is %s", e.ProductID, e.Status)
}

// InvalidQuantityError reports a cart line with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s, got %d", e.ProductID, e.Quantity)
}

// Request holds the input for a checkout.
type Request struct {
	UserID       string
	CouponCode   string
	Jurisdiction string
	// AllowDiscountFallback continues without a discount when the code is
	// not applicable instead of failing the checkout.
	AllowDiscountFallback bool
	// IdempotencyKey makes retries of the same request return the order the
	// first attempt created.
	IdempotencyKey string
}

// Result is a completed checkout.
type Result struct {
	Order *order.Order
	// DiscountError is set when the code was dropped under
	// AllowDiscountFallback.
	DiscountError error
	// Replayed marks a result served from an earlier request with the same
	// idempotency key.
	Replayed bool
}

// Preview is a priced cart that reserved nothing.
type Preview struct {
	Items         []order.LineItem
	Breakdown     pricing.Breakdown
	Discount      *coupon.Quote
	DiscountError error
}
