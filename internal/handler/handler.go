// Package handler exposes checkout, order lifecycle and discount validation
// over HTTP. Requests and responses are JSON, encoded with jx; money is
// rendered as a string with two decimals.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/auth"
	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// IdempotencyHeader lets clients retry a checkout safely.
const IdempotencyHeader = "Idempotency-Key"

// CheckoutService places orders and previews prices.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Quote(ctx context.Context, req checkout.Request) (*checkout.Preview, error)
}

// OrderService reads orders and applies lifecycle transitions.
type OrderService interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	Confirm(ctx context.Context, id string) (*order.Order, error)
	StartProcessing(ctx context.Context, id string) (*order.Order, error)
	Ship(ctx context.Context, id, trackingNumber string) (*order.Order, error)
	Deliver(ctx context.Context, id string) (*order.Order, error)
	Cancel(ctx context.Context, id, reason string) (*order.Order, error)
	Refund(ctx context.Context, id string, amount decimal.Decimal) (*order.Order, error)
	RecordPayment(ctx context.Context, id string, status order.PaymentStatus) (*order.Order, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// AllowDiscountFallback is the default for checkout requests that do not
	// set allow_discount_fallback themselves.
	AllowDiscountFallback bool
}

// Handler serves the /api routes.
type Handler struct {
	checkout CheckoutService
	orders   OrderService
	coupons  coupon.Validator
	cfg      Config
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, checkout CheckoutService, orders OrderService, coupons coupon.Validator) *Handler {
	return &Handler{
		checkout: checkout,
		orders:   orders,
		coupons:  coupons,
		cfg:      cfg,
	}
}

// Routes mounts every endpoint under /api. Each group requires its scope.
func (h *Handler) Routes(sec *Security) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeCheckout))
			r.Post("/checkout", h.Checkout)
			r.Post("/checkout/quote", h.Quote)
		})
		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeOrders))
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/{action}", h.TransitionOrder)
		})
		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeCoupons))
			r.Post("/coupons/validate", h.ValidateCoupon)
		})
	})
	return r
}
