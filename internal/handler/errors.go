package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// classify maps a domain error to its HTTP status and a stable kind string
// clients can switch on.
func classify(err error) (int, string) {
	var (
		reqErr      *requestError
		qtyErr      *checkout.InvalidQuantityError
		unavailable *checkout.ProductUnavailableError
		stockErr    *inventory.InsufficientStockError
		transition  *order.InvalidTransitionError
		conflict    *order.ConcurrencyConflictError
		notFound    *coupon.NotFoundError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, checkout.ErrMixedSellers):
		return http.StatusBadRequest, "mixed_sellers"
	case errors.Is(err, checkout.ErrUserRequired):
		return http.StatusBadRequest, "user_required"
	case errors.As(err, &qtyErr), errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, order.ErrTrackingRequired):
		return http.StatusBadRequest, "tracking_required"
	case errors.Is(err, order.ErrReasonRequired):
		return http.StatusBadRequest, "reason_required"
	case errors.Is(err, order.ErrRefundPayment):
		return http.StatusBadRequest, "refund_status_not_settable"
	case errors.Is(err, order.ErrInvalidRefundAmount):
		return http.StatusBadRequest, "invalid_refund_amount"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, product.ErrNotFound):
		return http.StatusUnprocessableEntity, "product_not_found"
	case errors.As(err, &unavailable):
		return http.StatusUnprocessableEntity, "product_unavailable"
	case errors.As(err, &stockErr):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case errors.Is(err, inventory.ErrUnitNotFound):
		return http.StatusUnprocessableEntity, "stock_unit_not_found"
	case errors.As(err, &notFound):
		return http.StatusUnprocessableEntity, "discount_not_found"
	case errors.Is(err, coupon.ErrDiscountNotApplicable):
		return http.StatusUnprocessableEntity, "discount_not_applicable"
	case errors.As(err, &transition):
		return http.StatusConflict, "invalid_transition"
	case errors.As(err, &conflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, checkout.ErrInProgress):
		return http.StatusConflict, "checkout_in_progress"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err as {"code", "kind", "message"}. Internal errors are
// logged and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			str(e, "kind", kind)
			str(e, "message", msg)
		})
	})
}
