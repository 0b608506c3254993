package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
)

func (h *Handler) decodeCheckout(w http.ResponseWriter, r *http.Request) (checkout.Request, error) {
	req := checkout.Request{
		AllowDiscountFallback: h.cfg.AllowDiscountFallback,
		IdempotencyKey:        r.Header.Get(IdempotencyHeader),
	}
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			req.UserID, err = d.Str()
		case "coupon_code":
			req.CouponCode, err = d.Str()
		case "jurisdiction":
			req.Jurisdiction, err = d.Str()
		case "allow_discount_fallback":
			req.AllowDiscountFallback, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, err
	}
	if req.UserID == "" {
		return req, checkout.ErrUserRequired
	}
	return req, nil
}

// Checkout places an order from the user's cart. A fresh order is 201, an
// idempotent replay is 200.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCheckout(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			if res.DiscountError != nil {
				str(e, "discount_error", res.DiscountError.Error())
			}
			e.Field("replayed", func(e *jx.Encoder) { e.Bool(res.Replayed) })
		})
	})
}

// Quote prices the user's cart without reserving stock or redeeming the code.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCheckout(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.checkout.Quote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			encodeItems(e, p.Items)
			money(e, "subtotal", p.Breakdown.Subtotal)
			money(e, "tax_amount", p.Breakdown.Tax)
			money(e, "shipping_cost", p.Breakdown.Shipping)
			money(e, "discount_amount", p.Breakdown.Discount)
			money(e, "total_amount", p.Breakdown.Total)
			if p.Discount != nil {
				e.Field("discount", func(e *jx.Encoder) { encodeQuote(e, p.Discount) })
			}
			if p.DiscountError != nil {
				str(e, "discount_error", p.DiscountError.Error())
			}
		})
	})
}
