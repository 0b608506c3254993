package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
)

func encodeQuote(e *jx.Encoder, q *coupon.Quote) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "code", q.Rule.Code)
		str(e, "discount_type", string(q.Rule.DiscountType))
		money(e, "amount", q.Amount)
		e.Field("on_shipping", func(e *jx.Encoder) { e.Bool(q.OnShipping) })
		optStr(e, "description", q.Rule.Description)
	})
}

// ValidateCoupon quotes a discount code against a described order. It never
// consumes usage.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupon.Request
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = d.Str()
		case "user_id":
			req.UserID, err = d.Str()
		case "order_amount":
			req.OrderAmount, err = decodeMoney(d)
		case "shipping_cost":
			req.ShippingCost, err = decodeMoney(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it coupon.Item
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "product_id":
						it.ProductID, err = d.Str()
					case "category_id":
						it.CategoryID, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Code == "" {
		writeError(w, r, badRequest("code is required"))
		return
	}

	q, err := h.coupons.Validate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}
