package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed or incomplete request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeBody reads the request body and walks its top-level object. An
// empty body is accepted and leaves the target untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("reading body: %s", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		return badRequest("decoding body: %s", err)
	}
	return nil
}

// decodeMoney accepts an amount as a JSON number or string.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("amount must be a number or string, got %s", d.Next())
	}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, name string, d decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Str(d.StringFixed(2)) })
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		str(e, name, v)
	}
}

func optTime(e *jx.Encoder, name string, t *time.Time) {
	if t != nil {
		str(e, name, t.UTC().Format(time.RFC3339))
	}
}

func encodeLineItem(e *jx.Encoder, it order.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		optStr(e, "id", it.ID)
		str(e, "product_id", it.ProductID)
		optStr(e, "variant_id", it.VariantID)
		str(e, "name", it.Name)
		optStr(e, "sku", it.SKU)
		optStr(e, "image_url", it.ImageURL)
		optStr(e, "category_id", it.CategoryID)
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		money(e, "unit_price", it.UnitPrice)
		money(e, "total_price", it.TotalPrice)
		money(e, "discount", it.Discount)
		money(e, "tax", it.Tax)
	})
}

func encodeItems(e *jx.Encoder, items []order.LineItem) {
	e.Field("items", func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, it := range items {
				encodeLineItem(e, it)
			}
		})
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "user_id", o.UserID)
		str(e, "seller_id", o.SellerID)
		str(e, "status", string(o.Status))
		str(e, "payment_status", string(o.PaymentStatus))
		encodeItems(e, o.Items)
		money(e, "subtotal", o.Subtotal)
		money(e, "tax_amount", o.TaxAmount)
		money(e, "shipping_cost", o.ShippingCost)
		money(e, "discount_amount", o.DiscountAmount)
		money(e, "total_amount", o.TotalAmount)
		money(e, "refunded_amount", o.RefundedAmount)
		optStr(e, "coupon_code", o.CouponCode)
		optStr(e, "tracking_number", o.TrackingNumber)
		optStr(e, "cancellation_reason", o.CancellationReason)
		optTime(e, "shipped_at", o.ShippedAt)
		optTime(e, "delivered_at", o.DeliveredAt)
		optTime(e, "cancelled_at", o.CancelledAt)
		e.Field("version", func(e *jx.Encoder) { e.Int(o.Version) })
		str(e, "created_at", o.CreatedAt.UTC().Format(time.RFC3339))
		str(e, "updated_at", o.UpdatedAt.UTC().Format(time.RFC3339))
	})
}
