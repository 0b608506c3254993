package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// GetOrder returns one order with its line items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// transitionBody is the union of the optional fields transition endpoints
// accept.
type transitionBody struct {
	TrackingNumber string
	Reason         string
	Amount         decimal.Decimal
	PaymentStatus  order.PaymentStatus
}

// TransitionOrder applies the lifecycle action named in the path.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "tracking_number":
			body.TrackingNumber, err = d.Str()
		case "reason":
			body.Reason, err = d.Str()
		case "amount":
			body.Amount, err = decodeMoney(d)
		case "status":
			var s string
			s, err = d.Str()
			body.PaymentStatus = order.PaymentStatus(s)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var (
		ctx = r.Context()
		id  = chi.URLParam(r, "orderID")
		o   *order.Order
	)
	switch order.Action(chi.URLParam(r, "action")) {
	case order.ActionConfirm:
		o, err = h.orders.Confirm(ctx, id)
	case order.ActionProcess:
		o, err = h.orders.StartProcessing(ctx, id)
	case order.ActionShip:
		o, err = h.orders.Ship(ctx, id, body.TrackingNumber)
	case order.ActionDeliver:
		o, err = h.orders.Deliver(ctx, id)
	case order.ActionCancel:
		o, err = h.orders.Cancel(ctx, id, body.Reason)
	case order.ActionRefund:
		o, err = h.orders.Refund(ctx, id, body.Amount)
	case order.ActionPayment:
		if body.PaymentStatus == "" {
			err = badRequest("status is required")
			break
		}
		o, err = h.orders.RecordPayment(ctx, id, body.PaymentStatus)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
