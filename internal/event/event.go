// Package event carries order notifications and analytics out of the core.
// Delivery is fire-and-forget: emitters never fail the operation that
// produced the event.
package event

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Type names an event.
type Type string

const (
	OrderCreated      Type = "order.created"
	OrderConfirmed    Type = "order.confirmed"
	OrderProcessing   Type = "order.processing"
	OrderShipped      Type = "order.shipped"
	OrderDelivered    Type = "order.delivered"
	OrderCancelled    Type = "order.cancelled"
	OrderRefunded     Type = "order.refunded"
	PaymentUpdated    Type = "order.payment_updated"
	CheckoutCompleted Type = "checkout.completed"
	DiscountRedeemed  Type = "checkout.discount_redeemed"
	CheckoutFailed    Type = "checkout.failed"
)

// Analytics reports whether the event belongs on the analytics stream rather
// than the order notification stream.
func (t Type) Analytics() bool {
	return strings.HasPrefix(string(t), "checkout.")
}

// Event is a single notification.
type Event struct {
	ID         string
	Type       Type
	OrderID    string
	UserID     string
	Status     string
	Attrs      map[string]string
	OccurredAt time.Time
}

// Emitter delivers events to one destination.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Publisher is what domain services depend on. Publish never blocks on
// delivery and never reports errors.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Encode writes the event as a JSON object.
func (e Event) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(e.ID) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		if e.OrderID != "" {
			enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		}
		if e.UserID != "" {
			enc.Field("user_id", func(enc *jx.Encoder) { enc.Str(e.UserID) })
		}
		if e.Status != "" {
			enc.Field("status", func(enc *jx.Encoder) { enc.Str(e.Status) })
		}
		if len(e.Attrs) > 0 {
			enc.Field("attrs", func(enc *jx.Encoder) {
				enc.Obj(func(enc *jx.Encoder) {
					for k, v := range e.Attrs {
						enc.Field(k, func(enc *jx.Encoder) { enc.Str(v) })
					}
				})
			})
		}
		enc.Field("occurred_at", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
}

// Marshal encodes the event to JSON bytes.
func Marshal(e Event) []byte {
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes()
}

// Unmarshal decodes an event produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			e.ID = v
			return err
		case "type":
			v, err := d.Str()
			e.Type = Type(v)
			return err
		case "order_id":
			v, err := d.Str()
			e.OrderID = v
			return err
		case "user_id":
			v, err := d.Str()
			e.UserID = v
			return err
		case "status":
			v, err := d.Str()
			e.Status = v
			return err
		case "attrs":
			e.Attrs = map[string]string{}
			return d.Obj(func(d *jx.Decoder, k string) error {
				v, err := d.Str()
				e.Attrs[k] = v
				return err
			})
		case "occurred_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return errors.Wrap(err, "parse occurred_at")
			}
			e.OccurredAt = t
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	return e, nil
}
