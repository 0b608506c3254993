package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/tx"
	"github.com/xenking/marketplace-checkout/internal/event"
	"github.com/xenking/marketplace-checkout/internal/saga"
)

// Deps are the collaborators of a Manager.
type Deps struct {
	Orders     Repository
	Transactor tx.Transactor
	Stock      inventory.Reserver
	Coupons    coupon.Reverser
	Events     event.Publisher
	Meter      metric.MeterProvider
	Tracer     trace.TracerProvider
}

// Manager owns the order state machine. Every change is one unit of work:
// the status write and its side effects either all apply or none do.
type Manager struct {
	orders  Repository
	tx      tx.Transactor
	stock   inventory.Reserver
	coupons coupon.Reverser
	events  event.Publisher
	tracer  trace.Tracer
	now     func() time.Time

	transitions metric.Int64Counter
}

// NewManager creates a Manager.
func NewManager(d Deps) (*Manager, error) {
	transitions, err := d.Meter.Meter("order").Int64Counter("order.transitions",
		metric.WithDescription("Order lifecycle transitions by action and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}

	return &Manager{
		orders:      d.Orders,
		tx:          d.Transactor,
		stock:       d.Stock,
		coupons:     d.Coupons,
		events:      d.Events,
		tracer:      d.Tracer.Tracer("order"),
		now:         time.Now,
		transitions: transitions,
	}, nil
}

// plan computes the next version of the order and the side effects that must
// run with the status write.
type plan func(ctx context.Context, cur *Order, now time.Time) (*Order, []saga.Step, error)

// Get returns an order by id.
func (m *Manager) Get(ctx context.Context, id string) (*Order, error) {
	return m.orders.Get(ctx, id)
}

// Confirm moves a PENDING order to CONFIRMED.
func (m *Manager) Confirm(ctx context.Context, id string) (*Order, error) {
	return m.change(ctx, id, ActionConfirm, m.advance(ActionConfirm, nil))
}

// StartProcessing moves a CONFIRMED order to PROCESSING.
func (m *Manager) StartProcessing(ctx context.Context, id string) (*Order, error) {
	return m.change(ctx, id, ActionProcess, m.advance(ActionProcess, nil))
}

// Ship moves a CONFIRMED or PROCESSING order to SHIPPED.
func (m *Manager) Ship(ctx context.Context, id, trackingNumber string) (*Order, error) {
	if trackingNumber == "" {
		return nil, ErrTrackingRequired
	}
	return m.change(ctx, id, ActionShip, m.advance(ActionShip, func(o *Order, now time.Time) {
		o.ShippedAt = &now
		o.TrackingNumber = trackingNumber
	}))
}

// Deliver moves a SHIPPED order to DELIVERED.
func (m *Manager) Deliver(ctx context.Context, id string) (*Order, error) {
	return m.change(ctx, id, ActionDeliver, m.advance(ActionDeliver, func(o *Order, now time.Time) {
		o.DeliveredAt = &now
	}))
}

// Cancel moves an unshipped order to CANCELLED, returns its stock and reverses
// its discount redemption. A non-blank reason is required.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	advance := m.advance(ActionCancel, func(o *Order, now time.Time) {
		o.CancelledAt = &now
		o.CancellationReason = reason
	})
	return m.change(ctx, id, ActionCancel, func(ctx context.Context, cur *Order, now time.Time) (*Order, []saga.Step, error) {
		next, _, err := advance(ctx, cur, now)
		if err != nil {
			return nil, nil, err
		}

		lines := next.StockLines()
		steps := []saga.Step{{
			Name:       "release inventory",
			Execute:    func(ctx context.Context) error { return m.stock.ReleaseAll(ctx, lines) },
			Compensate: func(ctx context.Context) error { return m.stock.ReserveAll(ctx, lines) },
		}}
		if next.CouponID != "" {
			steps = append(steps, saga.Step{
				Name: "reverse discount",
				Execute: func(ctx context.Context) error {
					_, err := m.coupons.Reverse(ctx, next.CouponID, next.ID)
					return err
				},
			})
		}
		return next, steps, nil
	})
}

// Refund moves a DELIVERED and PAID order to REFUNDED. A zero amount refunds
// the full total; a smaller amount leaves the payment PARTIALLY_REFUNDED.
// Stock is not returned.
func (m *Manager) Refund(ctx context.Context, id string, amount decimal.Decimal) (*Order, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidRefundAmount
	}
	advance := m.advance(ActionRefund, nil)
	return m.change(ctx, id, ActionRefund, func(ctx context.Context, cur *Order, now time.Time) (*Order, []saga.Step, error) {
		next, _, err := advance(ctx, cur, now)
		if err != nil {
			return nil, nil, err
		}

		refund := amount
		if refund.IsZero() {
			refund = cur.TotalAmount
		}
		if refund.GreaterThan(cur.TotalAmount) {
			return nil, nil, ErrInvalidRefundAmount
		}

		next.RefundedAmount = refund
		next.PaymentStatus = PaymentPartiallyRefunded
		if refund.Equal(cur.TotalAmount) {
			next.PaymentStatus = PaymentRefunded
		}
		return next, nil, nil
	})
}

// RecordPayment sets the payment status. It does not change the order status.
// Refund statuses are only reachable through Refund, which also records the
// refunded amount.
func (m *Manager) RecordPayment(ctx context.Context, id string, status PaymentStatus) (*Order, error) {
	if status == PaymentRefunded || status == PaymentPartiallyRefunded {
		return nil, ErrRefundPayment
	}
	return m.change(ctx, id, ActionPayment, func(_ context.Context, cur *Order, now time.Time) (*Order, []saga.Step, error) {
		if !CanSetPayment(cur.PaymentStatus, status) {
			return nil, nil, &InvalidTransitionError{
				OrderID:       cur.ID,
				Current:       cur.Status,
				PaymentStatus: cur.PaymentStatus,
				Action:        ActionPayment,
				Target:        status,
			}
		}
		next := cur.Clone()
		next.PaymentStatus = status
		next.UpdatedAt = now
		return next, nil, nil
	})
}

// advance returns a plan that applies the transition table and then mutate.
func (m *Manager) advance(a Action, mutate func(o *Order, now time.Time)) plan {
	return func(_ context.Context, cur *Order, now time.Time) (*Order, []saga.Step, error) {
		to, ok := Next(cur, a)
		if !ok {
			return nil, nil, &InvalidTransitionError{
				OrderID:       cur.ID,
				Current:       cur.Status,
				PaymentStatus: cur.PaymentStatus,
				Action:        a,
			}
		}
		next := cur.Clone()
		next.Status = to
		next.UpdatedAt = now
		if mutate != nil {
			mutate(next, now)
		}
		return next, nil, nil
	}
}

func (m *Manager) change(ctx context.Context, id string, a Action, p plan) (*Order, error) {
	ctx, span := m.tracer.Start(ctx, "order."+string(a),
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer span.End()

	var prev, next *Order
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := m.orders.Get(ctx, id)
		if err != nil {
			return err
		}

		updated, effects, err := p(ctx, cur, m.now())
		if err != nil {
			return err
		}

		save := saga.Step{
			Name:    "save order",
			Execute: func(ctx context.Context) error { return m.orders.Update(ctx, updated) },
			Compensate: func(ctx context.Context) error {
				restore := cur.Clone()
				restore.Version = updated.Version
				return m.orders.Update(ctx, restore)
			},
		}
		if err := saga.New("order."+string(a), append([]saga.Step{save}, effects...)...).Run(ctx); err != nil {
			return err
		}
		prev, next = cur, updated
		return nil
	})
	if err != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(a)),
			attribute.String("outcome", "rejected"),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(a)),
		attribute.String("outcome", "applied"),
	))
	zctx.From(ctx).Info("Order transition",
		zap.String("order_id", next.ID),
		zap.String("action", string(a)),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(next.Status)),
		zap.String("payment_status", string(next.PaymentStatus)),
	)
	m.events.Publish(ctx, transitionEvent(a, next))
	return next, nil
}

func transitionEvent(a Action, o *Order) event.Event {
	e := event.Event{
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  string(o.Status),
		Attrs:   map[string]string{"payment_status": string(o.PaymentStatus)},
	}
	switch a {
	case ActionConfirm:
		e.Type = event.OrderConfirmed
	case ActionProcess:
		e.Type = event.OrderProcessing
	case ActionShip:
		e.Type = event.OrderShipped
		e.Attrs["tracking_number"] = o.TrackingNumber
	case ActionDeliver:
		e.Type = event.OrderDelivered
	case ActionCancel:
		e.Type = event.OrderCancelled
		e.Attrs["reason"] = o.CancellationReason
	case ActionRefund:
		e.Type = event.OrderRefunded
		e.Attrs["refunded_amount"] = o.RefundedAmount.StringFixed(2)
	case ActionPayment:
		e.Type = event.PaymentUpdated
	}
	return e
}
