package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when the order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidRefundAmount is returned for refunds outside (0, total].
	ErrInvalidRefundAmount = errors.New("refund amount must be positive and not exceed the order total")
	// ErrTrackingRequired is returned when shipping without a tracking number.
	ErrTrackingRequired = errors.New("tracking number required")
	// ErrReasonRequired is returned when cancelling without a reason.
	ErrReasonRequired = errors.New("cancellation reason required")
	// ErrRefundPayment is returned when a refund status is recorded directly
	// instead of through a refund.
	ErrRefundPayment = errors.New("refund payment statuses are set by the refund action")
)

// InvalidTransitionError reports an action the order's current state does not
// allow. Target is set for payment transitions.
type InvalidTransitionError struct {
	OrderID       string
	Current       Status
	PaymentStatus PaymentStatus
	Action        Action
	Target        PaymentStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("order %s: cannot set payment %s from %s",
			e.OrderID, e.Target, e.PaymentStatus)
	}
	return fmt.Sprintf("order %s: cannot %s from status %s (payment %s)",
		e.OrderID, e.Action, e.Current, e.PaymentStatus)
}

// ConcurrencyConflictError reports a lost race on a conditional update. The
// caller may retry the whole operation.
type ConcurrencyConflictError struct {
	Entity string
	ID     string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}
