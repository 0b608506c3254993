package coupon

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrDiscountNotApplicable matches every validation failure below via
// errors.Is, so callers can treat them uniformly when they want to.
var ErrDiscountNotApplicable = errors.New("discount not applicable")

// NotFoundError is returned when no discount code matches.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("discount code %q not found", e.Code)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrDiscountNotApplicable }

// ExpiredError is returned when the code is inactive or outside its window.
type ExpiredError struct {
	Code   string
	Status Status
	At     time.Time
}

func (e *ExpiredError) Error() string {
	if e.Status != StatusActive {
		return fmt.Sprintf("discount code %q is %s", e.Code, e.Status)
	}
	return fmt.Sprintf("discount code %q is not valid at %s", e.Code, e.At.Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool { return target == ErrDiscountNotApplicable }

// UsageLimitExceededError is returned when the global usage cap is reached.
type UsageLimitExceededError struct {
	Code  string
	Limit int
}

func (e *UsageLimitExceededError) Error() string {
	return fmt.Sprintf("discount code %q reached its usage limit of %d", e.Code, e.Limit)
}

func (e *UsageLimitExceededError) Is(target error) bool { return target == ErrDiscountNotApplicable }

// PerUserLimitExceededError is returned when the user already used the code
// the allowed number of times.
type PerUserLimitExceededError struct {
	Code   string
	UserID string
	Limit  int
}

func (e *PerUserLimitExceededError) Error() string {
	return fmt.Sprintf("discount code %q already used %d time(s) by this user", e.Code, e.Limit)
}

func (e *PerUserLimitExceededError) Is(target error) bool { return target == ErrDiscountNotApplicable }

// MinimumOrderNotMetError is returned when the order amount is too small.
type MinimumOrderNotMetError struct {
	Code    string
	Minimum decimal.Decimal
	Actual  decimal.Decimal
}

func (e *MinimumOrderNotMetError) Error() string {
	return fmt.Sprintf("discount code %q requires a minimum order of %s, got %s",
		e.Code, e.Minimum.StringFixed(2), e.Actual.StringFixed(2))
}

func (e *MinimumOrderNotMetError) Is(target error) bool { return target == ErrDiscountNotApplicable }

// ScopeMismatchError is returned when no order item is eligible for the code.
type ScopeMismatchError struct {
	Code string
}

func (e *ScopeMismatchError) Error() string {
	return fmt.Sprintf("discount code %q does not apply to any item in the order", e.Code)
}

func (e *ScopeMismatchError) Is(target error) bool { return target == ErrDiscountNotApplicable }
