package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request describes an order a discount code is checked against.
type Request struct {
	Code         string
	UserID       string
	OrderAmount  decimal.Decimal
	ShippingCost decimal.Decimal
	Items        []Item
}

// ApplyRequest is a Request bound to a persisted order.
type ApplyRequest struct {
	Request
	OrderID string
}

// Quote is the outcome of a successful validation.
type Quote struct {
	Rule       *Rule
	Amount     decimal.Decimal
	OnShipping bool
}

// Validator quotes a discount without touching usage state.
type Validator interface {
	Validate(ctx context.Context, req Request) (*Quote, error)
}

// Reverser undoes an order's redemption.
type Reverser interface {
	Reverse(ctx context.Context, couponID, orderID string) (bool, error)
}

// Redeemer records and reverses discount usage.
type Redeemer interface {
	Validator
	Reverser
	Apply(ctx context.Context, req ApplyRequest) (*Redemption, error)
	RecordFailure(ctx context.Context, req ApplyRequest, cause error) error
}

var _ Redeemer = (*Service)(nil)

// Service validates and redeems discount codes.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewService creates a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Validate runs the eligibility checks in order and returns the discount the
// code would grant. It is read-only and safe to call repeatedly.
func (s *Service) Validate(ctx context.Context, req Request) (*Quote, error) {
	rule, err := s.lookup(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, rule, req)
}

// Apply re-validates the code and records its use for the order. Calling it
// again for the same order returns the existing redemption without counting
// a second use.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*Redemption, error) {
	rule, err := s.lookup(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindRedemption(ctx, rule.ID, req.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup redemption")
	}
	if existing != nil {
		return existing, nil
	}

	quote, err := s.check(ctx, rule, req.Request)
	if err != nil {
		return nil, err
	}

	r := &Redemption{
		ID:          s.newID(),
		CouponID:    rule.ID,
		UserID:      req.UserID,
		OrderID:     req.OrderID,
		Amount:      quote.Amount,
		OrderAmount: req.OrderAmount,
		Success:     true,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Redeem(ctx, r, rule.UsageLimit); err != nil {
		if errors.Is(err, ErrAlreadyRedeemed) {
			// Lost a race against a concurrent Apply for the same order.
			existing, ferr := s.repo.FindRedemption(ctx, rule.ID, req.OrderID)
			if ferr != nil {
				return nil, errors.Wrap(ferr, "lookup redemption")
			}
			if existing != nil {
				return existing, nil
			}
		}
		var limitErr *UsageLimitExceededError
		if errors.As(err, &limitErr) {
			limitErr.Code = rule.Code
			return nil, limitErr
		}
		return nil, errors.Wrap(err, "redeem discount")
	}
	return r, nil
}

// Reverse undoes the order's redemption of the code, if any.
func (s *Service) Reverse(ctx context.Context, couponID, orderID string) (bool, error) {
	ok, err := s.repo.Reverse(ctx, couponID, orderID, s.now())
	if err != nil {
		return false, errors.Wrap(err, "reverse redemption")
	}
	return ok, nil
}

// RecordFailure stores a failed redemption attempt. Unknown codes have no
// record to attach to and are skipped.
func (s *Service) RecordFailure(ctx context.Context, req ApplyRequest, cause error) error {
	rule, err := s.lookup(ctx, req.Code)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}

	return s.repo.RecordAttempt(ctx, &Redemption{
		ID:          s.newID(),
		CouponID:    rule.ID,
		UserID:      req.UserID,
		OrderID:     req.OrderID,
		Amount:      decimal.Zero,
		OrderAmount: req.OrderAmount,
		Success:     false,
		Reason:      cause.Error(),
		CreatedAt:   s.now(),
	})
}

func (s *Service) lookup(ctx context.Context, code string) (*Rule, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, &NotFoundError{Code: code}
	}

	rule, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return rule, nil
}

func (s *Service) check(ctx context.Context, rule *Rule, req Request) (*Quote, error) {
	now := s.now()

	if !rule.activeAt(now) {
		return nil, &ExpiredError{Code: rule.Code, Status: rule.Status, At: now}
	}
	if rule.exhausted() {
		return nil, &UsageLimitExceededError{Code: rule.Code, Limit: rule.UsageLimit}
	}
	if rule.MinimumOrderAmount.IsPositive() && req.OrderAmount.LessThan(rule.MinimumOrderAmount) {
		return nil, &MinimumOrderNotMetError{
			Code:    rule.Code,
			Minimum: rule.MinimumOrderAmount,
			Actual:  req.OrderAmount,
		}
	}
	if !InScope(rule, req.Items) {
		return nil, &ScopeMismatchError{Code: rule.Code}
	}
	if rule.UsageLimitPerUser > 0 {
		used, err := s.repo.CountUserRedemptions(ctx, rule.ID, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		if used >= rule.UsageLimitPerUser {
			return nil, &PerUserLimitExceededError{
				Code:   rule.Code,
				UserID: req.UserID,
				Limit:  rule.UsageLimitPerUser,
			}
		}
	}

	amount, err := Amount(rule, req.OrderAmount, req.ShippingCost)
	if err != nil {
		return nil, err
	}

	return &Quote{
		Rule:       rule,
		Amount:     amount,
		OnShipping: rule.DiscountType == DiscountFreeShipping,
	}, nil
}
