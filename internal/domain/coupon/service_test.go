package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	rule        *Rule
	err         error
	userCount   int
	redeemErr   error
	redeemed    []*Redemption
	attempts    []*Redemption
	existing    *Redemption
	reversed    bool
	reverseCall int
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.rule == nil || m.rule.Code != code {
		return nil, &NotFoundError{Code: code}
	}
	return m.rule, nil
}

func (m *mockCouponRepo) CountUserRedemptions(context.Context, string, string) (int, error) {
	return m.userCount, nil
}

func (m *mockCouponRepo) Redeem(_ context.Context, r *Redemption, _ int) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = append(m.redeemed, r)
	m.rule.UsageCount++
	return nil
}

func (m *mockCouponRepo) Reverse(context.Context, string, string, time.Time) (bool, error) {
	m.reverseCall++
	return m.reversed, nil
}

func (m *mockCouponRepo) FindRedemption(_ context.Context, couponID, orderID string) (*Redemption, error) {
	if m.existing != nil && m.existing.CouponID == couponID && m.existing.OrderID == orderID {
		return m.existing, nil
	}
	for _, r := range m.redeemed {
		if r.CouponID == couponID && r.OrderID == orderID {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockCouponRepo) RecordAttempt(_ context.Context, r *Redemption) error {
	m.attempts = append(m.attempts, r)
	return nil
}

func newTestService(repo Repository, now time.Time) *Service {
	s := NewService(repo)
	s.now = func() time.Time { return now }
	return s
}

func TestService_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	save10 := func() *Rule {
		return &Rule{
			ID:                    "c1",
			Code:                  "SAVE10",
			DiscountType:          DiscountPercentage,
			Value:                 decimal.NewFromInt(10),
			MinimumOrderAmount:    decimal.NewFromInt(50),
			MaximumDiscountAmount: decimal.NewFromInt(20),
			Status:                StatusActive,
		}
	}

	tests := []struct {
		name       string
		rule       func() *Rule
		userCount  int
		code       string
		amount     string
		items      []Item
		wantAmount string
		wantErr    error
	}{
		{
			name:       "percentage capped",
			rule:       save10,
			code:       "save10",
			amount:     "200",
			wantAmount: "20",
		},
		{
			name:    "unknown code",
			rule:    save10,
			code:    "BOGUS",
			amount:  "200",
			wantErr: &NotFoundError{},
		},
		{
			name:    "blank code",
			rule:    save10,
			code:    "  ",
			amount:  "200",
			wantErr: &NotFoundError{},
		},
		{
			name: "inactive status",
			rule: func() *Rule {
				r := save10()
				r.Status = StatusInactive
				return r
			},
			code:    "SAVE10",
			amount:  "200",
			wantErr: &ExpiredError{},
		},
		{
			name: "window ended",
			rule: func() *Rule {
				r := save10()
				r.ValidUntil = &past
				return r
			},
			code:    "SAVE10",
			amount:  "200",
			wantErr: &ExpiredError{},
		},
		{
			name: "window not started",
			rule: func() *Rule {
				r := save10()
				r.ValidFrom = &future
				return r
			},
			code:    "SAVE10",
			amount:  "200",
			wantErr: &ExpiredError{},
		},
		{
			name: "usage limit reached",
			rule: func() *Rule {
				r := save10()
				r.UsageLimit = 3
				r.UsageCount = 3
				return r
			},
			code:    "SAVE10",
			amount:  "200",
			wantErr: &UsageLimitExceededError{},
		},
		{
			name:    "minimum not met",
			rule:    save10,
			code:    "SAVE10",
			amount:  "49.99",
			wantErr: &MinimumOrderNotMetError{},
		},
		{
			name: "scope mismatch",
			rule: func() *Rule {
				r := save10()
				r.ApplicableCategories = []string{"shoes"}
				return r
			},
			code:    "SAVE10",
			amount:  "200",
			items:   []Item{{ProductID: "p1", CategoryID: "hats"}},
			wantErr: &ScopeMismatchError{},
		},
		{
			name: "per user limit reached",
			rule: func() *Rule {
				r := save10()
				r.UsageLimitPerUser = 1
				return r
			},
			userCount: 1,
			code:      "SAVE10",
			amount:    "200",
			wantErr:   &PerUserLimitExceededError{},
		},
		{
			name: "expiry checked before minimum",
			rule: func() *Rule {
				r := save10()
				r.Status = StatusExpired
				return r
			},
			code:    "SAVE10",
			amount:  "1",
			wantErr: &ExpiredError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCouponRepo{rule: tt.rule(), userCount: tt.userCount}
			svc := newTestService(repo, fixedNow)

			quote, err := svc.Validate(context.Background(), Request{
				Code:        tt.code,
				UserID:      "u1",
				OrderAmount: decimal.RequireFromString(tt.amount),
				Items:       tt.items,
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.IsType(t, tt.wantErr, err)
				assert.ErrorIs(t, err, ErrDiscountNotApplicable)
				assert.Nil(t, quote)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(quote.Amount))
			assert.Equal(t, 0, repo.rule.UsageCount, "validate must not consume usage")
		})
	}
}

func TestService_Validate_FreeShipping(t *testing.T) {
	repo := &mockCouponRepo{rule: &Rule{
		ID:           "c2",
		Code:         "FREESHIP",
		DiscountType: DiscountFreeShipping,
		Status:       StatusActive,
	}}
	svc := newTestService(repo, time.Now())

	quote, err := svc.Validate(context.Background(), Request{
		Code:         "FREESHIP",
		OrderAmount:  decimal.NewFromInt(40),
		ShippingCost: decimal.RequireFromString("5.99"),
	})
	require.NoError(t, err)
	assert.True(t, quote.OnShipping)
	assert.Equal(t, "5.99", quote.Amount.StringFixed(2))
}

func TestService_Validate_RepoError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("connection reset")}
	svc := newTestService(repo, time.Now())

	_, err := svc.Validate(context.Background(), Request{Code: "SAVE10"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDiscountNotApplicable)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func flat50() *Rule {
	return &Rule{
		ID:           "c3",
		Code:         "FLAT50",
		DiscountType: DiscountFixed,
		Value:        decimal.NewFromInt(50),
		UsageLimit:   10,
		Status:       StatusActive,
	}
}

func TestService_Apply(t *testing.T) {
	repo := &mockCouponRepo{rule: flat50()}
	svc := newTestService(repo, time.Now())

	req := ApplyRequest{
		Request: Request{Code: "FLAT50", UserID: "u1", OrderAmount: decimal.NewFromInt(30)},
		OrderID: "o1",
	}
	r, err := svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, "o1", r.OrderID)
	assert.Equal(t, "c3", r.CouponID)
	assert.Equal(t, "30.00", r.Amount.StringFixed(2))
	assert.Equal(t, 1, repo.rule.UsageCount)

	again, err := svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)
	assert.Equal(t, 1, repo.rule.UsageCount, "second apply must not count again")
	assert.Len(t, repo.redeemed, 1)
}

func TestService_Apply_ExistingRedemptionSkipsValidation(t *testing.T) {
	rule := flat50()
	rule.UsageLimit = 1
	rule.UsageCount = 1
	existing := &Redemption{ID: "r0", CouponID: "c3", OrderID: "o1", Success: true}
	repo := &mockCouponRepo{rule: rule, existing: existing}
	svc := newTestService(repo, time.Now())

	r, err := svc.Apply(context.Background(), ApplyRequest{
		Request: Request{Code: "FLAT50", OrderAmount: decimal.NewFromInt(30)},
		OrderID: "o1",
	})
	require.NoError(t, err)
	assert.Equal(t, "r0", r.ID)
}

func TestService_Apply_LostRace(t *testing.T) {
	repo := &mockCouponRepo{
		rule:      flat50(),
		redeemErr: &UsageLimitExceededError{Limit: 10},
	}
	svc := newTestService(repo, time.Now())

	_, err := svc.Apply(context.Background(), ApplyRequest{
		Request: Request{Code: "FLAT50", OrderAmount: decimal.NewFromInt(30)},
		OrderID: "o1",
	})
	var limitErr *UsageLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "FLAT50", limitErr.Code)
}

func TestService_Apply_ValidationFailure(t *testing.T) {
	rule := flat50()
	rule.MinimumOrderAmount = decimal.NewFromInt(100)
	repo := &mockCouponRepo{rule: rule}
	svc := newTestService(repo, time.Now())

	_, err := svc.Apply(context.Background(), ApplyRequest{
		Request: Request{Code: "FLAT50", OrderAmount: decimal.NewFromInt(30)},
		OrderID: "o1",
	})
	var minErr *MinimumOrderNotMetError
	require.ErrorAs(t, err, &minErr)
	assert.Empty(t, repo.redeemed)
}

func TestService_RecordFailure(t *testing.T) {
	repo := &mockCouponRepo{rule: flat50()}
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	cause := &ScopeMismatchError{Code: "FLAT50"}
	err := svc.RecordFailure(ctx, ApplyRequest{
		Request: Request{Code: "flat50", UserID: "u1", OrderAmount: decimal.NewFromInt(30)},
		OrderID: "o1",
	}, cause)
	require.NoError(t, err)
	require.Len(t, repo.attempts, 1)
	assert.False(t, repo.attempts[0].Success)
	assert.Equal(t, cause.Error(), repo.attempts[0].Reason)

	// Unknown codes have nothing to attach the attempt to.
	err = svc.RecordFailure(ctx, ApplyRequest{Request: Request{Code: "NOPE"}}, cause)
	require.NoError(t, err)
	assert.Len(t, repo.attempts, 1)
}

func TestService_Reverse(t *testing.T) {
	repo := &mockCouponRepo{rule: flat50(), reversed: true}
	svc := newTestService(repo, time.Now())

	ok, err := svc.Reverse(context.Background(), "c3", "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, repo.reverseCall)
}
