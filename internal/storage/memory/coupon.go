package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository is an in-memory discount code and redemption store.
type CouponRepository struct {
	mu          sync.Mutex
	byID        map[string]*coupon.Rule
	byCode      map[string]string
	redemptions []*coupon.Redemption
}

// NewCouponRepository returns an empty store.
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		byID:   map[string]*coupon.Rule{},
		byCode: map[string]string{},
	}
}

// Put inserts or replaces a rule. The code is normalized.
func (r *CouponRepository) Put(rule coupon.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule.Code = coupon.NormalizeCode(rule.Code)
	r.byID[rule.ID] = &rule
	r.byCode[rule.Code] = rule.ID
}

// Rule returns a copy of the stored rule, or nil.
func (r *CouponRepository) Rule(id string) *coupon.Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byID[id]
	if !ok {
		return nil
	}
	cp := *rule
	return &cp
}

// Redemptions returns copies of every stored redemption record.
func (r *CouponRepository) Redemptions() []coupon.Redemption {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]coupon.Redemption, len(r.redemptions))
	for i, red := range r.redemptions {
		out[i] = *red
	}
	return out
}

func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCode[coupon.NormalizeCode(code)]
	if !ok {
		return nil, &coupon.NotFoundError{Code: code}
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *CouponRepository) CountUserRedemptions(_ context.Context, couponID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, red := range r.redemptions {
		if red.CouponID == couponID && red.UserID == userID && live(red) {
			n++
		}
	}
	return n, nil
}

func (r *CouponRepository) Redeem(_ context.Context, red *coupon.Redemption, usageLimit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findLive(red.CouponID, red.OrderID) != nil {
		return coupon.ErrAlreadyRedeemed
	}
	rule, ok := r.byID[red.CouponID]
	if !ok {
		return &coupon.NotFoundError{Code: red.CouponID}
	}
	if usageLimit > 0 && rule.UsageCount >= usageLimit {
		return &coupon.UsageLimitExceededError{Code: rule.Code, Limit: usageLimit}
	}
	rule.UsageCount++
	cp := *red
	r.redemptions = append(r.redemptions, &cp)
	return nil
}

func (r *CouponRepository) Reverse(_ context.Context, couponID, orderID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	red := r.findLive(couponID, orderID)
	if red == nil {
		return false, nil
	}
	red.ReversedAt = &at
	if rule, ok := r.byID[couponID]; ok && rule.UsageCount > 0 {
		rule.UsageCount--
	}
	return true, nil
}

func (r *CouponRepository) FindRedemption(_ context.Context, couponID, orderID string) (*coupon.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	red := r.findLive(couponID, orderID)
	if red == nil {
		return nil, nil
	}
	cp := *red
	return &cp, nil
}

func (r *CouponRepository) RecordAttempt(_ context.Context, red *coupon.Redemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *red
	cp.Success = false
	r.redemptions = append(r.redemptions, &cp)
	return nil
}

func (r *CouponRepository) findLive(couponID, orderID string) *coupon.Redemption {
	for _, red := range r.redemptions {
		if red.CouponID == couponID && red.OrderID == orderID && live(red) {
			return red
		}
	}
	return nil
}

func live(r *coupon.Redemption) bool {
	return r.Success && r.ReversedAt == nil
}
