package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the order amount.
	DiscountFixed DiscountType = "fixed_amount"
	// DiscountFreeShipping waives the shipping cost.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Status is the administrative state of a discount code.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// ErrAlreadyRedeemed is returned by Repository.Redeem when the code already
// has a successful redemption for the order.
var ErrAlreadyRedeemed = errors.New("discount already redeemed for order")

// Rule is a discount code and its eligibility constraints. Zero-valued
// optional limits mean "not set".
type Rule struct {
	ID                    string
	Code                  string
	DiscountType          DiscountType
	Value                 decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount decimal.Decimal
	UsageLimit            int
	UsageLimitPerUser     int
	UsageCount            int
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	Status                Status
	Description           string

	ApplicableProducts   []string
	ApplicableCategories []string
	ExcludedProducts     []string
	ExcludedCategories   []string
}

// Restricted reports whether the rule limits which items it applies to.
func (r *Rule) Restricted() bool {
	return len(r.ApplicableProducts) > 0 || len(r.ApplicableCategories) > 0 ||
		len(r.ExcludedProducts) > 0 || len(r.ExcludedCategories) > 0
}

// activeAt reports whether the rule is ACTIVE and now falls inside its window.
func (r *Rule) activeAt(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

// exhausted reports whether the global usage cap is used up.
func (r *Rule) exhausted() bool {
	return r.UsageLimit > 0 && r.UsageCount >= r.UsageLimit
}

// Redemption is the audit record of one attempt to use a code on an order.
type Redemption struct {
	ID          string
	CouponID    string
	UserID      string
	OrderID     string
	Amount      decimal.Decimal
	OrderAmount decimal.Decimal
	Success     bool
	Reason      string
	CreatedAt   time.Time
	ReversedAt  *time.Time
}

// Item is an order line as seen by scope matching.
type Item struct {
	ProductID  string
	CategoryID string
}

// NormalizeCode canonicalizes user input; codes are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of discount codes and redemptions.
type Repository interface {
	// FindByCode returns the rule for a normalized code, or *NotFoundError.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// CountUserRedemptions counts successful, non-reversed redemptions.
	CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error)
	// Redeem atomically increments the usage count, guarded by the usage
	// limit, and stores the successful redemption. It returns
	// ErrAlreadyRedeemed when (CouponID, OrderID) was already redeemed and
	// *UsageLimitExceededError when the conditional increment loses.
	Redeem(ctx context.Context, r *Redemption, usageLimit int) error
	// Reverse marks the order's redemption reversed and decrements the usage
	// count (floored at zero). It reports whether a live redemption existed.
	Reverse(ctx context.Context, couponID, orderID string, at time.Time) (bool, error)
	// FindRedemption returns the live successful redemption of the code for
	// the order, or nil when there is none.
	FindRedemption(ctx context.Context, couponID, orderID string) (*Redemption, error)
	// RecordAttempt stores a failed attempt for audit.
	RecordAttempt(ctx context.Context, r *Redemption) error
}
