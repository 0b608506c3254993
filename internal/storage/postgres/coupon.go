package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, value, minimum_order_amount, maximum_discount_amount,
		usage_limit, usage_limit_per_user, usage_count, valid_from, valid_until, status, description,
		applicable_products, applicable_categories, excluded_products, excluded_categories`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			usage_limit = EXCLUDED.usage_limit, usage_limit_per_user = EXCLUDED.usage_limit_per_user,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			status = EXCLUDED.status, description = EXCLUDED.description,
			applicable_products = EXCLUDED.applicable_products,
			applicable_categories = EXCLUDED.applicable_categories,
			excluded_products = EXCLUDED.excluded_products,
			excluded_categories = EXCLUDED.excluded_categories`

	countUserRedemptionsSQL = `SELECT count(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2 AND success AND reversed_at IS NULL`

	redemptionColumns = `id, coupon_id, user_id, order_id, amount, order_amount, success, reason,
		created_at, reversed_at`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (` + redemptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, '', $7, NULL)
		ON CONFLICT (coupon_id, order_id) WHERE success AND reversed_at IS NULL DO NOTHING
		RETURNING id`

	insertAttemptSQL = `INSERT INTO coupon_redemptions (` + redemptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, NULL)`

	incrementUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND ($2::int = 0 OR usage_count < $2::int)
		RETURNING usage_count`

	decrementUsageSQL = `UPDATE coupons SET usage_count = GREATEST(usage_count - 1, 0) WHERE id = $1`

	getCouponCodeSQL = `SELECT code FROM coupons WHERE id = $1`

	reverseRedemptionSQL = `UPDATE coupon_redemptions SET reversed_at = $3
		WHERE coupon_id = $1 AND order_id = $2 AND success AND reversed_at IS NULL`

	findRedemptionSQL = `SELECT ` + redemptionColumns + ` FROM coupon_redemptions
		WHERE coupon_id = $1 AND order_id = $2 AND success AND reversed_at IS NULL`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findCouponByCodeSQL, coupon.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &coupon.NotFoundError{Code: code}
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return &rule, nil
}

func (r *CouponRepository) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, countUserRedemptionsSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting redemptions of coupon %q by user %q: %w", couponID, userID, err)
	}
	return n, nil
}

// Redeem inserts the redemption and bumps the usage count in one savepoint.
// The partial unique index on live redemptions makes a second redemption for
// the same order a no-op insert, and the row lock taken by the guarded
// increment serializes concurrent redeemers of one code.
func (r *CouponRepository) Redeem(ctx context.Context, red *coupon.Redemption, usageLimit int) error {
	return atomic(ctx, r.pool, func(q pgx.Tx) error {
		var id string
		err := q.QueryRow(ctx, insertRedemptionSQL,
			red.ID, red.CouponID, red.UserID, red.OrderID, red.Amount, red.OrderAmount, red.CreatedAt,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrAlreadyRedeemed
			}
			return fmt.Errorf("inserting redemption of coupon %q: %w", red.CouponID, err)
		}

		var count int
		err = q.QueryRow(ctx, incrementUsageSQL, red.CouponID, usageLimit).Scan(&count)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("incrementing usage of coupon %q: %w", red.CouponID, err)
		}

		var code string
		if err := q.QueryRow(ctx, getCouponCodeSQL, red.CouponID).Scan(&code); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &coupon.NotFoundError{Code: red.CouponID}
			}
			return fmt.Errorf("reading coupon %q: %w", red.CouponID, err)
		}
		return &coupon.UsageLimitExceededError{Code: code, Limit: usageLimit}
	})
}

func (r *CouponRepository) Reverse(ctx context.Context, couponID, orderID string, at time.Time) (bool, error) {
	var reversed bool
	err := atomic(ctx, r.pool, func(q pgx.Tx) error {
		tag, err := q.Exec(ctx, reverseRedemptionSQL, couponID, orderID, at)
		if err != nil {
			return fmt.Errorf("reversing redemption of coupon %q for order %q: %w", couponID, orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := q.Exec(ctx, decrementUsageSQL, couponID); err != nil {
			return fmt.Errorf("decrementing usage of coupon %q: %w", couponID, err)
		}
		reversed = true
		return nil
	})
	return reversed, err
}

func (r *CouponRepository) FindRedemption(ctx context.Context, couponID, orderID string) (*coupon.Redemption, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findRedemptionSQL, couponID, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding redemption of coupon %q for order %q: %w", couponID, orderID, err)
	}

	red, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding redemption of coupon %q for order %q: %w", couponID, orderID, err)
	}
	return &red, nil
}

func (r *CouponRepository) RecordAttempt(ctx context.Context, red *coupon.Redemption) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertAttemptSQL,
		red.ID, red.CouponID, red.UserID, red.OrderID, red.Amount, red.OrderAmount, red.Reason, red.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording attempt of coupon %q: %w", red.CouponID, err)
	}
	return nil
}

// UpsertBatch inserts or updates rules keyed by their normalized code. The
// usage count of existing rules is left untouched.
func (r *CouponRepository) UpsertBatch(ctx context.Context, rules []coupon.Rule) error {
	b := &pgx.Batch{}
	for i := range rules {
		rule := &rules[i]
		b.Queue(upsertCouponSQL,
			rule.ID, coupon.NormalizeCode(rule.Code), string(rule.DiscountType), rule.Value,
			rule.MinimumOrderAmount, rule.MaximumDiscountAmount,
			rule.UsageLimit, rule.UsageLimitPerUser, rule.UsageCount,
			rule.ValidFrom, rule.ValidUntil, string(rule.Status), rule.Description,
			nonNil(rule.ApplicableProducts), nonNil(rule.ApplicableCategories),
			nonNil(rule.ExcludedProducts), nonNil(rule.ExcludedCategories),
		)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(rules), err)
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		status       string
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &discountType, &rule.Value,
		&rule.MinimumOrderAmount, &rule.MaximumDiscountAmount,
		&rule.UsageLimit, &rule.UsageLimitPerUser, &rule.UsageCount,
		&rule.ValidFrom, &rule.ValidUntil, &status, &rule.Description,
		&rule.ApplicableProducts, &rule.ApplicableCategories,
		&rule.ExcludedProducts, &rule.ExcludedCategories,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.Status = coupon.Status(status)
	return rule, err
}

func scanRedemption(row pgx.CollectableRow) (coupon.Redemption, error) {
	var red coupon.Redemption
	err := row.Scan(
		&red.ID, &red.CouponID, &red.UserID, &red.OrderID, &red.Amount, &red.OrderAmount,
		&red.Success, &red.Reason, &red.CreatedAt, &red.ReversedAt,
	)
	return red, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
