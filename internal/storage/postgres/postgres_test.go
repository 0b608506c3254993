//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/marketplace-checkout/internal/domain/auth"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, id string, onHand int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, postgres.NewProductRepository(pool).Upsert(ctx, product.Product{
		ID:         id,
		SellerID:   "seller-1",
		Name:       "Product " + id,
		CategoryID: "cat-1",
		Price:      decimal.RequireFromString("10.00"),
		Status:     product.StatusActive,
	}))
	require.NoError(t, postgres.NewInventoryRepository(pool).Upsert(ctx, inventory.Unit{
		Key:    inventory.Key{ProductID: id},
		OnHand: onHand,
	}))
}

func TestPostgres(t *testing.T) {
	pool := setupPool(t)

	t.Run("catalog and cart", func(t *testing.T) {
		ctx := context.Background()
		seedProduct(t, pool, "p-cat", 3)

		products := postgres.NewProductRepository(pool)
		p, err := products.GetByID(ctx, "p-cat")
		require.NoError(t, err)
		assert.Equal(t, "seller-1", p.SellerID)
		assert.True(t, decimal.RequireFromString("10").Equal(p.Price))

		_, err = products.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, product.ErrNotFound)

		require.NoError(t, products.StockDepleted(ctx, "p-cat"))
		p, err = products.GetByID(ctx, "p-cat")
		require.NoError(t, err)
		assert.Equal(t, product.StatusOutOfStock, p.Status)

		carts := postgres.NewCartRepository(pool)
		require.NoError(t, carts.Add(ctx, "u-cart", cart.Line{
			ProductID: "p-cat", Quantity: 2, UnitPrice: decimal.RequireFromString("9.50"),
		}))
		lines, err := carts.GetLineItems(ctx, "u-cart")
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, 2, lines[0].Quantity)

		require.NoError(t, carts.Clear(ctx, "u-cart"))
		lines, err = carts.GetLineItems(ctx, "u-cart")
		require.NoError(t, err)
		assert.Empty(t, lines)
	})

	t.Run("inventory conditional decrement", func(t *testing.T) {
		ctx := context.Background()
		seedProduct(t, pool, "p-inv", 2)
		repo := postgres.NewInventoryRepository(pool)
		key := inventory.Key{ProductID: "p-inv"}

		left, err := repo.Decrement(ctx, key, 2)
		require.NoError(t, err)
		assert.Zero(t, left)

		u, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, inventory.StatusOutOfStock, u.Status)

		_, err = repo.Decrement(ctx, key, 1)
		var stockErr *inventory.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Zero(t, stockErr.Available)

		left, err = repo.Increment(ctx, key, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, left)

		total, err := repo.ProductOnHand(ctx, "p-inv")
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		total, err = repo.ProductOnHand(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, total)

		_, err = repo.Decrement(ctx, inventory.Key{ProductID: "missing"}, 1)
		assert.ErrorIs(t, err, inventory.ErrUnitNotFound)
	})

	t.Run("concurrent decrements never overdraw", func(t *testing.T) {
		ctx := context.Background()
		seedProduct(t, pool, "p-race", 5)
		repo := postgres.NewInventoryRepository(pool)

		var (
			wg   sync.WaitGroup
			sold atomic.Int32
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Decrement(ctx, inventory.Key{ProductID: "p-race"}, 1); err == nil {
					sold.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 5, sold.Load())
		u, err := repo.Get(ctx, inventory.Key{ProductID: "p-race"})
		require.NoError(t, err)
		assert.Zero(t, u.OnHand)
	})

	t.Run("coupon redeem and reverse", func(t *testing.T) {
		ctx := context.Background()
		repo := postgres.NewCouponRepository(pool)
		require.NoError(t, repo.UpsertBatch(ctx, []coupon.Rule{{
			ID:           "c-cap",
			Code:         "cap2",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			UsageLimit:   2,
			Status:       coupon.StatusActive,
		}}))

		rule, err := repo.FindByCode(ctx, " Cap2 ")
		require.NoError(t, err)
		assert.Equal(t, "CAP2", rule.Code)

		_, err = repo.FindByCode(ctx, "nope")
		var nf *coupon.NotFoundError
		assert.ErrorAs(t, err, &nf)

		redeem := func(orderID string) error {
			return repo.Redeem(ctx, &coupon.Redemption{
				ID:        "r-" + orderID,
				CouponID:  "c-cap",
				UserID:    "u-1",
				OrderID:   orderID,
				Amount:    decimal.NewFromInt(1),
				CreatedAt: time.Now(),
			}, rule.UsageLimit)
		}

		require.NoError(t, redeem("o-1"))
		assert.ErrorIs(t, redeem("o-1"), coupon.ErrAlreadyRedeemed)
		require.NoError(t, redeem("o-2"))

		var limitErr *coupon.UsageLimitExceededError
		require.ErrorAs(t, redeem("o-3"), &limitErr)
		assert.Equal(t, "CAP2", limitErr.Code)

		n, err := repo.CountUserRedemptions(ctx, "c-cap", "u-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ok, err := repo.Reverse(ctx, "c-cap", "o-1", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.Reverse(ctx, "c-cap", "o-1", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		red, err := repo.FindRedemption(ctx, "c-cap", "o-1")
		require.NoError(t, err)
		assert.Nil(t, red)

		rule, err = repo.FindByCode(ctx, "CAP2")
		require.NoError(t, err)
		assert.Equal(t, 1, rule.UsageCount)

		require.NoError(t, repo.RecordAttempt(ctx, &coupon.Redemption{
			ID: "r-fail", CouponID: "c-cap", UserID: "u-2", OrderID: "o-9",
			Reason: "minimum not met", CreatedAt: time.Now(),
		}))
		n, err = repo.CountUserRedemptions(ctx, "c-cap", "u-2")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("coupon usage cap under contention", func(t *testing.T) {
		ctx := context.Background()
		repo := postgres.NewCouponRepository(pool)
		require.NoError(t, repo.UpsertBatch(ctx, []coupon.Rule{{
			ID: "c-race", Code: "RACE", DiscountType: coupon.DiscountFixed,
			Value: decimal.NewFromInt(5), UsageLimit: 3, Status: coupon.StatusActive,
		}}))

		var (
			wg  sync.WaitGroup
			won atomic.Int32
		)
		for i := range 12 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.Redeem(ctx, &coupon.Redemption{
					ID:        fmt.Sprintf("rr-%d", i),
					CouponID:  "c-race",
					UserID:    fmt.Sprintf("u-%d", i),
					OrderID:   fmt.Sprintf("or-%d", i),
					CreatedAt: time.Now(),
				}, 3)
				if err == nil {
					won.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 3, won.Load())
		rule, err := repo.FindByCode(ctx, "RACE")
		require.NoError(t, err)
		assert.Equal(t, 3, rule.UsageCount)
	})

	t.Run("transaction rolls back every repository", func(t *testing.T) {
		ctx := context.Background()
		seedProduct(t, pool, "p-tx", 4)
		txr := postgres.NewTransactor(pool)
		inv := postgres.NewInventoryRepository(pool)
		orders := postgres.NewOrderRepository(pool)

		errBoom := fmt.Errorf("boom")
		err := txr.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := inv.Decrement(ctx, inventory.Key{ProductID: "p-tx"}, 3); err != nil {
				return err
			}
			if err := orders.Create(ctx, newOrder("o-tx")); err != nil {
				return err
			}
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		u, err := inv.Get(ctx, inventory.Key{ProductID: "p-tx"})
		require.NoError(t, err)
		assert.Equal(t, 4, u.OnHand)
		_, err = orders.Get(ctx, "o-tx")
		assert.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("order versioned update", func(t *testing.T) {
		ctx := context.Background()
		repo := postgres.NewOrderRepository(pool)
		o := newOrder("o-ver")
		require.NoError(t, repo.Create(ctx, o))
		assert.Equal(t, 1, o.Version)

		got, err := repo.Get(ctx, "o-ver")
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "li-1", got.Items[0].ID)
		assert.True(t, decimal.RequireFromString("21.50").Equal(got.TotalAmount))

		stale := got.Clone()
		got.Status = order.StatusConfirmed
		require.NoError(t, repo.Update(ctx, got))
		assert.Equal(t, 2, got.Version)

		stale.Status = order.StatusCancelled
		var conflict *order.ConcurrencyConflictError
		assert.ErrorAs(t, repo.Update(ctx, stale), &conflict)

		missing := newOrder("o-missing")
		missing.Version = 1
		assert.ErrorIs(t, repo.Update(ctx, missing), order.ErrNotFound)
	})

	t.Run("api keys", func(t *testing.T) {
		ctx := context.Background()
		repo := postgres.NewAPIKeyRepository(pool)
		require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
			ID: "k1", KeyHash: "hash-1", Name: "test", Scopes: []string{auth.ScopeCheckout},
		}))

		info, err := repo.FindByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.True(t, info.HasScope(auth.ScopeCheckout))

		_, err = repo.FindByHash(ctx, "nope")
		assert.ErrorIs(t, err, auth.ErrKeyNotFound)
	})
}

func newOrder(id string) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &order.Order{
		ID:       id,
		UserID:   "u-1",
		SellerID: "seller-1",
		Items: []order.LineItem{
			{ID: "li-1", ProductID: "p-1", Name: "One", Quantity: 1,
				UnitPrice: decimal.RequireFromString("10.00"), TotalPrice: decimal.RequireFromString("10.00")},
			{ID: "li-2", ProductID: "p-2", Name: "Two", Quantity: 1,
				UnitPrice: decimal.RequireFromString("10.00"), TotalPrice: decimal.RequireFromString("10.00")},
		},
		Subtotal:      decimal.RequireFromString("20.00"),
		TaxAmount:     decimal.RequireFromString("1.50"),
		ShippingCost:  decimal.Zero,
		TotalAmount:   decimal.RequireFromString("21.50"),
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
