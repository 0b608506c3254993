package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/auth"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
	"github.com/xenking/marketplace-checkout/internal/domain/tx"
	"github.com/xenking/marketplace-checkout/internal/fixture"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/storage/memory"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
)

// catalog is a product repository that also tracks stock-driven status.
type catalog interface {
	product.Repository
	product.StockObserver
}

// carts reads and clears carts.
type carts interface {
	cart.Provider
	cart.Clearer
}

// stores is one storage backend's set of repositories.
type stores struct {
	products  catalog
	carts     carts
	inventory inventory.Repository
	coupons   coupon.Repository
	orders    order.Repository
	apikeys   auth.Repository
	tx        tx.Transactor
	pool      *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openPostgres connects, migrates and returns the pgx-backed repositories.
func openPostgres(ctx context.Context, databaseURL string) (*stores, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &stores{
		products:  postgres.NewProductRepository(pool),
		carts:     postgres.NewCartRepository(pool),
		inventory: postgres.NewInventoryRepository(pool),
		coupons:   postgres.NewCouponRepository(pool),
		orders:    postgres.NewOrderRepository(pool),
		apikeys:   postgres.NewAPIKeyRepository(pool),
		tx:        postgres.NewTransactor(pool),
		pool:      pool,
	}, nil
}

// openMemory returns in-process repositories preloaded with the demo catalog.
// devKey, when set, is granted every scope.
func openMemory(pepper []byte, devKey string) (*stores, error) {
	set, err := fixture.Default()
	if err != nil {
		return nil, err
	}

	products := memory.NewProductRepository()
	products.Put(set.Products...)

	stock := memory.NewInventoryRepository()
	for _, u := range set.Units {
		stock.Put(u)
	}

	carts := memory.NewCartRepository()
	for userID, lines := range set.Carts {
		carts.Set(userID, lines...)
	}

	coupons := memory.NewCouponRepository()
	for _, rule := range set.Coupons {
		coupons.Put(rule)
	}

	apikeys := memory.NewAPIKeyRepository()
	if devKey != "" {
		apikeys.Put(auth.APIKeyInfo{
			ID:      "dev",
			KeyHash: handler.HashKey(pepper, devKey),
			Name:    "development",
			Scopes:  []string{"*"},
		})
	}

	return &stores{
		products:  products,
		carts:     carts,
		inventory: stock,
		coupons:   coupons,
		orders:    memory.NewOrderRepository(),
		apikeys:   apikeys,
		tx:        tx.None{},
	}, nil
}
