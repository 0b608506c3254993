// Command seed-db migrates the database and loads the demo catalog:
// products with stock, carts, discount codes and one API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/db"
	"github.com/xenking/marketplace-checkout/internal/domain/auth"
	"github.com/xenking/marketplace-checkout/internal/fixture"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "catalog JSON to load instead of the embedded demo catalog")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or MARKET_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MARKET_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("MARKET_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or MARKET_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MARKET_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	data := db.Seed
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		b, err := os.ReadFile(catalogFile)
		if err != nil {
			return errors.Wrap(err, "read catalog file")
		}
		data = b
	}
	set, err := fixture.Decode(data)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Everything is seeded in one transaction.
	return postgres.NewTransactor(pool).WithinTx(ctx, func(ctx context.Context) error {
		if err := seedCatalog(ctx, pool, set); err != nil {
			return errors.Wrap(err, "seed catalog")
		}
		if err := seedCarts(ctx, pool, set); err != nil {
			return errors.Wrap(err, "seed carts")
		}
		if err := seedCoupons(ctx, pool, set); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
		return nil
	})
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, set *fixture.Set) error {
	products := postgres.NewProductRepository(pool)
	for _, p := range set.Products {
		if err := products.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	stock := postgres.NewInventoryRepository(pool)
	for _, u := range set.Units {
		if err := stock.Upsert(ctx, u); err != nil {
			return errors.Wrapf(err, "upsert stock %s", u.Key)
		}
		slog.Info("set stock", slog.String("unit", u.Key.String()), slog.Int("on_hand", u.OnHand))
	}
	return nil
}

func seedCarts(ctx context.Context, pool *pgxpool.Pool, set *fixture.Set) error {
	carts := postgres.NewCartRepository(pool)
	for userID, lines := range set.Carts {
		if err := carts.Clear(ctx, userID); err != nil {
			return errors.Wrapf(err, "clear cart of %s", userID)
		}
		if err := carts.Add(ctx, userID, lines...); err != nil {
			return errors.Wrapf(err, "fill cart of %s", userID)
		}
		slog.Info("filled cart", slog.String("user_id", userID), slog.Int("lines", len(lines)))
	}
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, set *fixture.Set) error {
	if err := postgres.NewCouponRepository(pool).UpsertBatch(ctx, set.Coupons); err != nil {
		return err
	}
	for _, c := range set.Coupons {
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "Default key",
		Scopes:  []string{auth.ScopeCheckout, auth.ScopeOrders, auth.ScopeCoupons},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default key"))
	return nil
}
