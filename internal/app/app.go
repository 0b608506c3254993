// Package app wires configuration, storage, domain services and the HTTP
// server into one process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/event"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/storage/memory"
	"github.com/xenking/marketplace-checkout/internal/storage/redis"
	"github.com/xenking/marketplace-checkout/pkg/health"
	"github.com/xenking/marketplace-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.Bool("redis", cfg.RedisURL != ""),
	)

	policies, err := cfg.Pricing.Policies()
	if err != nil {
		return errors.Wrap(err, "pricing")
	}
	pepper := []byte(cfg.APIKeyPepper)

	var st *stores
	switch cfg.Storage {
	case StorageMemory:
		st, err = openMemory(pepper, cfg.DevAPIKey)
	default:
		st, err = openPostgres(ctx, cfg.DatabaseURL)
	}
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer st.Close()

	healthSvc := health.New()
	healthSvc.AddLiveness(health.Probe{
		Name:    "goroutines",
		Timeout: time.Second,
		Check:   health.GoroutineCountCheck(10000),
	})
	if st.pool != nil {
		healthSvc.AddReadiness(health.Probe{
			Name:    "postgres",
			Timeout: 5 * time.Second,
			Check:   health.PingCheck(st.pool),
		})
	}

	// Redis is optional: without it idempotency keys, rate limits and events
	// stay in this process.
	emitters := []event.Emitter{event.NewLogEmitter(lg.Named("events"))}
	var (
		idem    checkout.IdempotencyStore = memory.NewIdempotencyStore(cfg.Checkout.IdempotencyTTL)
		limiter httpmiddleware.Limiter
	)
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadiness(health.Probe{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Check:   pingRedis(rdb),
		})
		idem = redis.NewIdempotencyStore(rdb, cfg.Checkout.IdempotencyTTL)
		limiter = redis.NewFixedWindow(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		emitters = append(emitters, redis.NewEmitter(rdb, cfg.Events.OrderChannel, cfg.Events.AnalyticsChannel))
	} else {
		sw := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go sw.Run(ctx)
		limiter = sw
	}

	healthSvc.Start(ctx, 10*time.Second)

	dispatcher := event.NewDispatcher(lg.Named("events"), cfg.Events.Timeout, emitters...)

	// Domain services.
	ledger := inventory.NewLedger(st.inventory, st.products)
	coupons := coupon.NewService(st.coupons)
	orders, err := order.NewManager(order.Deps{
		Orders:     st.orders,
		Transactor: st.tx,
		Stock:      ledger,
		Coupons:    coupons,
		Events:     dispatcher,
		Meter:      m.MeterProvider(),
		Tracer:     m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order manager")
	}
	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Carts:       st.carts,
		CartClearer: st.carts,
		Products:    st.products,
		Stock:       ledger,
		Coupons:     coupons,
		Orders:      st.orders,
		Transactor:  st.tx,
		Tax:         policies.Tax,
		TaxMode:     policies.TaxMode,
		Shipping:    policies.Shipping,
		Events:      dispatcher,
		Idempotency: idem,
		Meter:       m.MeterProvider(),
		Tracer:      m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	// HTTP handlers.
	h := handler.New(
		handler.Config{AllowDiscountFallback: cfg.Checkout.AllowDiscountFallback},
		checkoutSvc,
		orders,
		coupons,
	)
	sec := handler.NewSecurity(st.apikeys, pepper)

	mux := chi.NewRouter()
	healthSvc.Mount(mux)
	mux.Mount("/", h.Routes(sec))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
				Limiter: limiter,
			}),
			httpmiddleware.Instrument("marketplace-checkout", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			lg.Warn("Pending events dropped", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func pingRedis(rdb *goredis.Client) health.CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
