package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/pricing"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for idempotency keys, shared rate limits and events (MARKET_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	DevAPIKey    string `usage:"API key granted every scope when Storage is memory" flag:"dev-api-key"`
	Pricing      PricingConfig
	Checkout     CheckoutConfig
	Events       EventsConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// PricingConfig selects the tax and shipping policies. Rates are percentages.
type PricingConfig struct {
	TaxMode          string            `default:"after_discount" usage:"Tax base: after_discount or before_discount" flag:"tax-mode"`
	DefaultTaxRate   string            `default:"0" usage:"Tax percentage for jurisdictions without an entry" flag:"default-tax-rate"`
	TaxRates         map[string]string `usage:"Tax percentage per jurisdiction, e.g. CA:7.25,NY:8" flag:"tax-rates"`
	ShippingFlat     string            `default:"0" usage:"Flat shipping charge per order" flag:"shipping-flat"`
	FreeShippingOver string            `default:"0" usage:"Subtotal from which shipping is free (0 disables)" flag:"free-shipping-over"`
}

// CheckoutConfig controls the checkout orchestrator.
type CheckoutConfig struct {
	IdempotencyTTL        time.Duration `default:"24h" usage:"How long an Idempotency-Key maps to its order" flag:"idempotency-ttl"`
	AllowDiscountFallback bool          `default:"false" usage:"Let clients complete checkout without a rejected discount" flag:"allow-discount-fallback"`
}

// EventsConfig controls order and analytics event delivery.
type EventsConfig struct {
	OrderChannel     string        `default:"orders.events" usage:"Redis channel for order events" flag:"order-channel"`
	AnalyticsChannel string        `default:"analytics.events" usage:"Redis channel for analytics events" flag:"analytics-channel"`
	Timeout          time.Duration `default:"5s" usage:"Per-delivery event timeout" flag:"event-timeout"`
}

// RateLimitConfig controls per-API-key request limits. The window is shared
// through Redis when RedisURL is set.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/marketplace/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints and money values.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if _, err := c.Pricing.Policies(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// Policies is the parsed form of PricingConfig.
type Policies struct {
	TaxMode  pricing.TaxMode
	Tax      pricing.JurisdictionRates
	Shipping pricing.FlatShipping
}

// Policies parses the configured rates and amounts.
func (p PricingConfig) Policies() (*Policies, error) {
	mode, err := pricing.ParseTaxMode(p.TaxMode)
	if err != nil {
		return nil, err
	}
	def, err := parseAmount("default tax rate", p.DefaultTaxRate)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]decimal.Decimal, len(p.TaxRates))
	for k, v := range p.TaxRates {
		rate, err := parseAmount("tax rate "+k, v)
		if err != nil {
			return nil, err
		}
		rates[k] = rate
	}
	flat, err := parseAmount("shipping flat", p.ShippingFlat)
	if err != nil {
		return nil, err
	}
	freeOver, err := parseAmount("free shipping threshold", p.FreeShippingOver)
	if err != nil {
		return nil, err
	}
	return &Policies{
		TaxMode:  mode,
		Tax:      pricing.NewJurisdictionRates(def, rates),
		Shipping: pricing.FlatShipping{Amount: flat, FreeOver: freeOver},
	}, nil
}

func parseAmount(name, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s", name)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("%s must not be negative", name)
	}
	return d, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MARKET_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
