package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-checkout/internal/domain/pricing"
	"github.com/xenking/marketplace-checkout/internal/handler"
)

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "postgres with url",
			cfg:  Config{Storage: StoragePostgres, DatabaseURL: "postgres://localhost/market"},
		},
		{
			name:    "postgres without url",
			cfg:     Config{Storage: StoragePostgres},
			wantErr: "database URL is required",
		},
		{
			name: "memory",
			cfg:  Config{Storage: StorageMemory},
		},
		{
			name:    "unknown storage",
			cfg:     Config{Storage: "sqlite"},
			wantErr: `unknown storage "sqlite"`,
		},
		{
			name:    "bad tax mode",
			cfg:     Config{Storage: StorageMemory, Pricing: PricingConfig{TaxMode: "sometimes"}},
			wantErr: "unknown tax mode",
		},
		{
			name:    "negative shipping",
			cfg:     Config{Storage: StorageMemory, Pricing: PricingConfig{ShippingFlat: "-1"}},
			wantErr: "must not be negative",
		},
		{
			name:    "bad jurisdiction rate",
			cfg:     Config{Storage: StorageMemory, Pricing: PricingConfig{TaxRates: map[string]string{"CA": "seven"}}},
			wantErr: "tax rate CA",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPricingConfig_Policies(t *testing.T) {
	p, err := PricingConfig{
		TaxMode:          "before_discount",
		DefaultTaxRate:   "5",
		TaxRates:         map[string]string{"ca": "7.25"},
		ShippingFlat:     "4.99",
		FreeShippingOver: "100",
	}.Policies()
	require.NoError(t, err)

	assert.Equal(t, pricing.TaxBeforeDiscount, p.TaxMode)
	assert.True(t, decimal.RequireFromString("7.25").Equal(p.Tax.ComputeTax(decimal.NewFromInt(100), "CA")))
	assert.True(t, decimal.NewFromInt(5).Equal(p.Tax.ComputeTax(decimal.NewFromInt(100), "NY")))
	assert.True(t, decimal.RequireFromString("4.99").Equal(p.Shipping.Amount))
	assert.True(t, decimal.NewFromInt(100).Equal(p.Shipping.FreeOver))
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080", RedisURL: "redis://explicit:6379"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://explicit:6379", cfg.RedisURL, "explicit setting wins")
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestOpenMemory(t *testing.T) {
	st, err := openMemory([]byte("pepper"), "dev-key")
	require.NoError(t, err)
	defer st.Close()

	ctx := t.Context()
	lines, err := st.carts.GetLineItems(ctx, "user-alice")
	require.NoError(t, err)
	assert.NotEmpty(t, lines)

	rule, err := st.coupons.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", rule.Code)

	key, err := st.apikeys.FindByHash(ctx, handler.HashKey([]byte("pepper"), "dev-key"))
	require.NoError(t, err)
	assert.True(t, key.HasScope("checkout"))
}
