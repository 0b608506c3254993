package pricing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FlatRate applies one percentage rate everywhere.
type FlatRate struct {
	Percent decimal.Decimal
}

// ComputeTax implements TaxPolicy.
func (f FlatRate) ComputeTax(base decimal.Decimal, _ string) decimal.Decimal {
	return Round2(base.Mul(f.Percent).Div(hundred))
}

// JurisdictionRates applies a per-jurisdiction percentage, falling back to
// Default for unknown jurisdictions. Keys are matched case-insensitively.
type JurisdictionRates struct {
	Default decimal.Decimal
	Rates   map[string]decimal.Decimal
}

// NewJurisdictionRates normalizes the rate table keys.
func NewJurisdictionRates(def decimal.Decimal, rates map[string]decimal.Decimal) JurisdictionRates {
	norm := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		norm[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return JurisdictionRates{Default: def, Rates: norm}
}

// ComputeTax implements TaxPolicy.
func (j JurisdictionRates) ComputeTax(base decimal.Decimal, jurisdiction string) decimal.Decimal {
	rate, ok := j.Rates[strings.ToUpper(strings.TrimSpace(jurisdiction))]
	if !ok {
		rate = j.Default
	}
	return FlatRate{Percent: rate}.ComputeTax(base, jurisdiction)
}

// FlatShipping charges Amount per order, or nothing once the subtotal reaches
// FreeOver (when FreeOver is positive).
type FlatShipping struct {
	Amount   decimal.Decimal
	FreeOver decimal.Decimal
}

// Quote implements ShippingQuoter.
func (f FlatShipping) Quote(_ context.Context, req QuoteRequest) (decimal.Decimal, error) {
	if req.Items == 0 {
		return zero, nil
	}
	if f.FreeOver.IsPositive() && req.Subtotal.GreaterThanOrEqual(f.FreeOver) {
		return zero, nil
	}
	return f.Amount, nil
}
