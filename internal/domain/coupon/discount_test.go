package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAmount(t *testing.T) {
	tests := []struct {
		name     string
		rule     Rule
		order    string
		shipping string
		want     string
	}{
		{
			name:  "percentage capped by maximum",
			rule:  Rule{DiscountType: DiscountPercentage, Value: dec("10"), MaximumDiscountAmount: dec("20")},
			order: "200",
			want:  "20",
		},
		{
			name:  "percentage below cap",
			rule:  Rule{DiscountType: DiscountPercentage, Value: dec("10"), MaximumDiscountAmount: dec("20")},
			order: "150",
			want:  "15",
		},
		{
			name:  "percentage without cap rounds half up",
			rule:  Rule{DiscountType: DiscountPercentage, Value: dec("15")},
			order: "33.33",
			want:  "5",
		},
		{
			name:  "fixed amount clamped to order",
			rule:  Rule{DiscountType: DiscountFixed, Value: dec("50")},
			order: "30",
			want:  "30",
		},
		{
			name:  "fixed amount below order",
			rule:  Rule{DiscountType: DiscountFixed, Value: dec("50")},
			order: "120",
			want:  "50",
		},
		{
			name:     "free shipping equals shipping cost",
			rule:     Rule{DiscountType: DiscountFreeShipping},
			order:    "80",
			shipping: "7.99",
			want:     "7.99",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shipping := decimal.Zero
			if tt.shipping != "" {
				shipping = dec(tt.shipping)
			}
			got, err := Amount(&tt.rule, dec(tt.order), shipping)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestAmount_UnknownType(t *testing.T) {
	_, err := Amount(&Rule{DiscountType: "bogus"}, dec("10"), decimal.Zero)
	require.Error(t, err)
}

func TestInScope(t *testing.T) {
	items := []Item{
		{ProductID: "p1", CategoryID: "shoes"},
		{ProductID: "p2", CategoryID: "hats"},
	}

	tests := []struct {
		name  string
		rule  Rule
		items []Item
		want  bool
	}{
		{name: "unrestricted", rule: Rule{}, items: items, want: true},
		{name: "product match", rule: Rule{ApplicableProducts: []string{"p2"}}, items: items, want: true},
		{name: "category match", rule: Rule{ApplicableCategories: []string{"shoes"}}, items: items, want: true},
		{name: "no match", rule: Rule{ApplicableProducts: []string{"p9"}}, items: items, want: false},
		{
			name:  "exclusion wins over inclusion",
			rule:  Rule{ApplicableProducts: []string{"p1"}, ExcludedCategories: []string{"shoes"}},
			items: items,
			want:  false,
		},
		{
			name:  "only exclusions leaves other items eligible",
			rule:  Rule{ExcludedProducts: []string{"p1"}},
			items: items,
			want:  true,
		},
		{
			name:  "all items excluded",
			rule:  Rule{ExcludedCategories: []string{"shoes", "hats"}},
			items: items,
			want:  false,
		},
		{name: "restricted with empty order", rule: Rule{ApplicableProducts: []string{"p1"}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InScope(&tt.rule, tt.items))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "", NormalizeCode("   "))
}
