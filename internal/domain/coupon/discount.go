package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Amount computes the discount a rule grants on orderAmount. Free-shipping
// rules grant exactly the shipping cost.
func Amount(rule *Rule, orderAmount, shippingCost decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = orderAmount.Mul(rule.Value).Div(hundred)
		if rule.MaximumDiscountAmount.IsPositive() {
			amount = decimal.Min(amount, rule.MaximumDiscountAmount)
		}
	case DiscountFixed:
		amount = decimal.Min(rule.Value, orderAmount)
	case DiscountFreeShipping:
		amount = shippingCost
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}

// InScope reports whether at least one item is eligible. Exclusions win over
// inclusions; with only exclusions configured every other item is eligible.
func InScope(rule *Rule, items []Item) bool {
	if !rule.Restricted() {
		return true
	}

	products := toSet(rule.ApplicableProducts)
	categories := toSet(rule.ApplicableCategories)
	exProducts := toSet(rule.ExcludedProducts)
	exCategories := toSet(rule.ExcludedCategories)
	onlyExclusions := len(products) == 0 && len(categories) == 0

	for _, it := range items {
		if _, ok := exProducts[it.ProductID]; ok {
			continue
		}
		if _, ok := exCategories[it.CategoryID]; ok {
			continue
		}
		if onlyExclusions {
			return true
		}
		if _, ok := products[it.ProductID]; ok {
			return true
		}
		if _, ok := categories[it.CategoryID]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
