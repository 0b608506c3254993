package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	zero = decimal.Zero
	cent = decimal.New(1, -2)
)

// Round2 rounds half-up to cents. Amounts are never negative here, so
// decimal's half-away-from-zero is half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal returns unitPrice * quantity rounded to cents.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return Round2(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}

// Subtotal sums rounded line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		sum = sum.Add(LineTotal(l.UnitPrice, l.Quantity))
	}
	return sum
}

// Price computes the order breakdown. The discount is clamped so the total
// never goes below zero.
func Price(in Input) Breakdown {
	lineTotals := make([]decimal.Decimal, len(in.Lines))
	subtotal := zero
	for i, l := range in.Lines {
		lineTotals[i] = LineTotal(l.UnitPrice, l.Quantity)
		subtotal = subtotal.Add(lineTotals[i])
	}

	shipping := Round2(floorAtZero(in.ShippingCost))
	discount := Round2(floorAtZero(in.Discount))

	// Merchandise share of the discount, used for the taxable base and for
	// per-line apportionment.
	merchDiscount := zero
	if !in.DiscountOnShipping {
		merchDiscount = decimal.Min(discount, subtotal)
	}

	base := subtotal
	if in.Mode != TaxBeforeDiscount {
		base = subtotal.Sub(merchDiscount)
	}

	tax := zero
	if in.Tax != nil {
		tax = Round2(floorAtZero(in.Tax.ComputeTax(base, in.Jurisdiction)))
	}

	gross := subtotal.Add(tax).Add(shipping)
	discount = decimal.Min(discount, gross)

	b := Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    gross.Sub(discount),
		Lines:    make([]LineBreakdown, len(in.Lines)),
	}

	lineDiscounts := Apportion(decimal.Min(merchDiscount, discount), lineTotals)
	lineTaxes := Apportion(tax, lineTotals)
	for i := range in.Lines {
		b.Lines[i] = LineBreakdown{
			Total:    lineTotals[i],
			Discount: lineDiscounts[i],
			Tax:      lineTaxes[i],
		}
	}
	return b
}

// Apportion splits amount across weights proportionally in whole cents.
// Each share is floored, then the leftover cents go to the shares with the
// largest remainders (earlier lines first on ties). Shares are never negative
// and always sum to amount exactly.
func Apportion(amount decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	for i := range shares {
		shares[i] = zero
	}

	total := zero
	for _, w := range weights {
		if w.IsPositive() {
			total = total.Add(w)
		}
	}
	cents := Round2(amount).Shift(2).IntPart()
	if total.IsZero() || cents <= 0 {
		return shares
	}

	type remainder struct {
		idx  int
		frac decimal.Decimal
	}
	var (
		rems     []remainder
		assigned int64
	)
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		exact := decimal.NewFromInt(cents).Mul(w).Div(total)
		whole := exact.Floor()
		shares[i] = whole.Shift(-2)
		assigned += whole.IntPart()
		rems = append(rems, remainder{idx: i, frac: exact.Sub(whole)})
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac.GreaterThan(rems[b].frac)
	})
	for k := 0; assigned < cents; k++ {
		r := rems[k%len(rems)]
		shares[r.idx] = shares[r.idx].Add(cent)
		assigned++
	}
	return shares
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
