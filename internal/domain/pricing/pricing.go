// Package pricing derives order totals from line items, shipping, tax and a
// resolved discount. Everything here is a pure function of its inputs.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// TaxMode selects the base the tax policy is applied to.
type TaxMode string

const (
	// TaxAfterDiscount taxes subtotal minus the merchandise discount.
	TaxAfterDiscount TaxMode = "after_discount"
	// TaxBeforeDiscount taxes the full subtotal.
	TaxBeforeDiscount TaxMode = "before_discount"
)

// ParseTaxMode validates a configured tax mode. Empty means TaxAfterDiscount.
func ParseTaxMode(s string) (TaxMode, error) {
	switch TaxMode(s) {
	case "", TaxAfterDiscount:
		return TaxAfterDiscount, nil
	case TaxBeforeDiscount:
		return TaxBeforeDiscount, nil
	default:
		return "", errors.Errorf("unknown tax mode %q", s)
	}
}

// Line is a priced order line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Input holds everything needed to price an order.
type Input struct {
	Lines        []Line
	ShippingCost decimal.Decimal
	// Discount is the resolved discount amount before clamping.
	Discount decimal.Decimal
	// DiscountOnShipping marks a free-shipping discount, which does not reduce
	// the taxable merchandise base.
	DiscountOnShipping bool
	Tax                TaxPolicy
	Jurisdiction       string
	Mode               TaxMode
}

// LineBreakdown is the apportioned view of one line.
type LineBreakdown struct {
	Total    decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
}

// Breakdown holds the five monetary fields of an order plus per-line shares.
// Total == Subtotal + Tax + Shipping - Discount always holds.
type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Lines    []LineBreakdown
}

// TaxPolicy computes the tax owed on an amount.
type TaxPolicy interface {
	ComputeTax(base decimal.Decimal, jurisdiction string) decimal.Decimal
}

// QuoteRequest describes a shipment for the shipping quoter.
type QuoteRequest struct {
	Subtotal     decimal.Decimal
	Items        int
	Jurisdiction string
}

// ShippingQuoter prices a shipment.
type ShippingQuoter interface {
	Quote(ctx context.Context, req QuoteRequest) (decimal.Decimal, error)
}
