// Package money derives invoice totals from line items, tax and discount.
//
// Order of operations is fixed:
//
//	subtotal = Σ quantity × rate
//	tax      = subtotal × taxRate / 100            (pre-discount subtotal)
//	discount = subtotal × discount / 100            (PERCENTAGE, pre-tax subtotal)
//	         | discount                             (FIXED, subtracted after tax)
//	total    = max(0, subtotal + tax − discount)
//
// Line amounts and the subtotal are exact. Tax and percentage discounts are
// rounded half away from zero to the currency's minor unit.
package money

import (
	"fmt"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals is the derived money state of an item list
type Totals struct {
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	// Clamped is set when subtotal + tax − discount was negative
	Clamped bool
}

// ComputeTotals is pure: the same inputs always give the same Totals.
// Nil or empty items give all-zero totals.
func ComputeTotals(items []entity.InvoiceItem, taxRate, discount decimal.Decimal, discountType entity.DiscountType, currency string) (Totals, error) {
	if err := ValidateRates(taxRate, discount, discountType); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return Totals{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		subtotal = subtotal.Add(item.Amount())
	}

	exp := Exponent(currency)
	tax := subtotal.Mul(taxRate).Div(hundred).Round(exp)

	var discountAmount decimal.Decimal
	switch discountType {
	case entity.DiscountTypePercentage:
		discountAmount = subtotal.Mul(discount).Div(hundred).Round(exp)
	default:
		discountAmount = discount
	}

	total := subtotal.Add(tax).Sub(discountAmount)
	clamped := false
	if total.IsNegative() {
		total = decimal.Zero
		clamped = true
	}

	return Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discountAmount,
		Total:          total,
		Clamped:        clamped,
	}, nil
}

// ValidateRates checks tax rate and discount independently of items
func ValidateRates(taxRate, discount decimal.Decimal, discountType entity.DiscountType) error {
	if taxRate.IsNegative() || taxRate.GreaterThan(hundred) {
		return entity.ErrInvalidTaxRate
	}
	if discount.IsNegative() {
		return entity.ErrInvalidDiscount
	}
	if discountType != "" && !discountType.IsValid() {
		return entity.ErrInvalidDiscount
	}
	return nil
}

// BalanceDue returns max(0, total − paid)
func BalanceDue(total, paid decimal.Decimal) decimal.Decimal {
	balance := total.Sub(paid)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// Recalculate writes the derived totals and balance of inv from its inputs
func Recalculate(inv *entity.Invoice) error {
	totals, err := ComputeTotals(inv.Items, inv.TaxRate, inv.Discount, inv.DiscountType, inv.Currency)
	if err != nil {
		return err
	}

	inv.Subtotal = totals.Subtotal
	inv.TaxAmount = totals.TaxAmount
	inv.DiscountAmount = totals.DiscountAmount
	inv.TotalAmount = totals.Total
	inv.TotalClamped = totals.Clamped
	inv.BalanceDue = BalanceDue(totals.Total, inv.PaidAmount)
	return nil
}
