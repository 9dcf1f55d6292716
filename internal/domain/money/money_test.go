package money

import (
	"testing"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func item(qty, rate string) entity.InvoiceItem {
	return entity.InvoiceItem{Description: "line", Quantity: d(qty), Rate: d(rate)}
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name         string
		items        []entity.InvoiceItem
		taxRate      string
		discount     string
		discountType entity.DiscountType
		currency     string
		subtotal     string
		tax          string
		discountAmt  string
		total        string
		clamped      bool
	}{
		{
			name:  "fixed discount after tax",
			items: []entity.InvoiceItem{item("2", "50.00")}, taxRate: "10", discount: "20",
			discountType: entity.DiscountTypeFixed, currency: "USD",
			subtotal: "100.00", tax: "10.00", discountAmt: "20", total: "90.00",
		},
		{
			name:  "percentage discount on pre-tax subtotal",
			items: []entity.InvoiceItem{item("2", "50.00")}, taxRate: "10", discount: "10",
			discountType: entity.DiscountTypePercentage, currency: "USD",
			subtotal: "100.00", tax: "10.00", discountAmt: "10.00", total: "100.00",
		},
		{
			name:  "empty items",
			items: nil, taxRate: "10", discount: "0",
			discountType: entity.DiscountTypeFixed, currency: "USD",
			subtotal: "0", tax: "0", discountAmt: "0", total: "0",
		},
		{
			name:  "negative total clamps",
			items: []entity.InvoiceItem{item("1", "10")}, taxRate: "0", discount: "25",
			discountType: entity.DiscountTypeFixed, currency: "USD",
			subtotal: "10", tax: "0", discountAmt: "25", total: "0", clamped: true,
		},
		{
			name:  "fractional quantity stays exact",
			items: []entity.InvoiceItem{item("0.1", "0.2"), item("0.2", "0.1"), item("3", "0.1")}, taxRate: "0", discount: "0",
			discountType: entity.DiscountTypeFixed, currency: "USD",
			subtotal: "0.34", tax: "0", discountAmt: "0", total: "0.34",
		},
		{
			name:  "tax rounds half away from zero",
			items: []entity.InvoiceItem{item("1", "0.05")}, taxRate: "10", discount: "0",
			discountType: entity.DiscountTypeFixed, currency: "USD",
			subtotal: "0.05", tax: "0.01", discountAmt: "0", total: "0.06",
		},
		{
			name:  "zero decimal currency",
			items: []entity.InvoiceItem{item("3", "333")}, taxRate: "8.5", discount: "0",
			discountType: entity.DiscountTypeFixed, currency: "JPY",
			subtotal: "999", tax: "85", discountAmt: "0", total: "1084",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeTotals(tt.items, d(tt.taxRate), d(tt.discount), tt.discountType, tt.currency)
			require.NoError(t, err)

			assertDecimal(t, tt.subtotal, got.Subtotal)
			assertDecimal(t, tt.tax, got.TaxAmount)
			assertDecimal(t, tt.discountAmt, got.DiscountAmount)
			assertDecimal(t, tt.total, got.Total)
			assert.Equal(t, tt.clamped, got.Clamped)
		})
	}
}

func TestComputeTotals_Rejects(t *testing.T) {
	tests := []struct {
		name         string
		items        []entity.InvoiceItem
		taxRate      string
		discount     string
		discountType entity.DiscountType
		want         error
	}{
		{"negative quantity", []entity.InvoiceItem{item("-1", "10")}, "0", "0", entity.DiscountTypeFixed, entity.ErrInvalidItem},
		{"negative rate", []entity.InvoiceItem{item("1", "-10")}, "0", "0", entity.DiscountTypeFixed, entity.ErrInvalidItem},
		{"zero quantity", []entity.InvoiceItem{item("0", "10")}, "0", "0", entity.DiscountTypeFixed, entity.ErrInvalidItem},
		{"tax above 100", []entity.InvoiceItem{item("1", "10")}, "100.5", "0", entity.DiscountTypeFixed, entity.ErrInvalidTaxRate},
		{"negative tax", []entity.InvoiceItem{item("1", "10")}, "-1", "0", entity.DiscountTypeFixed, entity.ErrInvalidTaxRate},
		{"negative discount", []entity.InvoiceItem{item("1", "10")}, "0", "-5", entity.DiscountTypeFixed, entity.ErrInvalidDiscount},
		{"unknown discount type", []entity.InvoiceItem{item("1", "10")}, "0", "5", entity.DiscountType("BOGO"), entity.ErrInvalidDiscount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeTotals(tt.items, d(tt.taxRate), d(tt.discount), tt.discountType, "USD")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, entity.ErrValidation)
		})
	}
}

func TestComputeTotals_Deterministic(t *testing.T) {
	items := []entity.InvoiceItem{item("1.25", "19.99"), item("3", "7.333")}

	first, err := ComputeTotals(items, d("7.25"), d("12.5"), entity.DiscountTypePercentage, "EUR")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := ComputeTotals(items, d("7.25"), d("12.5"), entity.DiscountTypePercentage, "EUR")
		require.NoError(t, err)
		assert.Equal(t, first.Subtotal.String(), again.Subtotal.String())
		assert.Equal(t, first.TaxAmount.String(), again.TaxAmount.String())
		assert.Equal(t, first.DiscountAmount.String(), again.DiscountAmount.String())
		assert.Equal(t, first.Total.String(), again.Total.String())
	}

	// subtotal is the exact sum of line amounts
	assertDecimal(t, "46.9865", first.Subtotal)
	assert.True(t, first.Total.Equal(first.Subtotal.Add(first.TaxAmount).Sub(first.DiscountAmount)))
}

func TestRecalculate(t *testing.T) {
	inv := &entity.Invoice{
		Items:        []entity.InvoiceItem{item("2", "50.00")},
		TaxRate:      d("10"),
		Discount:     d("20"),
		DiscountType: entity.DiscountTypeFixed,
		Currency:     "USD",
		PaidAmount:   d("30"),
	}

	require.NoError(t, Recalculate(inv))
	assertDecimal(t, "90", inv.TotalAmount)
	assertDecimal(t, "60", inv.BalanceDue)
	assert.False(t, inv.TotalClamped)

	inv.PaidAmount = d("120")
	require.NoError(t, Recalculate(inv))
	assertDecimal(t, "0", inv.BalanceDue)
}

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	_, err = NormalizeCurrency("US")
	assert.ErrorIs(t, err, entity.ErrInvalidCurrency)

	assert.Equal(t, int32(0), Exponent("JPY"))
	assert.Equal(t, int32(3), Exponent("kwd"))
	assert.Equal(t, DefaultExponent, Exponent("USD"))
}
