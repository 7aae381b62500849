package billing

import "math"

// Totals is the computed money breakdown for an invoice.
type Totals struct {
	Subtotal    float64
	DiscountAmt float64
	TaxAmount   float64
	Total       float64
}

// ComputeTotals sums the line items, applies a percentage discount to the
// subtotal, then a percentage tax to the discounted amount. All figures are
// rounded to cents.
func ComputeTotals(items []LineItem, taxRate, discountRate float64) Totals {
	var subtotal float64
	for _, li := range items {
		subtotal += li.Amount()
	}
	subtotal = roundCents(subtotal)

	discount := roundCents(subtotal * discountRate / 100)
	taxable := subtotal - discount
	tax := roundCents(taxable * taxRate / 100)

	return Totals{
		Subtotal:    subtotal,
		DiscountAmt: discount,
		TaxAmount:   tax,
		Total:       roundCents(taxable + tax),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
