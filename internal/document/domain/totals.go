package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Totals are the derived money fields of a document.
type Totals struct {
	Subtotal  decimal.Decimal
	BTWAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals returns subtotal = sum(quantity * unit price) and
// total = subtotal + subtotal * btw / 100, each rounded to cents.
func ComputeTotals(items []LineItemInput, btwPercentage decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Amount())
	}
	subtotal = subtotal.Round(2)
	btw := subtotal.Mul(btwPercentage).Div(hundred).Round(2)
	return Totals{
		Subtotal:  subtotal,
		BTWAmount: btw,
		Total:     subtotal.Add(btw),
	}
}

// Amount is the unrounded line amount.
func (i LineItemInput) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}
