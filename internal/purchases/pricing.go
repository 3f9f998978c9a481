package purchases

import "github.com/shopspring/decimal"

const (
	// MinCreditsPerPurchase and MaxCreditsPerPurchase bound a single checkout.
	MinCreditsPerPurchase = 10
	MaxCreditsPerPurchase = 5000
)

// priceTier applies its unit price to any quantity at or above the threshold.
type priceTier struct {
	minCredits int
	unitPrice  decimal.Decimal
}

// Volume discount schedule, evaluated server-side only. Clients never send
// prices.
var priceTiers = []priceTier{
	{minCredits: 2500, unitPrice: decimal.RequireFromString("0.030")},
	{minCredits: 1000, unitPrice: decimal.RequireFromString("0.035")},
	{minCredits: 500, unitPrice: decimal.RequireFromString("0.040")},
	{minCredits: 100, unitPrice: decimal.RequireFromString("0.045")},
	{minCredits: 0, unitPrice: decimal.RequireFromString("0.050")},
}

// UnitPriceFor returns the per-credit price in dollars for the quantity.
func UnitPriceFor(credits int) decimal.Decimal {
	for _, tier := range priceTiers {
		if credits >= tier.minCredits {
			return tier.unitPrice
		}
	}
	return priceTiers[len(priceTiers)-1].unitPrice
}

// AmountCents returns the total charge in cents for the quantity. The whole
// quantity is billed at the single tier it lands in.
func AmountCents(credits int) int64 {
	total := UnitPriceFor(credits).
		Mul(decimal.NewFromInt(int64(credits))).
		Mul(decimal.NewFromInt(100))
	return total.Round(0).IntPart()
}
