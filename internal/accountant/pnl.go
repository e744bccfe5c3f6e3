package accountant

import (
	"github.com/shopspring/decimal"

	"fleet-trader/internal/models"
)

// RealizedPnL is the average-cost realized profit over a set of fills:
// total sell value minus the average buy price times the quantity sold. It is
// zero when there are no buys.
//
// Sells are matched against the window's average buy price regardless of
// order, so a sell of a position opened before the window is priced against
// later buys.
func RealizedPnL(entries []models.TradeLogEntry) decimal.Decimal {
	var buyValue, buyQty, sellValue, sellQty decimal.Decimal
	for _, e := range entries {
		price := decimal.NewFromFloat(e.Price)
		qty := decimal.NewFromFloat(e.Quantity)
		switch e.Action {
		case models.ActionBuy:
			buyValue = buyValue.Add(price.Mul(qty))
			buyQty = buyQty.Add(qty)
		case models.ActionSell:
			sellValue = sellValue.Add(price.Mul(qty))
			sellQty = sellQty.Add(qty)
		}
	}
	if buyQty.IsZero() {
		return decimal.Zero
	}
	avg := buyValue.Div(buyQty)
	return sellValue.Sub(avg.Mul(sellQty))
}
