package broker

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fleet-trader/internal/models"
)

// Property: with a fixed price, paper fills conserve equity. Cash plus the
// marked value of open positions always equals the starting balance.
func TestProperty_PaperFillsConserveEquity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("paper equity is conserved at constant price", prop.ForAll(
		func(qtys []int, sells []bool, price float64) bool {
			ctx := context.Background()
			p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 1e9})
			p.UpdatePrice("NVDA", price)

			for i, q := range qtys {
				side := models.OrderSideBuy
				if i < len(sells) && sells[i] {
					side = models.OrderSideSell
				}
				if _, err := p.SubmitOrder(ctx, &models.Order{Symbol: "NVDA", Side: side, Quantity: float64(q)}); err != nil {
					return false
				}
			}

			acct, err := p.GetAccount(ctx)
			if err != nil {
				return false
			}
			return math.Abs(acct.Equity-1e9) < 1e-3
		},
		gen.SliceOfN(20, gen.IntRange(1, 100)),
		gen.SliceOfN(20, gen.Bool()),
		gen.Float64Range(1, 500),
	))

	properties.TestingRun(t)
}
