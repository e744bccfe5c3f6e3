package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
)

func TestDefaultRules(t *testing.T) {
	resolver := Default()

	tests := []struct {
		symbol string
		class  models.AssetClass
		owner  fleet.BotName
		rule   string
	}{
		{"BTC/USD", models.AssetCrypto, fleet.CryptoGrid, "crypto"},
		{"BTCUSD", models.AssetCrypto, fleet.CryptoGrid, "crypto"},
		{"DIS250117P00090000", models.AssetOption, fleet.WheelBot, "option_prefix"},
		{"PLTR250321C00025000", models.AssetOption, fleet.WheelBot, "option_prefix"},
		{"TSLA250117C00300000", models.AssetOption, fleet.CondorBot, "option_prefix"},
		{"TQQQ", models.AssetEquity, fleet.SurvivorBot, "leveraged_etf"},
		{"SPXS", models.AssetEquity, fleet.SurvivorBot, "leveraged_etf"},
		{"DIS", models.AssetEquity, fleet.WheelBot, "wheel_underlying"},
		{"NVDA", models.AssetEquity, fleet.TrendBot, "default"},
		{"", models.AssetEquity, fleet.TrendBot, "default"},
		// Leveraged ETF names only match as equities.
		{"TQQQ", models.AssetCrypto, fleet.CryptoGrid, "crypto"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol+"/"+string(tt.class), func(t *testing.T) {
			owner, rule := resolver.Explain(tt.symbol, tt.class)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.rule, rule)
		})
	}
}

func TestCryptoTakesPrecedenceOverSets(t *testing.T) {
	resolver := NewResolver([]Rule{
		NewEquitySetRule("x", fleet.SurvivorBot, "ETH/USD"),
		CryptoRule{Owner: fleet.CryptoGrid},
	}, fleet.TrendBot)

	// ETH/USD reported as crypto skips the equity set rule.
	assert.Equal(t, fleet.CryptoGrid, resolver.Owner("ETH/USD", models.AssetCrypto))
}

func TestFallbackMakesPartialTableTotal(t *testing.T) {
	resolver := NewResolver([]Rule{CryptoRule{Owner: fleet.CryptoGrid}}, fleet.TrendBot)

	owner, rule := resolver.Explain("AAPL", models.AssetEquity)
	assert.Equal(t, fleet.TrendBot, owner)
	assert.Equal(t, "fallback", rule)
}

func TestOwnerOfPosition(t *testing.T) {
	p := models.Position{Symbol: "SOXL", AssetClass: models.AssetEquity}
	assert.Equal(t, fleet.SurvivorBot, Default().OwnerOf(p))
}
