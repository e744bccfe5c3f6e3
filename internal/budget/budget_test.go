package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
	"fleet-trader/internal/testutil"
)

type fakeAccount struct {
	equity     float64
	positions  []models.Position
	accountErr error
	posErr     error
	calls      int
}

func (f *fakeAccount) GetAccount(context.Context) (*models.Account, error) {
	f.calls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &models.Account{Equity: f.equity}, nil
}

func (f *fakeAccount) GetAllPositions(context.Context) ([]models.Position, error) {
	if f.posErr != nil {
		return nil, f.posErr
	}
	return append([]models.Position(nil), f.positions...), nil
}

func storeWith(bots map[fleet.BotName]float64) *testutil.SpyStore {
	defs := make(map[fleet.BotName]fleet.BotDefinition, len(bots))
	for name, alloc := range bots {
		defs[name] = fleet.BotDefinition{Status: fleet.StatusActive, Allocation: alloc}
	}
	return testutil.NewSpyStore(testutil.FleetConfig(defs, fleet.RegimeChop, false))
}

func equity(symbol string, value float64) models.Position {
	return models.Position{Symbol: symbol, AssetClass: models.AssetEquity, Quantity: 1, MarketValue: value}
}

func TestBoundaryIsExclusive(t *testing.T) {
	store := storeWith(map[fleet.BotName]float64{fleet.CryptoGrid: 0.10})
	acct := &fakeAccount{
		equity:    100000,
		positions: []models.Position{{Symbol: "BTC/USD", AssetClass: models.AssetCrypto, MarketValue: 10000}},
	}
	g := NewGuard(store, acct, nil, Options{Logger: zerolog.Nop()})

	d := g.Check(context.Background(), fleet.CryptoGrid)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 10000, d.Budget, 1e-9)
	assert.InDelta(t, 0, d.Remaining, 1e-9)
	assert.Equal(t, ReasonExhausted, d.Reason)
}

func TestTrendBotEndToEnd(t *testing.T) {
	store := storeWith(map[fleet.BotName]float64{fleet.TrendBot: 0.20})
	acct := &fakeAccount{
		equity: 50000,
		positions: []models.Position{
			equity("NVDA", 6000),
			equity("TSLA", 3500),
			// Owned by other bots.
			equity("TQQQ", 20000),
			{Symbol: "ETH/USD", AssetClass: models.AssetCrypto, MarketValue: 5000},
		},
	}
	g := NewGuard(store, acct, nil, Options{Logger: zerolog.Nop()})

	d := g.Check(context.Background(), fleet.TrendBot)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 9500, d.Used, 1e-9)

	acct.positions = append(acct.positions, equity("COIN", 1000))
	d = g.Check(context.Background(), fleet.TrendBot)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 10500, d.Used, 1e-9)
}

func TestSharedCryptoPool(t *testing.T) {
	store := storeWith(map[fleet.BotName]float64{fleet.MoonBag: 0.05, fleet.CryptoGrid: 0.10})
	acct := &fakeAccount{
		equity:    100000,
		positions: []models.Position{{Symbol: "SOL/USD", AssetClass: models.AssetCrypto, MarketValue: 6000}},
	}
	g := NewGuard(store, acct, nil, Options{Logger: zerolog.Nop()})

	// The resolver attributes crypto to the grid, but the moon bag shares its pool.
	moon := g.Check(context.Background(), fleet.MoonBag)
	assert.False(t, moon.Allowed)
	assert.InDelta(t, 6000, moon.Used, 1e-9)

	grid := g.Check(context.Background(), fleet.CryptoGrid)
	assert.True(t, grid.Allowed)

	// Without the pool the moon bag owns nothing.
	isolated := NewGuard(store, acct, nil, Options{SharedPools: [][]fleet.BotName{}, Logger: zerolog.Nop()})
	assert.True(t, isolated.Allowed(context.Background(), fleet.MoonBag))
}

func TestUnconfiguredPolicy(t *testing.T) {
	store := storeWith(map[fleet.BotName]float64{fleet.CondorBot: 0})
	acct := &fakeAccount{equity: 100000}

	allow := NewGuard(store, acct, nil, Options{Logger: zerolog.Nop()})
	d := allow.Check(context.Background(), fleet.CondorBot)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonUnconfigured, d.Reason)
	assert.True(t, allow.Allowed(context.Background(), fleet.WheelBot))
	assert.Zero(t, acct.calls, "unconfigured bots never hit the broker")

	deny := NewGuard(store, acct, nil, Options{Unconfigured: UnconfiguredDeny, Logger: zerolog.Nop()})
	assert.False(t, deny.Allowed(context.Background(), fleet.CondorBot))
}

func TestFailurePolicy(t *testing.T) {
	boom := errors.New("timeout")
	cases := []struct {
		name  string
		store *testutil.SpyStore
		acct  *fakeAccount
	}{
		{"config", func() *testutil.SpyStore { s := storeWith(nil); s.LoadErr = boom; return s }(), &fakeAccount{}},
		{"account", storeWith(map[fleet.BotName]float64{fleet.TrendBot: 0.2}), &fakeAccount{accountErr: boom}},
		{"positions", storeWith(map[fleet.BotName]float64{fleet.TrendBot: 0.2}), &fakeAccount{equity: 1, posErr: boom}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			open := NewGuard(tc.store, tc.acct, nil, Options{Policy: FailOpen, Logger: zerolog.Nop()})
			d := open.Check(context.Background(), fleet.TrendBot)
			assert.True(t, d.Allowed)
			assert.Equal(t, ReasonFailOpen, d.Reason)
			assert.ErrorIs(t, d.Err, boom)

			closed := NewGuard(tc.store, tc.acct, nil, Options{Policy: FailClosed, Logger: zerolog.Nop()})
			d = closed.Check(context.Background(), fleet.TrendBot)
			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonFailClosed, d.Reason)
		})
	}
}

func TestMissingConfigFollowsPolicy(t *testing.T) {
	store := testutil.NewSpyStore(nil)
	g := NewGuard(store, &fakeAccount{}, nil, Options{Policy: FailClosed, Logger: zerolog.Nop()})
	assert.False(t, g.Allowed(context.Background(), fleet.TrendBot))
}

func TestParsePolicies(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)
	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)

	u, err := ParseUnconfigured("deny")
	require.NoError(t, err)
	assert.Equal(t, UnconfiguredDeny, u)
	_, err = ParseUnconfigured("maybe")
	assert.Error(t, err)
}

// Property: with no change to positions or config, two checks agree.
func TestProperty_CheckIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	symbols := []string{"NVDA", "TQQQ", "DIS", "BTC/USD", "PLTR250321C00025000", "SPY"}
	bots := fleet.KnownBots()

	properties.Property("checkBudget is stable without state change", prop.ForAll(
		func(alloc, eq float64, values []float64, botIdx int) bool {
			positions := make([]models.Position, 0, len(values))
			for i, v := range values {
				sym := symbols[i%len(symbols)]
				class := models.AssetEquity
				switch {
				case sym == "BTC/USD":
					class = models.AssetCrypto
				case len(sym) > 10:
					class = models.AssetOption
				}
				positions = append(positions, models.Position{Symbol: sym, AssetClass: class, MarketValue: v})
			}
			bot := bots[botIdx%len(bots)]
			store := storeWith(map[fleet.BotName]float64{bot: alloc})
			g := NewGuard(store, &fakeAccount{equity: eq, positions: positions}, nil, Options{Logger: zerolog.Nop()})

			first := g.Check(context.Background(), bot)
			second := g.Check(context.Background(), bot)
			return first.Allowed == second.Allowed && first.Used == second.Used
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1e6),
		gen.SliceOf(gen.Float64Range(-5e4, 5e4)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
