package regime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trader/internal/broker"
	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/models"
	"fleet-trader/internal/notify"
	"fleet-trader/internal/testutil"
)

var start = time.Date(2025, 1, 2, 21, 0, 0, 0, time.UTC)

// series builds n daily bars whose close moves by step each day with a one
// point range around it.
func series(n int, step float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := 100 + step*float64(i)
		out[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		}
	}
	return out
}

type fakeData struct {
	candles []models.Candle
	err     error
	req     broker.HistoricalRequest
}

func (f *fakeData) GetHistorical(_ context.Context, req broker.HistoricalRequest) ([]models.Candle, error) {
	f.req = req
	return f.candles, f.err
}

func allBots(status fleet.BotStatus, regime fleet.RegimeTag) *fleet.FleetConfig {
	defs := make(map[fleet.BotName]fleet.BotDefinition)
	for _, b := range fleet.KnownBots() {
		defs[b] = fleet.BotDefinition{Status: status, Allocation: 0.1}
	}
	return testutil.FleetConfig(defs, regime, false)
}

func newDetector(store fleet.Store, data broker.MarketData, sink metrics.Sink, n notify.Notifier) *Detector {
	d := NewDetector(DetectorOptions{
		Store:    store,
		Data:     data,
		Sink:     sink,
		Notifier: n,
		Logger:   zerolog.Nop(),
	})
	d.now = func() time.Time { return start.AddDate(1, 0, 0) }
	return d
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		adx, price float64
		ma         float64
		want       fleet.RegimeTag
	}{
		{"at threshold is chop", 25, 110, 100, fleet.RegimeChop},
		{"just above threshold", 25.01, 110, 100, fleet.RegimeBullTrend},
		{"strong downtrend", 40, 90, 100, fleet.RegimeBearTrend},
		{"price on average", 40, 100, 100, fleet.RegimeBearTrend},
		{"weak trend", 10, 200, 100, fleet.RegimeChop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.adx, tc.price, tc.ma, 25))
		})
	}
}

func TestIndicators(t *testing.T) {
	up := series(260, 1)

	sma, err := SMA(up, 200)
	require.NoError(t, err)
	assert.Zero(t, sma[198])
	// Mean of closes 160..359.
	assert.InDelta(t, 259.5, sma[259], 1e-9)

	adx, err := ADX(up, 14)
	require.NoError(t, err)
	assert.Zero(t, adx[26])
	assert.InDelta(t, 100, adx[27], 1e-6)
	assert.InDelta(t, 100, adx[259], 1e-6)

	flat := series(60, 0)
	adx, err = ADX(flat, 14)
	require.NoError(t, err)
	assert.Zero(t, adx[59])
}

func TestAnalyzeNeedsHistory(t *testing.T) {
	_, err := Analyze(series(150, 1), DefaultConfig())
	assert.ErrorIs(t, err, ferrors.ErrInsufficientData)

	_, err = ADX(series(27, 1), 14)
	assert.ErrorIs(t, err, ferrors.ErrInsufficientData)
}

func TestAnalyzeRegimes(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		step float64
		want fleet.RegimeTag
	}{
		{1, fleet.RegimeBullTrend},
		{-0.25, fleet.RegimeBearTrend},
		{0, fleet.RegimeChop},
	}
	for _, tc := range cases {
		r, err := Analyze(series(260, tc.step), cfg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, r.Regime)
	}
}

func TestReconcileAppliesPlaybook(t *testing.T) {
	pb := DefaultPlaybook()
	for _, regime := range []fleet.RegimeTag{fleet.RegimeBullTrend, fleet.RegimeBearTrend, fleet.RegimeChop} {
		t.Run(string(regime), func(t *testing.T) {
			store := testutil.NewSpyStore(allBots(fleet.StatusActive, fleet.RegimeUnknown))
			rec := &testutil.RecordingNotifier{}
			d := newDetector(store, &fakeData{}, nil, rec)

			_, saved, err := d.Reconcile(context.Background(), regime)
			require.NoError(t, err)

			got := store.Current()
			assert.Equal(t, regime, got.GlobalSettings.MarketCondition)
			for bot, want := range pb.Targets(regime) {
				assert.Equal(t, want, got.Bots[bot].Status, bot)
			}
			// Every regime pauses at least one bot out of an all-active fleet.
			assert.True(t, saved)
			assert.Equal(t, 1, store.SaveCount())
			require.Len(t, rec.Sent(), 1)
			assert.Equal(t, notify.NotificationRegime, rec.Sent()[0].Type)
		})
	}
}

func TestNoOpCycleDoesNotSave(t *testing.T) {
	cfg := allBots(fleet.StatusActive, fleet.RegimeChop)
	Apply(cfg, fleet.RegimeChop, DefaultPlaybook().Diff(cfg, fleet.RegimeChop))
	store := testutil.NewSpyStore(cfg)
	rec := &testutil.RecordingNotifier{}
	d := newDetector(store, &fakeData{candles: series(260, 0)}, nil, rec)

	out, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fleet.RegimeChop, out.Reading.Regime)
	assert.False(t, out.Saved)
	assert.Empty(t, out.Changes)
	assert.Zero(t, store.SaveCount())
	assert.Empty(t, rec.Sent())
}

func TestPlaybookLeavesAbsentBotsAlone(t *testing.T) {
	cfg := testutil.FleetConfig(map[fleet.BotName]fleet.BotDefinition{
		fleet.TrendBot: {Status: fleet.StatusActive, Allocation: 0.2},
	}, fleet.RegimeBullTrend, false)
	store := testutil.NewSpyStore(cfg)
	rec := &testutil.RecordingNotifier{}
	d := newDetector(store, &fakeData{}, nil, rec)

	changes, saved, err := d.Reconcile(context.Background(), fleet.RegimeChop)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, []Change{{Bot: fleet.TrendBot, From: fleet.StatusActive, To: fleet.StatusPaused}}, changes)

	got := store.Current()
	assert.Len(t, got.Bots, 1)
	assert.Contains(t, rec.Sent()[0].Message, "trend_bot -> paused")
	assert.Contains(t, rec.Sent()[0].Message, "Regime Shift Detected: CHOP")
}

func TestReconcileInitialisesMissingConfig(t *testing.T) {
	store := testutil.NewSpyStore(nil)
	d := NewDetector(DetectorOptions{
		Store:    store,
		Template: testutil.StaticTemplate{Config: allBots(fleet.StatusPaused, fleet.RegimeUnknown)},
		Data:     &fakeData{},
		Logger:   zerolog.Nop(),
	})

	_, saved, err := d.Reconcile(context.Background(), fleet.RegimeBearTrend)
	require.NoError(t, err)
	assert.True(t, saved)
	// One save for the template, one for the trend bot flip.
	assert.Equal(t, 2, store.SaveCount())
	assert.Equal(t, fleet.StatusActive, store.Current().Bots[fleet.TrendBot].Status)
}

func TestRunCyclePublishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regime.json")
	store := testutil.NewSpyStore(allBots(fleet.StatusPaused, fleet.RegimeUnknown))
	sink := &testutil.RecordingSink{}
	data := &fakeData{candles: series(260, 1)}
	d := newDetector(store, data, sink, nil)
	d.regimePath = path

	out, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fleet.RegimeBullTrend, out.Reading.Regime)
	assert.Equal(t, "SPY", data.req.Symbol)
	assert.Equal(t, broker.Timeframe1Day, data.req.Timeframe)

	points := sink.Points(metrics.MeasurementRegime)
	require.Len(t, points, 1)
	assert.Equal(t, "BULL_TREND", points[0].Fields["regime"])
	assert.InDelta(t, 100, points[0].Fields["adx"].(float64), 1e-6)

	side, err := fleet.ReadRegime(path)
	require.NoError(t, err)
	assert.Equal(t, fleet.RegimeBullTrend, side.Regime)
}

func TestSideFileLeadsWhenTemplateAlreadyMatches(t *testing.T) {
	tmpl, err := fleet.Decode(fleet.BundledTemplate())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "regime.json")
	store := testutil.NewSpyStore(tmpl)
	d := newDetector(store, &fakeData{candles: series(260, 1)}, nil, nil)
	d.regimePath = path

	out, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fleet.RegimeBullTrend, out.Reading.Regime)
	assert.False(t, out.Saved, "bundled statuses already match the bull playbook")
	assert.Equal(t, fleet.RegimeUnknown, store.Current().GlobalSettings.MarketCondition)

	side, err := fleet.ReadRegime(path)
	require.NoError(t, err)
	assert.Equal(t, fleet.RegimeBullTrend, side.Regime)
}

func TestRunCycleDataFailure(t *testing.T) {
	store := testutil.NewSpyStore(allBots(fleet.StatusActive, fleet.RegimeUnknown))
	boom := errors.New("feed down")
	d := newDetector(store, &fakeData{err: boom}, nil, nil)

	_, err := d.RunCycle(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.Loads)
	assert.Zero(t, store.SaveCount())
}

// Property: applying the playbook twice changes nothing the second time.
func TestProperty_PlaybookConverges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	regimes := []fleet.RegimeTag{fleet.RegimeBullTrend, fleet.RegimeBearTrend, fleet.RegimeChop}
	bots := fleet.KnownBots()
	pb := DefaultPlaybook()

	properties.Property("second diff is empty", prop.ForAll(
		func(mask []bool, regimeIdx int) bool {
			defs := make(map[fleet.BotName]fleet.BotDefinition)
			for i, on := range mask {
				status := fleet.StatusPaused
				if on {
					status = fleet.StatusActive
				}
				defs[bots[i%len(bots)]] = fleet.BotDefinition{Status: status}
			}
			cfg := testutil.FleetConfig(defs, fleet.RegimeUnknown, false)
			regime := regimes[regimeIdx%len(regimes)]

			Apply(cfg, regime, pb.Diff(cfg, regime))
			return len(pb.Diff(cfg, regime)) == 0 && len(cfg.Bots) == len(defs)
		},
		gen.SliceOf(gen.Bool()),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
