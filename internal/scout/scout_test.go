package scout

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-trader/internal/broker"
	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/models"
	"fleet-trader/internal/testutil"
)

// closes serves two daily bars per symbol with the given closes.
type closes struct {
	mu     sync.Mutex
	prices map[string][2]float64
	fail   map[string]error
	calls  int
}

func (c *closes) GetHistorical(_ context.Context, req broker.HistoricalRequest) ([]models.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := c.fail[req.Symbol]; err != nil {
		return nil, err
	}
	p, ok := c.prices[req.Symbol]
	if !ok {
		return nil, nil
	}
	return []models.Candle{{Close: p[0]}, {Close: p[1]}}, nil
}

func newScout(t *testing.T, data broker.MarketData, sink metrics.Sink, hour int) (*Scout, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "active_targets.json")
	s := New(Options{
		Data: data,
		Sink: sink,
		Config: Config{
			SectorMap: map[string][]string{
				"XLK": {"NVDA", "AMD"},
				"XLE": {"XOM", "CVX"},
				"SMH": {"SOXL", "NVDA"},
			},
			TargetsPath: path,
		},
		Logger: zerolog.Nop(),
	})
	s.now = func() time.Time { return time.Date(2025, 3, 3, hour, 30, 0, 0, time.Local) }
	return s, path
}

func TestMove(t *testing.T) {
	m, err := Move([]models.Candle{{Close: 100}, {Close: 100}, {Close: 103}})
	require.NoError(t, err)
	assert.InDelta(t, 0.03, m, 1e-12)

	_, err = Move([]models.Candle{{Close: 100}})
	assert.ErrorIs(t, err, ferrors.ErrInsufficientData)
	_, err = Move([]models.Candle{{Close: 0}, {Close: 1}})
	assert.ErrorIs(t, err, ferrors.ErrInsufficientData)
}

func TestRunCycleActivatesMovers(t *testing.T) {
	data := &closes{prices: map[string][2]float64{
		"XLK": {100, 102.5}, // +2.5%
		"XLE": {100, 97},    // -3%
		"SMH": {100, 101},   // +1%
	}}
	sink := &testutil.RecordingSink{}
	s, path := newScout(t, data, sink, 10)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, data.calls)
	assert.Equal(t, []string{"AMD", "CVX", "IWM", "NVDA", "QQQ", "SPY", "XOM"}, res.Targets)

	written, err := fleet.ReadTargets(path)
	require.NoError(t, err)
	assert.Equal(t, res.Targets, written.Targets)

	points := sink.Points(metrics.MeasurementSectorScout)
	require.Len(t, points, 3)
	status := map[string]interface{}{}
	for _, p := range points {
		status[p.Tags["sector"]] = p.Fields["status"]
	}
	assert.Equal(t, map[string]interface{}{"SMH": "Inactive", "XLE": "Active", "XLK": "Active"}, status)
}

func TestThresholdIsInclusive(t *testing.T) {
	data := &closes{prices: map[string][2]float64{"XLK": {100, 102}, "XLE": {100, 100}, "SMH": {100, 100}}}
	s, _ := newScout(t, data, nil, 10)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Targets, "NVDA")
}

func TestRunCycleOutsideHours(t *testing.T) {
	data := &closes{}
	for _, hour := range []int{6, 7, 18, 23} {
		s, path := newScout(t, data, nil, hour)
		res, err := s.RunCycle(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Skipped, "hour %d", hour)
		assert.NoFileExists(t, path)
	}
	assert.Zero(t, data.calls)
}

func TestPartialFailureStillWritesTargets(t *testing.T) {
	data := &closes{
		prices: map[string][2]float64{"XLE": {100, 95}, "SMH": {100, 100}},
		fail:   map[string]error{"XLK": errors.New("429")},
	}
	sink := &testutil.RecordingSink{}
	s, path := newScout(t, data, sink, 9)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CVX", "IWM", "QQQ", "SPY", "XOM"}, res.Targets)
	assert.FileExists(t, path)
	assert.Len(t, sink.Points(metrics.MeasurementSectorScout), 2)
}

func TestTotalFailureKeepsPreviousTargets(t *testing.T) {
	boom := errors.New("network down")
	data := &closes{fail: map[string]error{"XLK": boom, "XLE": boom, "SMH": boom}}
	s, path := newScout(t, data, nil, 12)

	_, err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, path)
}

func TestTargetsDeduplicates(t *testing.T) {
	moves := []SectorMove{
		{Sector: "XLK", Active: true},
		{Sector: "SMH", Active: true},
		{Sector: "XLE", Active: true, Err: errors.New("stale")},
	}
	got := Targets([]string{"SPY", "NVDA"}, moves, DefaultSectorMap())
	assert.Equal(t, []string{"AMD", "MSFT", "NVDA", "PLTR", "SOXL", "SPY", "TSM"}, got)
}
