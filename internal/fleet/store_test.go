package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "fleet-trader/internal/errors"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	return NewFileStore(filepath.Join(dir, "bot_config.json"), filepath.Join(dir, "bot_config.template.json"))
}

func TestBundledTemplateIsValid(t *testing.T) {
	cfg, err := Decode(BundledTemplate())
	require.NoError(t, err)

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Len(t, cfg.Bots, len(KnownBots()))
	assert.Equal(t, RegimeUnknown, cfg.GlobalSettings.MarketCondition)
}

func TestLoadMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.ErrConfigNotFound))
}

func TestLoadOrInitPersistsTemplate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg, created, err := LoadOrInit(ctx, store, store)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, cfg.Bots, TrendBot)

	_, err = os.Stat(store.Path())
	require.NoError(t, err)

	again, created, err := LoadOrInit(ctx, store, store)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.Bots, again.Bots)
}

func TestLoadOrInitPrefersTemplateOnDisk(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	custom := `{"bots":{"wheel_bot":{"script":"wheel","status":"paused","allocation":0.5}},
		"global_settings":{"market_condition":"CHOP","emergency_stop":false}}`
	require.NoError(t, os.WriteFile(store.templatePath, []byte(custom), 0o644))

	cfg, created, err := LoadOrInit(ctx, store, store)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, cfg.Bots, 1)
	assert.Equal(t, StatusPaused, cfg.Bots[WheelBot].Status)
}

func TestSaveRoundTripKeepsUnknownBots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	raw := `{"bots":{
		"trend_bot":{"script":"fleet","args":["worker","trend_bot"],"status":"active","allocation":0.2},
		"legacy_bot":{"script":"legacy.py","status":"paused","allocation":0}},
		"global_settings":{"market_condition":"BULL_TREND","emergency_stop":true}}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(raw), 0o644))

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, cfg.Bots, 1)
	assert.Contains(t, cfg.Unknown, "legacy_bot")
	assert.True(t, cfg.GlobalSettings.EmergencyStop)

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Contains(t, warnings, `unknown bot "legacy_bot" ignored`)

	cfg.GlobalSettings.EmergencyStop = false
	require.NoError(t, store.Save(ctx, cfg))

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded.GlobalSettings.EmergencyStop)
	assert.Contains(t, reloaded.Unknown, "legacy_bot")
	assert.Equal(t, []string{"worker", "trend_bot"}, reloaded.Bots[TrendBot].Args)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cfg, err := store.Template()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, cfg))
	}

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bot_config.json", entries[0].Name())
}

func TestLoadMalformedIsInvalid(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.ErrConfigInvalid))
	assert.False(t, ferrors.Is(err, ferrors.ErrConfigNotFound))
}

func TestValidateRejectsBadAllocation(t *testing.T) {
	cfg := &FleetConfig{Bots: map[BotName]BotDefinition{
		WheelBot: {Script: "x", Status: StatusActive, Allocation: 1.5},
	}}
	_, err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.ErrConfigInvalid))
}

func TestValidateWarnsOnOvercommit(t *testing.T) {
	cfg := &FleetConfig{Bots: map[BotName]BotDefinition{
		WheelBot: {Script: "x", Status: StatusActive, Allocation: 0.7},
		TrendBot: {Script: "x", Status: StatusActive, Allocation: 0.6},
	}}
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "1.30")
}

func TestCloneIsDeep(t *testing.T) {
	cfg := &FleetConfig{Bots: map[BotName]BotDefinition{
		TrendBot: {Script: "fleet", Args: []string{"worker"}, Status: StatusActive},
	}}
	clone := cfg.Clone()
	def := clone.Bots[TrendBot]
	def.Status = StatusPaused
	def.Args[0] = "changed"
	clone.Bots[TrendBot] = def

	assert.Equal(t, StatusActive, cfg.Bots[TrendBot].Status)
	assert.Equal(t, "worker", cfg.Bots[TrendBot].Args[0])
}

func TestOperatorWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg, err := SetEmergencyStop(ctx, store, store, true)
	require.NoError(t, err)
	assert.True(t, cfg.GlobalSettings.EmergencyStop)

	cfg, err = SetAllocation(ctx, store, store, CondorBot, 0.15)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, cfg.Allocation(CondorBot), 1e-9)

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded.GlobalSettings.EmergencyStop)
	assert.InDelta(t, 0.15, reloaded.Allocation(CondorBot), 1e-9)

	_, err = SetAllocation(ctx, store, store, CondorBot, 2)
	assert.Error(t, err)
}

func TestParseBotName(t *testing.T) {
	name, err := ParseBotName(" wheel_bot ")
	require.NoError(t, err)
	assert.Equal(t, WheelBot, name)

	_, err = ParseBotName("unknown")
	assert.True(t, ferrors.Is(err, ferrors.ErrUnknownBot))

	assert.True(t, CryptoGrid.TradesCrypto())
	assert.True(t, MoonBag.TradesCrypto())
	assert.False(t, TrendBot.TradesCrypto())
}

func TestWatchSignalsOnSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newTestStore(t)
	cfg, err := store.Template()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, cfg))

	changes, err := Watch(ctx, store.Path(), zerolog.Nop())
	require.NoError(t, err)

	cfg.GlobalSettings.EmergencyStop = true
	require.NoError(t, store.Save(ctx, cfg))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestSideFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	targetsPath := filepath.Join(dir, "active_targets.json")
	require.NoError(t, WriteTargets(targetsPath, []string{"SPY", "NVDA", "SPY", ""}, now))
	targets, err := ReadTargets(targetsPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA", "SPY"}, targets.Targets)
	assert.True(t, targets.Updated.Equal(now))

	regimePath := filepath.Join(dir, "market_regime.json")
	require.NoError(t, WriteRegime(regimePath, RegimeFile{Regime: RegimeChop, ADX: 18, Updated: now}))
	r, err := ReadRegime(regimePath)
	require.NoError(t, err)
	assert.Equal(t, RegimeChop, r.Regime)
}
