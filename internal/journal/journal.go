// Package journal reads and records the fleet's trade history.
package journal

import (
	"context"
	"sort"
	"time"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
)

// TradeLog reads fills recorded since a point in time.
type TradeLog interface {
	Trades(ctx context.Context, since time.Time) ([]models.TradeLogEntry, error)
}

// Recorder persists a fill.
type Recorder interface {
	Record(ctx context.Context, entry models.TradeLogEntry) error
}

// Recorders writes every entry to each recorder, attempting all of them.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, entry models.TradeLogEntry) error {
	var errs []error
	for _, r := range rs {
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return ferrors.Join(errs...)
}

// measurements lists the per-bot trade series in the time-series store.
var measurements = []struct {
	name string
	bot  fleet.BotName
}{
	{"trades", fleet.TrendBot},
	{"survivor_trades", fleet.SurvivorBot},
	{"crypto_trades", fleet.CryptoGrid},
	{"breakout_trades", fleet.MoonBag},
	{"wheel_trades", fleet.WheelBot},
	{"condor_trades", fleet.CondorBot},
}

// Measurement returns the trade series a bot writes to.
func Measurement(bot fleet.BotName) string {
	for _, m := range measurements {
		if m.bot == bot {
			return m.name
		}
	}
	return "trades"
}

// BotFor returns the bot that owns a trade series.
func BotFor(measurement string) (fleet.BotName, bool) {
	for _, m := range measurements {
		if m.name == measurement {
			return m.bot, true
		}
	}
	return "", false
}

// Measurements returns every trade series name.
func Measurements() []string {
	out := make([]string, len(measurements))
	for i, m := range measurements {
		out[i] = m.name
	}
	return out
}

// GroupByBot buckets entries by their bot.
func GroupByBot(entries []models.TradeLogEntry) map[fleet.BotName][]models.TradeLogEntry {
	out := make(map[fleet.BotName][]models.TradeLogEntry)
	for _, e := range entries {
		bot := fleet.BotName(e.Bot)
		out[bot] = append(out[bot], e)
	}
	return out
}

func sortByTime(entries []models.TradeLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
}
