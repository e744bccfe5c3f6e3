// Package accountant attributes account value and P&L to the bots that own
// each position and publishes the result as time series.
package accountant

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/journal"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/models"
	"fleet-trader/internal/ownership"
)

// AccountSource is the slice of the broker the accountant reads.
type AccountSource interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	GetAllPositions(ctx context.Context) ([]models.Position, error)
}

// Options wires an Attributor.
type Options struct {
	Account  AccountSource
	Trades   journal.TradeLog
	Resolver *ownership.Resolver
	Sink     metrics.Sink
	// HistoryDays is the trade log window for realized P&L.
	HistoryDays int
	Logger      zerolog.Logger
}

// Attributor runs accountant cycles. It keeps no state between cycles.
type Attributor struct {
	account     AccountSource
	trades      journal.TradeLog
	resolver    *ownership.Resolver
	sink        metrics.Sink
	historyDays int
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates an Attributor.
func New(opts Options) *Attributor {
	if opts.Resolver == nil {
		opts.Resolver = ownership.Default()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop{}
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 30
	}
	return &Attributor{
		account:     opts.Account,
		trades:      opts.Trades,
		resolver:    opts.Resolver,
		sink:        opts.Sink,
		historyDays: opts.HistoryDays,
		now:         time.Now,
		logger:      logging.WithComponent(opts.Logger, "accountant"),
	}
}

// BotStats is one bot's bucket.
type BotStats struct {
	Bot          fleet.BotName
	Allocation   float64
	UnrealizedPL float64
	RealizedPL   decimal.Decimal
	Positions    int
}

// TotalPL is unrealized plus realized.
func (b BotStats) TotalPL() float64 {
	return b.UnrealizedPL + b.RealizedPL.InexactFloat64()
}

// Summary is the outcome of one cycle.
type Summary struct {
	Account   models.Account
	DayPnL    float64
	DayPnLPct float64
	Bots      []BotStats
	// RealizedKnown is false when the trade log could not be read; realized
	// figures are then omitted from the published points.
	RealizedKnown bool
}

// RunCycle reads the account, positions and trade log and publishes global
// and per-bot figures.
func (a *Attributor) RunCycle(ctx context.Context) (Summary, error) {
	now := a.now()

	acct, err := a.account.GetAccount(ctx)
	if err != nil {
		return Summary{}, ferrors.Wrap(err, "get account")
	}
	summary := Summary{Account: *acct}
	summary.DayPnL, summary.DayPnLPct = acct.DayPnL()
	metrics.Publish(ctx, a.sink, a.logger, metrics.Point{
		Measurement: metrics.MeasurementAccountStats,
		Tags:        map[string]string{"type": "global"},
		Fields: map[string]interface{}{
			"equity":       acct.Equity,
			"cash":         acct.Cash,
			"buying_power": acct.BuyingPower,
			"day_pnl":      summary.DayPnL,
			"day_pnl_pct":  summary.DayPnLPct,
		},
		Time: now,
	})

	positions, err := a.account.GetAllPositions(ctx)
	if err != nil {
		return summary, ferrors.Wrap(err, "get positions")
	}

	var history map[fleet.BotName][]models.TradeLogEntry
	if a.trades != nil {
		since := now.AddDate(0, 0, -a.historyDays)
		entries, err := a.trades.Trades(ctx, since)
		if err != nil {
			a.logger.Warn().Err(err).Msg("trade log unavailable; publishing unrealized figures only")
		} else {
			history = journal.GroupByBot(entries)
			summary.RealizedKnown = true
		}
	}

	summary.Bots = Attribute(positions, history, a.resolver)
	points := make([]metrics.Point, 0, len(summary.Bots))
	for _, b := range summary.Bots {
		fields := map[string]interface{}{
			"allocation":     b.Allocation,
			"unrealized_pl":  b.UnrealizedPL,
			"position_count": b.Positions,
		}
		if summary.RealizedKnown {
			fields["realized_pl"] = b.RealizedPL.InexactFloat64()
			fields["total_pl"] = b.TotalPL()
		}
		points = append(points, metrics.Point{
			Measurement: metrics.MeasurementBotPerformance,
			Tags:        map[string]string{"bot": string(b.Bot)},
			Fields:      fields,
			Time:        now,
		})
		a.logger.Info().
			Str("bot", string(b.Bot)).
			Float64("allocation", b.Allocation).
			Float64("unrealized_pl", b.UnrealizedPL).
			Str("realized_pl", b.RealizedPL.StringFixed(2)).
			Msg("bot performance")
	}
	metrics.Publish(ctx, a.sink, a.logger, points...)

	a.logger.Info().
		Float64("equity", acct.Equity).
		Float64("day_pnl", summary.DayPnL).
		Float64("day_pnl_pct", summary.DayPnLPct).
		Msg("account update")
	return summary, nil
}

// Attribute buckets positions by owner and adds realized P&L from history.
// Every known bot gets a bucket, in KnownBots order.
func Attribute(positions []models.Position, history map[fleet.BotName][]models.TradeLogEntry, resolver *ownership.Resolver) []BotStats {
	bots := fleet.KnownBots()
	index := make(map[fleet.BotName]int, len(bots))
	out := make([]BotStats, len(bots))
	for i, b := range bots {
		index[b] = i
		out[i] = BotStats{Bot: b, RealizedPL: RealizedPnL(history[b])}
	}
	for _, p := range positions {
		i, ok := index[resolver.OwnerOf(p)]
		if !ok {
			continue
		}
		out[i].Allocation += p.MarketValue
		out[i].UnrealizedPL += p.UnrealizedPL
		out[i].Positions++
	}
	return out
}
