// Package worker runs one bot's strategy on a polling cycle behind the
// fleet's gates: market clock, kill switch, desired status, regime and budget.
package worker

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"fleet-trader/internal/broker"
	"fleet-trader/internal/budget"
	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/journal"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/models"
	"fleet-trader/internal/ownership"
)

// BudgetChecker is satisfied by *budget.Guard.
type BudgetChecker interface {
	Check(ctx context.Context, bot fleet.BotName) budget.Decision
}

// Options wires a Worker.
type Options struct {
	Bot      fleet.BotName
	Strategy Strategy
	Broker   broker.Broker
	Store    fleet.Store
	Budget   BudgetChecker
	Journal  journal.Recorder
	Resolver *ownership.Resolver

	// Symbols is the static universe. When TargetsPath names a readable,
	// non-empty targets file, its list is used instead.
	Symbols     []string
	TargetsPath string
	// Regimes the bot trades in. Empty means every regime.
	Regimes []fleet.RegimeTag
	// RegimePath is the analyst's regime side file. It is rewritten every
	// analyst cycle, whereas market_condition only moves with a status change.
	RegimePath string
	// Pools are the shared capital pools; nil uses budget.DefaultSharedPools.
	Pools [][]fleet.BotName
	// AlwaysOpen skips the market clock gate for 24/7 markets.
	AlwaysOpen  bool
	Concurrency int
	Logger      zerolog.Logger
}

// Worker is a single bot's trading loop body.
type Worker struct {
	opts    Options
	members map[fleet.BotName]struct{}
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a Worker.
func New(opts Options) *Worker {
	if opts.Resolver == nil {
		opts.Resolver = ownership.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Pools == nil {
		opts.Pools = budget.DefaultSharedPools()
	}
	return &Worker{
		opts:    opts,
		members: budget.PoolOf(opts.Bot, opts.Pools),
		now:     time.Now,
		logger: logging.WithBot(logging.WithComponent(opts.Logger, "worker"), string(opts.Bot)),
	}
}

// Report describes one cycle.
type Report struct {
	// Skipped is the gate that stopped the cycle, nil when it ran.
	Skipped   error
	Regime    fleet.RegimeTag
	Symbols   []string
	Signals   []Signal
	Orders    []models.Order
	Denied    []budget.Decision
	EvalError error
}

// RunCycle passes the gates, evaluates the universe in parallel and submits
// the resulting orders one at a time. Buys are checked against the budget
// immediately before submission; sells always go through.
func (w *Worker) RunCycle(ctx context.Context) (Report, error) {
	var report Report

	cfg, err := w.opts.Store.Load(ctx)
	if err != nil {
		return report, ferrors.Wrap(err, "load fleet config")
	}
	report.Regime = w.regime(cfg)
	skip, err := w.gate(ctx, cfg, report.Regime)
	if err != nil {
		return report, err
	}
	if skip != nil {
		report.Skipped = skip
		w.logger.Info().Str("reason", skip.Error()).Msg("cycle skipped")
		return report, nil
	}

	positions, err := w.opts.Broker.GetAllPositions(ctx)
	if err != nil {
		return report, ferrors.Wrap(err, "get positions")
	}
	held := make(map[string]models.Position)
	for _, p := range positions {
		if w.owns(p.Symbol, p.AssetClass) {
			held[p.Symbol] = p
		}
	}

	report.Symbols = w.universe(held)
	report.Signals, report.EvalError = w.evaluate(ctx, report.Symbols, report.Regime, held)
	if report.EvalError != nil {
		w.logger.Warn().Err(report.EvalError).Msg("some symbols failed to evaluate")
	}

	var errs []error
	for _, sig := range report.Signals {
		if sig.Side == models.OrderSideBuy && w.opts.Budget != nil {
			d := w.opts.Budget.Check(ctx, w.opts.Bot)
			if !d.Allowed {
				report.Denied = append(report.Denied, d)
				continue
			}
		}
		order, err := w.submit(ctx, sig)
		if err != nil {
			errs = append(errs, ferrors.Wrapf(err, "submit %s %s", sig.Side, sig.Symbol))
			continue
		}
		report.Orders = append(report.Orders, *order)
	}
	return report, ferrors.Join(errs...)
}

// owns reports whether a position in symbol is booked to this bot or to a
// bot sharing its capital pool.
func (w *Worker) owns(symbol string, class models.AssetClass) bool {
	_, ok := w.members[w.opts.Resolver.Owner(symbol, class)]
	return ok
}

// regime is the analyst's latest reading: the side file when it holds a
// known tag, otherwise the fleet document's market_condition.
func (w *Worker) regime(cfg *fleet.FleetConfig) fleet.RegimeTag {
	if w.opts.RegimePath != "" {
		r, err := fleet.ReadRegime(w.opts.RegimePath)
		switch {
		case err != nil:
			w.logger.Debug().Err(err).Msg("regime file unavailable, using fleet document")
		case known(r.Regime):
			return r.Regime
		}
	}
	return cfg.GlobalSettings.MarketCondition
}

func known(tag fleet.RegimeTag) bool {
	return tag != "" && tag != fleet.RegimeUnknown
}

// gate returns the sentinel of the first closed gate, or an error when the
// clock could not be read. An unknown regime defers to the bot's status.
func (w *Worker) gate(ctx context.Context, cfg *fleet.FleetConfig, tag fleet.RegimeTag) (skip, err error) {
	if cfg.GlobalSettings.EmergencyStop {
		return ferrors.ErrEmergencyStop, nil
	}
	if def, ok := cfg.Bot(w.opts.Bot); !ok || def.Status != fleet.StatusActive {
		return ferrors.ErrBotPaused, nil
	}
	if len(w.opts.Regimes) > 0 && known(tag) {
		allowed := false
		for _, r := range w.opts.Regimes {
			if r == tag {
				allowed = true
				break
			}
		}
		if !allowed {
			return ferrors.ErrRegimeBlocked, nil
		}
	}
	if w.opts.AlwaysOpen {
		return nil, nil
	}
	clock, err := w.opts.Broker.GetClock(ctx)
	if err != nil {
		return nil, ferrors.Wrap(err, "get clock")
	}
	if !clock.IsOpen {
		return ferrors.ErrMarketClosed, nil
	}
	return nil, nil
}

// universe is the part of the target list booked to this bot's pool plus
// every symbol the pool already holds, so exits are evaluated even after the
// scout drops a symbol. Buying a symbol another bot owns would never count
// against this bot's budget.
func (w *Worker) universe(held map[string]models.Position) []string {
	symbols := w.opts.Symbols
	if w.opts.TargetsPath != "" {
		t, err := fleet.ReadTargets(w.opts.TargetsPath)
		switch {
		case err != nil:
			w.logger.Debug().Err(err).Msg("targets file unavailable, using static symbols")
		case len(t.Targets) > 0:
			symbols = t.Targets
		}
	}
	seen := make(map[string]struct{}, len(symbols)+len(held))
	out := make([]string, 0, len(symbols)+len(held))
	var foreign []string
	for _, s := range symbols {
		if !w.owns(s, broker.ClassOf(s)) {
			foreign = append(foreign, s)
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	if len(foreign) > 0 {
		w.logger.Debug().Strs("symbols", foreign).Msg("skipping symbols owned by other bots")
	}
	for s := range held {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Worker) evaluate(ctx context.Context, symbols []string, tag fleet.RegimeTag, held map[string]models.Position) ([]Signal, error) {
	now := w.now()
	p := pool.NewWithResults[*Signal]().WithContext(ctx).WithMaxGoroutines(w.opts.Concurrency)
	for _, sym := range symbols {
		in := Input{Symbol: sym, Regime: tag, Now: now}
		if pos, ok := held[sym]; ok {
			in.Position = &pos
		}
		p.Go(func(ctx context.Context) (*Signal, error) {
			sig, err := w.opts.Strategy.Evaluate(ctx, in)
			if err != nil {
				return nil, ferrors.Wrapf(err, "evaluate %s", in.Symbol)
			}
			return sig, nil
		})
	}
	results, err := p.Wait()

	signals := make([]Signal, 0, len(results))
	for _, s := range results {
		if s != nil {
			signals = append(signals, *s)
		}
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Symbol < signals[j].Symbol })
	return signals, err
}

func (w *Worker) submit(ctx context.Context, sig Signal) (*models.Order, error) {
	order, err := w.opts.Broker.SubmitOrder(ctx, &models.Order{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Type:        models.OrderTypeMarket,
		TimeInForce: timeInForce(sig.Symbol),
		Quantity:    sig.Quantity,
		Notional:    sig.Notional,
	})
	if err != nil {
		return nil, err
	}

	price, qty := order.AveragePrice, order.FilledQty
	if price <= 0 {
		price = sig.Price
	}
	if qty <= 0 {
		qty = order.Quantity
	}
	logging.LogTrade(w.logger, string(w.opts.Bot), sig.Symbol, string(sig.Side), qty, price)

	if w.opts.Journal != nil {
		action := models.ActionBuy
		if sig.Side == models.OrderSideSell {
			action = models.ActionSell
		}
		kind := sig.Kind
		if kind == "" {
			kind = string(sig.Side)
		}
		entry := models.TradeLogEntry{
			Timestamp: w.now(),
			Bot:       string(w.opts.Bot),
			Symbol:    sig.Symbol,
			Action:    action,
			Kind:      kind,
			Price:     price,
			Quantity:  qty,
		}
		if err := w.opts.Journal.Record(ctx, entry); err != nil {
			w.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("trade journal write failed")
		}
	}
	return order, nil
}

func timeInForce(symbol string) models.TimeInForce {
	if broker.IsCryptoSymbol(symbol) {
		return models.TimeInForceGTC
	}
	return models.TimeInForceDay
}
