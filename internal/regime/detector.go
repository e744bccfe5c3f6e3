package regime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleet-trader/internal/broker"
	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/notify"
)

// Detector is the market analyst: the single writer of bot statuses in the
// fleet config.
type Detector struct {
	store      fleet.Store
	template   fleet.TemplateSource
	data       broker.MarketData
	sink       metrics.Sink
	notifier   notify.Notifier
	playbook   Playbook
	cfg        Config
	regimePath string
	now        func() time.Time
	logger     zerolog.Logger
}

// DetectorOptions wires a Detector.
type DetectorOptions struct {
	Store    fleet.Store
	Template fleet.TemplateSource
	Data     broker.MarketData
	Sink     metrics.Sink
	Notifier notify.Notifier
	Playbook Playbook
	Config   Config
	// RegimePath, when set, receives the regime side file read by workers.
	RegimePath string
	Logger     zerolog.Logger
}

// NewDetector creates a detector.
func NewDetector(opts DetectorOptions) *Detector {
	if opts.Playbook == nil {
		opts.Playbook = DefaultPlaybook()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Config.Symbol == "" {
		opts.Config = DefaultConfig()
	}
	return &Detector{
		store:      opts.Store,
		template:   opts.Template,
		data:       opts.Data,
		sink:       opts.Sink,
		notifier:   opts.Notifier,
		playbook:   opts.Playbook,
		cfg:        opts.Config,
		regimePath: opts.RegimePath,
		now:        time.Now,
		logger:     logging.WithComponent(opts.Logger, "analyst"),
	}
}

// Outcome summarises one detector cycle.
type Outcome struct {
	Reading Reading
	Changes []Change
	Saved   bool
}

// Announce sends the start-up notification.
func (d *Detector) Announce(ctx context.Context) {
	notify.BestEffort(ctx, d.notifier, d.logger, notify.Notification{
		Type:    notify.NotificationInfo,
		Title:   "Analyst Online",
		Message: fmt.Sprintf("Watching %s for trends...", d.cfg.Symbol),
		Sender:  "Market Analyst",
	})
}

// RunCycle fetches bars, classifies the market and reconciles the config.
func (d *Detector) RunCycle(ctx context.Context) (Outcome, error) {
	now := d.now()
	candles, err := d.data.GetHistorical(ctx, broker.HistoricalRequest{
		Symbol:    d.cfg.Symbol,
		Timeframe: broker.Timeframe1Day,
		From:      now.AddDate(0, 0, -d.cfg.LookbackDays),
		To:        now,
	})
	if err != nil {
		return Outcome{}, ferrors.Wrapf(err, "fetch %s bars", d.cfg.Symbol)
	}

	reading, err := Analyze(candles, d.cfg)
	if err != nil {
		return Outcome{}, ferrors.Wrapf(err, "analyze %s", d.cfg.Symbol)
	}
	if reading.At.IsZero() {
		reading.At = now
	}
	logging.LogRegime(d.logger, reading.Symbol, string(reading.Regime), reading.Price, reading.MA, reading.ADX)

	metrics.Publish(ctx, d.sink, d.logger, metrics.Point{
		Measurement: metrics.MeasurementRegime,
		Tags:        map[string]string{"symbol": reading.Symbol},
		Fields: map[string]interface{}{
			"regime": string(reading.Regime),
			"adx":    reading.ADX,
			"price":  reading.Price,
			"sma200": reading.MA,
		},
		Time: now,
	})
	d.publishSideFile(reading, now)

	changes, saved, err := d.Reconcile(ctx, reading.Regime)
	return Outcome{Reading: reading, Changes: changes, Saved: saved}, err
}

// Reconcile maps regime through the playbook and saves the config only when
// at least one bot status differs.
func (d *Detector) Reconcile(ctx context.Context, regime fleet.RegimeTag) ([]Change, bool, error) {
	cfg, created, err := fleet.LoadOrInit(ctx, d.store, d.template)
	if err != nil {
		return nil, false, ferrors.Wrap(err, "load fleet config")
	}
	if created {
		d.logger.Warn().Msg("fleet config missing; initialised from template")
	}

	changes := d.playbook.Diff(cfg, regime)
	if len(changes) == 0 {
		d.logger.Info().Str("regime", string(regime)).Msg("regime holds, no changes")
		return nil, false, nil
	}

	Apply(cfg, regime, changes)
	if err := d.store.Save(ctx, cfg); err != nil {
		return changes, false, ferrors.Wrap(err, "save fleet config")
	}

	msg := ChangeMessage(regime, changes)
	d.logger.Info().Str("regime", string(regime)).Int("changes", len(changes)).Msg("fleet adjusted")
	notify.BestEffort(ctx, d.notifier, d.logger, notify.Notification{
		Type:    notify.NotificationRegime,
		Title:   "Regime Shift",
		Message: msg,
		Sender:  "Market Analyst",
	})
	return changes, true, nil
}

func (d *Detector) publishSideFile(r Reading, now time.Time) {
	if d.regimePath == "" {
		return
	}
	err := fleet.WriteRegime(d.regimePath, fleet.RegimeFile{
		Regime:  r.Regime,
		ADX:     r.ADX,
		Price:   r.Price,
		MA:      r.MA,
		Updated: now,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("path", d.regimePath).Msg("regime side file not written")
	}
}
