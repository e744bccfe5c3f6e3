package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"fleet-trader/internal/broker"
	"fleet-trader/internal/budget"
	"fleet-trader/internal/config"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/journal"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/notify"
	"fleet-trader/internal/procmgr"
	"fleet-trader/internal/resilience"
)

// closers collects resources released when a command finishes.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newStore(cfg *config.Config) *fleet.FileStore {
	return fleet.NewFileStore(cfg.Fleet.ConfigPath, cfg.Fleet.TemplatePath)
}

// newSink builds the time-series sink: InfluxDB always, plus OTLP when
// enabled. An Influx client that cannot be built leaves only OTLP, or Nop.
func newSink(ctx context.Context, cfg *config.Config, service string, logger zerolog.Logger) (metrics.Sink, error) {
	var sinks metrics.MultiSink

	influx, err := metrics.NewInfluxSink(influxConfig(cfg))
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.Metrics.InfluxURL).Msg("InfluxDB sink unavailable")
	} else {
		sinks = append(sinks, metrics.NewGuarded("influx", influx, resilience.DefaultBreakerConfig()))
	}

	if cfg.Metrics.OTelEnabled {
		otel, err := metrics.NewOTelSink(ctx, metrics.OTelConfig{
			Endpoint:    cfg.Metrics.OTLPEndpoint,
			Insecure:    cfg.Metrics.OTLPInsecure,
			Interval:    cfg.Metrics.ExportInterval,
			ServiceName: "fleet-" + service,
		})
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		sinks = append(sinks, otel)
	}

	switch len(sinks) {
	case 0:
		return metrics.Nop{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

func influxConfig(cfg *config.Config) metrics.InfluxConfig {
	return metrics.InfluxConfig{
		URL:      cfg.Metrics.InfluxURL,
		Database: cfg.Metrics.Database,
		Username: cfg.Metrics.Username,
		Password: cfg.Metrics.Password,
		Timeout:  cfg.Intervals.CallTimeout,
	}
}

// newNotifier picks the webhook for the sender: the supervisor reports on
// the overseer channel, everyone else on the fleet channel.
func newNotifier(cfg *config.Config, username string, overseer bool) notify.Notifier {
	webhook := cfg.Notifications.DiscordFleet
	if overseer || webhook == "" {
		webhook = cfg.Notifications.DiscordOverseer
	}
	return notify.NewMultiNotifier(notify.Config{
		Level:            notify.NotificationLevel(cfg.Notifications.Level),
		DiscordWebhook:   webhook,
		DiscordUsername:  username,
		TelegramBotToken: cfg.Notifications.TelegramBotToken,
		TelegramChatID:   cfg.Notifications.TelegramChatID,
		Console:          cfg.Notifications.Console,
	})
}

// newBroker creates the Alpaca client. Missing credentials are an error
// for every command that needs the account.
func newBroker(cfg *config.Config, orderPrefix string, logger zerolog.Logger) (*broker.AlpacaBroker, error) {
	if cfg.Broker.APIKey == "" || cfg.Broker.SecretKey == "" {
		return nil, errors.New("alpaca credentials missing: set ALPACA_API_KEY and ALPACA_SECRET_KEY")
	}
	return broker.NewAlpacaBroker(broker.AlpacaConfig{
		APIKey:        cfg.Broker.APIKey,
		SecretKey:     cfg.Broker.SecretKey,
		Paper:         cfg.Broker.Paper,
		BaseURL:       cfg.Broker.BaseURL,
		DataURL:       cfg.Broker.DataURL,
		RatePerSecond: cfg.Broker.RatePerSecond,
		Timeout:       cfg.Intervals.CallTimeout,
		OrderPrefix:   orderPrefix,
		Logger:        logger,
	}), nil
}

// newTradingClient is the worker's broker: Alpaca, or with broker.dry_run an
// in-memory account that takes bars and the clock from Alpaca.
func newTradingClient(cfg *config.Config, bot string, logger zerolog.Logger) (broker.Client, error) {
	client, err := newBroker(cfg, bot, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Broker.DryRun {
		return client, nil
	}
	logger.Warn().Float64("balance", cfg.Broker.DryRunBalance).Msg("dry run: orders fill against a simulated account")
	return broker.NewPaperBroker(broker.PaperBrokerConfig{
		Data:           client,
		InitialBalance: cfg.Broker.DryRunBalance,
	}), nil
}

func newProcessManager(cfg *config.Config, logger zerolog.Logger) *procmgr.PM2 {
	return procmgr.NewPM2(procmgr.Options{
		Binary:      cfg.ProcessManager.Binary,
		Timeout:     cfg.Intervals.CallTimeout,
		Interpreter: cfg.ProcessManager.Interpreter,
		Logger:      logger,
	})
}

func newGuard(cfg *config.Config, store fleet.Store, account budget.AccountSource, logger zerolog.Logger) *budget.Guard {
	policy, unconfigured := cfg.BudgetPolicies()
	return budget.NewGuard(store, account, nil, budget.Options{
		Policy:       policy,
		Unconfigured: unconfigured,
		Logger:       logger,
	})
}

// journals opens the local SQLite journal and, when reachable, the shared
// InfluxDB trade log. Trades are recorded to both; reads prefer InfluxDB,
// where every bot of the fleet writes.
type journals struct {
	SQLite *journal.SQLiteJournal
	Influx *journal.InfluxLog
}

func openJournals(cfg *config.Config, logger zerolog.Logger, c *closers) (journals, error) {
	var j journals
	sqlite, err := journal.OpenSQLite(cfg.Journal.SQLitePath)
	if err != nil {
		return j, fmt.Errorf("opening journal: %w", err)
	}
	c.add(sqlite.Close)
	j.SQLite = sqlite

	client, err := metrics.NewInfluxClient(influxConfig(cfg))
	if err != nil {
		logger.Warn().Err(err).Msg("InfluxDB trade log unavailable")
		return j, nil
	}
	c.add(client.Close)
	j.Influx = journal.NewInfluxLog(client, cfg.Metrics.Database)
	return j, nil
}

// Recorder returns every available journal as one recorder.
func (j journals) Recorder() journal.Recorder {
	rs := journal.Recorders{j.SQLite}
	if j.Influx != nil {
		rs = append(rs, j.Influx)
	}
	return rs
}

// TradeLog returns the shared log when available, else the local one.
func (j journals) TradeLog() journal.TradeLog {
	if j.Influx != nil {
		return j.Influx
	}
	return j.SQLite
}
