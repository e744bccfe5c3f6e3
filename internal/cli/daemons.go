package cli

import (
	"context"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"fleet-trader/internal/accountant"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/regime"
	"fleet-trader/internal/scout"
	"fleet-trader/internal/supervisor"
	"fleet-trader/internal/worker"
)

func addDaemonCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSupervisorCmd(app))
	rootCmd.AddCommand(newAnalystCmd(app))
	rootCmd.AddCommand(newAccountantCmd(app))
	rootCmd.AddCommand(newScoutCmd(app))
	rootCmd.AddCommand(newWorkerCmd(app))
}

func newSupervisorCmd(app *App) *cobra.Command {
	return newDaemonCmd(app, "supervisor",
		"Keep bot processes in line with the fleet config",
		`Reconciles the process manager with the shared fleet document: starts
missing active bots, stops paused ones and honours the emergency stop.
Changes to the fleet document wake the loop immediately.`,
		cobra.NoArgs,
		func(*cobra.Command, []string) daemonBuilder {
			return func(ctx context.Context, res *closers) (daemon, error) {
				cfg, logger := app.Config, app.Logger
				store := newStore(cfg)
				sink, err := newSink(ctx, cfg, "supervisor", logger)
				if err != nil {
					return daemon{}, err
				}
				res.add(sink.Close)
				pm := newProcessManager(cfg, logger)

				sup := supervisor.New(supervisor.Options{
					Processes:      pm,
					Store:          store,
					Template:       store,
					Sink:           sink,
					Notifier:       newNotifier(cfg, "Supervisor", true),
					Host:           cfg.Fleet.Host,
					Self:           cfg.Fleet.SelfName,
					EmergencyDelay: cfg.Intervals.EmergencyDelay,
					Logger:         logger,
				})

				wake, err := fleet.Watch(ctx, store.Path(), logger)
				if err != nil {
					logger.Warn().Err(err).Str("path", store.Path()).Msg("Fleet config watch unavailable, polling only")
				}

				return daemon{
					Interval:     cfg.Intervals.Supervisor,
					NextInterval: sup.NextInterval,
					Wake:         wake,
					Announce:     sup.Announce,
					Cycle: func(ctx context.Context) error {
						_, err := sup.RunCycle(ctx)
						return err
					},
					Store:     store,
					Processes: pm,
				}, nil
			}
		})
}

func newAnalystCmd(app *App) *cobra.Command {
	return newDaemonCmd(app, "analyst",
		"Classify the market regime and switch bots accordingly",
		`Computes trend strength (ADX) and the long moving average of the regime
symbol, classifies the market as BULL_TREND, BEAR_TREND or CHOP, and applies
the playbook to the fleet document when the regime changes.`,
		cobra.NoArgs,
		func(*cobra.Command, []string) daemonBuilder {
			return func(ctx context.Context, res *closers) (daemon, error) {
				cfg, logger := app.Config, app.Logger
				data, err := newBroker(cfg, "analyst", logger)
				if err != nil {
					return daemon{}, err
				}
				sink, err := newSink(ctx, cfg, "analyst", logger)
				if err != nil {
					return daemon{}, err
				}
				res.add(sink.Close)
				store := newStore(cfg)

				det := regime.NewDetector(regime.DetectorOptions{
					Store:    store,
					Template: store,
					Data:     data,
					Sink:     sink,
					Notifier: newNotifier(cfg, "Analyst", false),
					Config: regime.Config{
						Symbol:         cfg.Regime.Symbol,
						MAPeriod:       cfg.Regime.MAPeriod,
						ADXPeriod:      cfg.Regime.ADXPeriod,
						TrendThreshold: cfg.Regime.TrendThreshold,
						LookbackDays:   cfg.Regime.LookbackDays,
					},
					RegimePath: cfg.Regime.RegimePath,
					Logger:     logger,
				})

				return daemon{
					Interval: cfg.Intervals.Analyst,
					Announce: det.Announce,
					Cycle: func(ctx context.Context) error {
						_, err := det.RunCycle(ctx)
						return err
					},
					Store: store,
				}, nil
			}
		})
}

func newAccountantCmd(app *App) *cobra.Command {
	return newDaemonCmd(app, "accountant",
		"Attribute account value and P&L to each bot",
		`Splits positions between bots by ownership, computes realized P&L from
the trade log and publishes per-bot and account totals.`,
		cobra.NoArgs,
		func(*cobra.Command, []string) daemonBuilder {
			return func(ctx context.Context, res *closers) (daemon, error) {
				cfg, logger := app.Config, app.Logger
				account, err := newBroker(cfg, "accountant", logger)
				if err != nil {
					return daemon{}, err
				}
				sink, err := newSink(ctx, cfg, "accountant", logger)
				if err != nil {
					return daemon{}, err
				}
				res.add(sink.Close)
				j, err := openJournals(cfg, logger, res)
				if err != nil {
					return daemon{}, err
				}

				acct := accountant.New(accountant.Options{
					Account:     account,
					Trades:      j.TradeLog(),
					Sink:        sink,
					HistoryDays: cfg.Accountant.HistoryDays,
					Logger:      logger,
				})

				return daemon{
					Interval: cfg.Intervals.Accountant,
					Cycle: func(ctx context.Context) error {
						_, err := acct.RunCycle(ctx)
						return err
					},
				}, nil
			}
		})
}

func newScoutCmd(app *App) *cobra.Command {
	return newDaemonCmd(app, "scout",
		"Publish the day's active symbols from sector momentum",
		`Scans sector ETFs during market hours and writes the base list plus the
constituents of every sector that moved beyond the momentum threshold to the
targets file read by the workers.`,
		cobra.NoArgs,
		func(*cobra.Command, []string) daemonBuilder {
			return func(ctx context.Context, res *closers) (daemon, error) {
				cfg, logger := app.Config, app.Logger
				data, err := newBroker(cfg, "scout", logger)
				if err != nil {
					return daemon{}, err
				}
				sink, err := newSink(ctx, cfg, "scout", logger)
				if err != nil {
					return daemon{}, err
				}
				res.add(sink.Close)

				sc := scout.New(scout.Options{
					Data: data,
					Sink: sink,
					Config: scout.Config{
						BaseList:          cfg.Scout.BaseList,
						MomentumThreshold: cfg.Scout.MomentumThreshold,
						TargetsPath:       cfg.Scout.TargetsPath,
						StartHour:         cfg.Scout.StartHour,
						EndHour:           cfg.Scout.EndHour,
					},
					Logger: logger,
				})

				return daemon{
					Interval: cfg.Intervals.Scout,
					Cycle: func(ctx context.Context) error {
						_, err := sc.RunCycle(ctx)
						return err
					},
				}, nil
			}
		})
}

func newWorkerCmd(app *App) *cobra.Command {
	cmd := newDaemonCmd(app, "worker <bot>",
		"Run the built-in SMA strategy for one bot",
		`Trades one bot's universe with a moving-average crossover. Every cycle
honours the emergency stop, the bot's status in the fleet document, the
regimes the playbook runs it in and its budget. Equity bots read the scout's
targets file when present; the crypto bot trades around the clock.`,
		cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) daemonBuilder {
			return func(ctx context.Context, res *closers) (daemon, error) {
				cfg, logger := app.Config, app.Logger
				bot, err := fleet.ParseBotName(args[0])
				if err != nil {
					return daemon{}, err
				}
				client, err := newTradingClient(cfg, string(bot), logger)
				if err != nil {
					return daemon{}, err
				}
				j, err := openJournals(cfg, logger, res)
				if err != nil {
					return daemon{}, err
				}
				store := newStore(cfg)

				crypto := bot.TradesCrypto()
				symbols, _ := cmd.Flags().GetStringSlice("symbols")
				targets := cfg.Scout.TargetsPath
				switch {
				case len(symbols) > 0:
				case crypto:
					symbols = cfg.Worker.CryptoSymbols
				default:
					symbols = cfg.Worker.Symbols
				}
				if crypto {
					targets = ""
				}

				w := worker.New(worker.Options{
					Bot: bot,
					Strategy: worker.NewSMACross(client, worker.SMACrossConfig{
						Period:   cfg.Worker.SMAPeriod,
						Notional: cfg.Worker.Notional,
					}),
					Broker:      client,
					Store:       store,
					Budget:      newGuard(cfg, store, client, logger),
					Journal:     j.Recorder(),
					Symbols:     symbols,
					TargetsPath: targets,
					Regimes:     activeRegimes(regime.DefaultPlaybook(), bot),
					RegimePath:  cfg.Regime.RegimePath,
					AlwaysOpen:  crypto,
					Concurrency: cfg.Worker.Concurrency,
					Logger:      logger,
				})

				return daemon{
					Interval: cfg.Intervals.Worker,
					Cycle: func(ctx context.Context) error {
						_, err := w.RunCycle(ctx)
						return err
					},
					Store: store,
				}, nil
			}
		})
	cmd.Flags().StringSlice("symbols", nil, "static universe (default: worker.symbols, or worker.crypto_symbols for crypto bots)")
	return cmd
}

// activeRegimes lists the regimes in which the playbook runs bot. A bot the
// playbook does not mention trades in every regime.
func activeRegimes(p regime.Playbook, bot fleet.BotName) []fleet.RegimeTag {
	var tags []fleet.RegimeTag
	for tag, bots := range p {
		if bots[bot] == fleet.StatusActive {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// cycleDeadline is the wall-clock bound on one-off operator calls.
func cycleDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
