package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"fleet-trader/internal/api"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/resilience"
)

// daemon describes one long-running loop built by a daemon command.
type daemon struct {
	Interval     time.Duration
	NextInterval func() time.Duration
	Wake         <-chan struct{}
	// Announce runs once before the first cycle.
	Announce func(ctx context.Context)
	Cycle    resilience.Cycle

	// Store and Processes feed the status server when it is enabled.
	Store     fleet.Store
	Processes api.ProcessLister
}

type daemonBuilder func(ctx context.Context, res *closers) (daemon, error)

// newDaemonCmd wraps a builder in a command with the shared --once flag.
func newDaemonCmd(app *App, use, short, long string, args cobra.PositionalArgs, build func(cmd *cobra.Command, args []string) daemonBuilder) *cobra.Command {
	cmd := &cobra.Command{
		Use:         use,
		Short:       short,
		Long:        long,
		Args:        args,
		Annotations: map[string]string{daemonAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runDaemon(cmd, build(cmd, args))
		},
	}
	cmd.Flags().Bool("once", false, "run a single cycle and exit")
	return cmd
}

// runDaemon runs the loop until SIGINT or SIGTERM. With --once it runs a
// single cycle and returns its error.
func (a *App) runDaemon(cmd *cobra.Command, build daemonBuilder) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := cmd.Name()
	logger := a.Logger.With().Str("daemon", name).Logger()

	var res closers
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing resources")
		}
	}()

	d, err := build(ctx, &res)
	if err != nil {
		return err
	}

	registry := resilience.NewRegistry()
	loop := resilience.NewLoop(resilience.LoopConfig{
		Name:         name,
		Interval:     d.Interval,
		Timeout:      a.Config.Intervals.CallTimeout * 4,
		ErrorBackoff: a.Config.Intervals.ErrorBackoff,
		NextInterval: d.NextInterval,
		Wake:         d.Wake,
		Health:       registry.Get(name),
		Logger:       logger,
	}, d.Cycle)

	if once, _ := cmd.Flags().GetBool("once"); once {
		return loop.RunOnce(ctx)
	}

	if d.Announce != nil {
		d.Announce(ctx)
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		_ = loop.Run(ctx)
	})
	if addr := a.Config.API.Listen; addr != "" {
		srv := api.New(api.Options{
			Addr:      addr,
			Registry:  registry,
			Store:     d.Store,
			Processes: d.Processes,
			Logger:    logger,
		})
		wg.Go(func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Str("addr", addr).Msg("status server failed")
			}
		})
	}
	wg.Wait()
	return nil
}
