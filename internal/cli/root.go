// Package cli provides the command-line interface for the fleet daemons and
// operator tools.
package cli

import (
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fleet-trader/internal/config"
	"fleet-trader/internal/logging"
)

const daemonAnnotation = "daemon"

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies shared by every command.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "fleet",
		Short: "Fleet Trader - supervisor, analyst and accountant for a fleet of trading bots",
		Long: `Fleet Trader runs a fleet of independent trading bots against one shared
brokerage account.

The supervisor keeps the process table in line with the shared fleet document,
the analyst switches bots on and off with the market regime, the accountant
attributes P&L to each bot, and the scout publishes the day's active symbols.

Use 'fleet <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd, args)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/fleet-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addDaemonCommands(rootCmd, app)
	addFleetCommands(rootCmd, app)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// init loads configuration and builds the logger. Each daemon logs to its
// own rotated file named after the command.
func (a *App) init(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.ConfigDir = dir

	if !cfg.UI.ColorEnabled {
		color.NoColor = true
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.File = cfg.Log.File
	logCfg.FilePath = filepath.Join(cfg.Log.Dir, "fleet.log")
	// Operator commands keep stdout for their own output.
	logCfg.Console = cmd.Annotations[daemonAnnotation] != ""
	logCfg = logCfg.ForDaemon(logName(cmd, args))

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
		logging.SetDebugLevel()
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)
	a.Logger.Debug().Str("config", cfg.Path).Str("command", cmd.Name()).Msg("configuration loaded")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Fleet Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

// logName separates the log files of workers running for different bots.
func logName(cmd *cobra.Command, args []string) string {
	if cmd.Name() == "worker" && len(args) > 0 {
		return "worker-" + args[0]
	}
	return cmd.Name()
}
