package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fleet-trader/internal/broker"
	"fleet-trader/internal/config"
	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/journal"
	"fleet-trader/internal/models"
	"fleet-trader/internal/ownership"
)

func addFleetCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newProcessesCmd(app))
	rootCmd.AddCommand(newBudgetCmd(app))
	rootCmd.AddCommand(newOwnerCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the fleet document, regime and scout targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := newStore(app.Config).Load(cmd.Context())
			if err != nil {
				if ferrors.Is(err, ferrors.ErrConfigNotFound) {
					output.Warning("No fleet config at %s; the supervisor will create it from the template", app.Config.Fleet.ConfigPath)
					return nil
				}
				return err
			}
			if output.IsJSON() {
				data, err := fleet.Encode(cfg)
				if err != nil {
					return err
				}
				output.Println(string(data))
				return nil
			}

			output.Bold("Fleet")
			table := NewTable(output, "BOT", "STATUS", "ALLOCATION", "SCRIPT")
			for _, name := range cfg.Names() {
				def := cfg.Bots[name]
				table.AddRow(string(name), output.Status(string(def.Status)), FormatFraction(def.Allocation), def.Script)
			}
			table.Render()
			output.Println()

			output.Printf("Market condition: %s\n", cfg.GlobalSettings.MarketCondition)
			if cfg.GlobalSettings.EmergencyStop {
				output.Error("EMERGENCY STOP is ON")
			} else {
				output.Success("Emergency stop is off")
			}

			if r, err := fleet.ReadRegime(app.Config.Regime.RegimePath); err == nil {
				output.Dim("Analyst: %s (ADX %.1f, price %.2f, MA %.2f) at %s",
					r.Regime, r.ADX, r.Price, r.MA, r.Updated.Format(time.RFC3339))
			}
			if t, err := fleet.ReadTargets(app.Config.Scout.TargetsPath); err == nil {
				output.Dim("Scout targets: %s (updated %s)", strings.Join(t.Targets, ", "), t.Updated.Format(time.RFC3339))
			}
			warnings, _ := cfg.Validate()
			for _, w := range warnings {
				output.Warning("%s", w)
			}
			return nil
		},
	}
}

func newProcessesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List processes known to the process manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := cycleDeadline(cmd.Context(), app.Config.Intervals.CallTimeout)
			defer cancel()

			procs, err := newProcessManager(app.Config, app.Logger).List(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(procs)
			}
			table := NewTable(output, "NAME", "STATUS", "CPU", "MEMORY", "RESTARTS", "UPTIME")
			for _, p := range procs {
				table.AddRow(p.Name, output.Status(string(p.Status)),
					fmt.Sprintf("%.1f%%", p.CPUPercent), FormatBytes(p.MemoryBytes),
					strconv.Itoa(p.RestartCount), FormatDuration(p.Uptime))
			}
			table.Render()
			return nil
		},
	}
}

type budgetView struct {
	Bot       string  `json:"bot"`
	Allowed   bool    `json:"allowed"`
	Budget    float64 `json:"budget"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
	Reason    string  `json:"reason"`
	Error     string  `json:"error,omitempty"`
}

func newBudgetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "budget <bot>",
		Short: "Check whether a bot may open new positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			bot, err := fleet.ParseBotName(args[0])
			if err != nil {
				return err
			}
			client, err := newBroker(app.Config, string(bot), app.Logger)
			if err != nil {
				return err
			}
			ctx, cancel := cycleDeadline(cmd.Context(), app.Config.Intervals.CallTimeout)
			defer cancel()

			d := newGuard(app.Config, newStore(app.Config), client, app.Logger).Check(ctx, bot)
			if output.IsJSON() {
				v := budgetView{
					Bot: string(d.Bot), Allowed: d.Allowed, Budget: d.Budget,
					Used: d.Used, Remaining: d.Remaining, Reason: d.Reason,
				}
				if d.Err != nil {
					v.Error = d.Err.Error()
				}
				return output.JSON(v)
			}

			verdict := output.Green("ALLOW")
			if !d.Allowed {
				verdict = output.Red("DENY")
			}
			output.Printf("%s %s\n", verdict, d.Bot)
			output.Printf("  Budget:    %s\n", FormatUSD(d.Budget))
			output.Printf("  Used:      %s\n", FormatUSD(d.Used))
			output.Printf("  Remaining: %s\n", FormatUSD(d.Remaining))
			output.Dim("  %s", d.Reason)
			if d.Err != nil {
				output.Warning("  %v", d.Err)
			}
			return nil
		},
	}
}

func newOwnerCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner <symbol>",
		Short: "Show which bot owns positions in a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			class, _ := cmd.Flags().GetString("class")
			symbol := strings.ToUpper(args[0])
			ac := models.ParseAssetClass(class)
			if class == "" {
				ac = broker.ClassOf(symbol)
			}
			owner, rule := ownership.Default().Explain(symbol, ac)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"symbol": symbol,
					"class":  string(ac),
					"owner":  string(owner),
					"rule":   rule,
				})
			}
			output.Printf("%s (%s) -> %s\n", symbol, ac, output.Green(string(owner)))
			output.Dim("matched rule: %s", rule)
			return nil
		},
	}
	cmd.Flags().String("class", "", "asset class: us_equity, us_option or crypto (default: guessed)")
	return cmd
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration and fleet document management",
		Long:  "View and manage the daemon configuration and the shared fleet document.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the fleet document",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			cfg, err := newStore(app.Config).Load(cmd.Context())
			if err != nil && !ferrors.Is(err, ferrors.ErrConfigNotFound) {
				output.Error("Fleet config invalid: %v", err)
				return err
			}
			var warnings []string
			if cfg != nil {
				warnings, _ = cfg.Validate()
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"valid": true, "warnings": warnings})
			}
			for _, w := range warnings {
				output.Warning("%s", w)
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config template and the fleet document template",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")
			if force {
				if err := config.WriteTemplate(app.ConfigDir, true); err != nil {
					return err
				}
			}
			output.Success("Config: %s", config.TemplatePath(app.ConfigDir))

			tmplPath := app.Config.Fleet.TemplatePath
			if _, err := os.Stat(tmplPath); force || err != nil {
				if err := writeBundledTemplate(tmplPath); err != nil {
					return err
				}
			}
			output.Success("Fleet template: %s", tmplPath)

			store := newStore(app.Config)
			_, created, err := fleet.LoadOrInit(cmd.Context(), store, store)
			if err != nil {
				return err
			}
			if created {
				output.Success("Fleet config created: %s", store.Path())
			} else {
				output.Info("Fleet config kept: %s", store.Path())
			}
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite existing templates")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:       "estop <on|off>",
		Short:     "Set or clear the fleet-wide emergency stop",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			store := newStore(app.Config)
			if _, err := fleet.SetEmergencyStop(cmd.Context(), store, store, on); err != nil {
				return err
			}
			app.Logger.Warn().Bool("emergency_stop", on).Msg("Emergency stop changed by operator")
			if output.IsJSON() {
				return output.JSON(map[string]bool{"emergency_stop": on})
			}
			if on {
				output.Error("EMERGENCY STOP set: the supervisor will stop every bot")
			} else {
				output.Success("Emergency stop cleared")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "allocate <bot> <fraction>",
		Short: "Set a bot's share of account equity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			bot, err := fleet.ParseBotName(args[0])
			if err != nil {
				return err
			}
			fraction, err := parseFraction(args[1])
			if err != nil {
				return err
			}
			store := newStore(app.Config)
			cfg, err := fleet.SetAllocation(cmd.Context(), store, store, bot, fraction)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"bot": bot, "allocation": fraction})
			}
			output.Success("%s allocation set to %s", bot, FormatFraction(fraction))
			warnings, _ := cfg.Validate()
			for _, w := range warnings {
				output.Warning("%s", w)
			}
			return nil
		},
	})

	return cmd
}

func writeBundledTemplate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, fleet.BundledTemplate(), 0644); err != nil {
		return ferrors.NewConfigError("write", path, err)
	}
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// parseFraction accepts 0.25 as well as 25%.
func parseFraction(s string) (float64, error) {
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, ferrors.NewValidationError("allocation", s, "not a number")
	}
	if pct {
		v /= 100
	}
	return v, nil
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&c.Broker.APIKey)
	mask(&c.Broker.SecretKey)
	mask(&c.Metrics.Password)
	mask(&c.Notifications.DiscordOverseer)
	mask(&c.Notifications.DiscordFleet)
	mask(&c.Notifications.TelegramBotToken)
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	c := redacted(cfg)
	output.Bold("Configuration")
	if c.Path != "" {
		output.Dim("File: %s", c.Path)
	} else {
		output.Dim("File: none, defaults in use")
	}
	output.Println()

	section := func(title string, rows ...[2]string) {
		output.Info("%s", title)
		for _, r := range rows {
			output.Printf("  %-18s %s\n", r[0]+":", r[1])
		}
	}
	section("Fleet",
		[2]string{"Config", c.Fleet.ConfigPath},
		[2]string{"Template", c.Fleet.TemplatePath},
		[2]string{"Supervisor name", c.Fleet.SelfName})
	section("Intervals",
		[2]string{"Supervisor", c.Intervals.Supervisor.String()},
		[2]string{"Emergency", c.Intervals.EmergencyDelay.String()},
		[2]string{"Analyst", c.Intervals.Analyst.String()},
		[2]string{"Accountant", c.Intervals.Accountant.String()},
		[2]string{"Scout", c.Intervals.Scout.String()},
		[2]string{"Worker", c.Intervals.Worker.String()})
	section("Budget",
		[2]string{"Policy", c.Budget.Policy},
		[2]string{"Unconfigured", c.Budget.Unconfigured})
	section("Regime",
		[2]string{"Symbol", c.Regime.Symbol},
		[2]string{"MA / ADX", fmt.Sprintf("%d / %d", c.Regime.MAPeriod, c.Regime.ADXPeriod)},
		[2]string{"Threshold", strconv.FormatFloat(c.Regime.TrendThreshold, 'f', 1, 64)})
	section("Broker",
		[2]string{"Paper", strconv.FormatBool(c.Broker.Paper)},
		[2]string{"API key", c.Broker.APIKey})
	section("Metrics",
		[2]string{"InfluxDB", c.Metrics.InfluxURL + "/" + c.Metrics.Database},
		[2]string{"OTLP", strconv.FormatBool(c.Metrics.OTelEnabled)})
	section("Notifications",
		[2]string{"Level", c.Notifications.Level},
		[2]string{"Discord", c.Notifications.DiscordOverseer},
		[2]string{"Telegram", strconv.FormatBool(c.Notifications.TelegramChatID != 0)})
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the trade journal as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			source, _ := cmd.Flags().GetString("source")
			out, _ := cmd.Flags().GetString("output")

			var res closers
			defer res.Close()
			j, err := openJournals(app.Config, app.Logger, &res)
			if err != nil {
				return err
			}
			var log journal.TradeLog
			switch source {
			case "sqlite":
				log = j.SQLite
			case "influx":
				if j.Influx == nil {
					return fmt.Errorf("influx trade log unavailable at %s", app.Config.Metrics.InfluxURL)
				}
				log = j.Influx
			case "", "auto":
				log = j.TradeLog()
			default:
				return fmt.Errorf("unknown source %q: want auto, sqlite or influx", source)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			ctx, cancel := cycleDeadline(cmd.Context(), app.Config.Intervals.CallTimeout)
			defer cancel()
			n, err := journal.Export(ctx, log, time.Now().Add(-since), w)
			if err != nil {
				return err
			}
			app.Logger.Info().Int("rows", n).Str("source", source).Msg("Trade journal exported")
			if w != cmd.OutOrStdout() {
				NewOutput(cmd).Success("Exported %d trades to %s", n, out)
			}
			return nil
		},
	}
	cmd.Flags().Duration("since", 30*24*time.Hour, "how far back to export")
	cmd.Flags().String("source", "auto", "journal to read: auto, sqlite or influx")
	cmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	return cmd
}
