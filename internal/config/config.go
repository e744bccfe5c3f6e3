// Package config provides configuration management for the fleet daemons.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fleet-trader/internal/budget"
	ferrors "fleet-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Fleet          FleetSection         `mapstructure:"fleet"`
	Intervals      IntervalConfig       `mapstructure:"intervals"`
	Budget         BudgetConfig         `mapstructure:"budget"`
	Regime         RegimeConfig         `mapstructure:"regime"`
	Accountant     AccountantConfig     `mapstructure:"accountant"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Notifications  NotificationConfig   `mapstructure:"notifications"`
	ProcessManager ProcessManagerConfig `mapstructure:"process_manager"`
	Scout          ScoutConfig          `mapstructure:"scout"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Journal        JournalConfig        `mapstructure:"journal"`
	API            APIConfig            `mapstructure:"api"`
	Log            LogConfig            `mapstructure:"log"`
	UI             UIConfig             `mapstructure:"ui"`

	// Path is the file the configuration was read from, empty when defaults
	// were used.
	Path string `mapstructure:"-"`
}

// FleetSection locates the shared fleet document.
type FleetSection struct {
	ConfigPath   string `mapstructure:"config_path"`
	TemplatePath string `mapstructure:"template_path"`
	SelfName     string `mapstructure:"self_name"`
	Host         string `mapstructure:"host"`
}

// IntervalConfig holds loop cadences.
type IntervalConfig struct {
	Supervisor     time.Duration `mapstructure:"supervisor"`
	EmergencyDelay time.Duration `mapstructure:"emergency_delay"`
	Analyst        time.Duration `mapstructure:"analyst"`
	Accountant     time.Duration `mapstructure:"accountant"`
	Scout          time.Duration `mapstructure:"scout"`
	Worker         time.Duration `mapstructure:"worker"`
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

// BudgetConfig selects the guard's policies.
type BudgetConfig struct {
	Policy       string `mapstructure:"policy"`
	Unconfigured string `mapstructure:"unconfigured"`
}

// RegimeConfig tunes the analyst.
type RegimeConfig struct {
	Symbol         string  `mapstructure:"symbol"`
	MAPeriod       int     `mapstructure:"ma_period"`
	ADXPeriod      int     `mapstructure:"adx_period"`
	TrendThreshold float64 `mapstructure:"trend_threshold"`
	LookbackDays   int     `mapstructure:"lookback_days"`
	RegimePath     string  `mapstructure:"regime_path"`
}

// AccountantConfig tunes the accountant.
type AccountantConfig struct {
	HistoryDays int `mapstructure:"history_days"`
}

// BrokerConfig holds Alpaca connection settings.
type BrokerConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	DataURL       string  `mapstructure:"data_url"`
	APIKey        string  `mapstructure:"api_key"`
	SecretKey     string  `mapstructure:"secret_key"`
	Paper         bool    `mapstructure:"paper"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	// DryRun makes workers fill orders against an in-memory account while
	// still reading live bars and the market clock.
	DryRun        bool    `mapstructure:"dry_run"`
	DryRunBalance float64 `mapstructure:"dry_run_balance"`
}

// MetricsConfig selects the time-series sinks.
type MetricsConfig struct {
	InfluxURL      string        `mapstructure:"influx_url"`
	Database       string        `mapstructure:"database"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	OTelEnabled    bool          `mapstructure:"otel_enabled"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// NotificationConfig holds channel settings.
type NotificationConfig struct {
	Level            string `mapstructure:"level"`
	DiscordOverseer  string `mapstructure:"discord_overseer"`
	DiscordFleet     string `mapstructure:"discord_fleet"`
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
	Console          bool   `mapstructure:"console"`
}

// ProcessManagerConfig holds the pm2 binary settings.
type ProcessManagerConfig struct {
	Binary      string `mapstructure:"binary"`
	Interpreter string `mapstructure:"interpreter"`
}

// ScoutConfig tunes the sector scout.
type ScoutConfig struct {
	TargetsPath       string   `mapstructure:"targets_path"`
	BaseList          []string `mapstructure:"base_list"`
	MomentumThreshold float64  `mapstructure:"momentum_threshold"`
	StartHour         int      `mapstructure:"start_hour"`
	EndHour           int      `mapstructure:"end_hour"`
}

// WorkerConfig tunes the built-in strategy worker.
type WorkerConfig struct {
	Symbols       []string `mapstructure:"symbols"`
	CryptoSymbols []string `mapstructure:"crypto_symbols"`
	SMAPeriod     int      `mapstructure:"sma_period"`
	Notional      float64  `mapstructure:"notional"`
	Concurrency   int      `mapstructure:"concurrency"`
}

// JournalConfig locates the local trade journal.
type JournalConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// APIConfig holds the status server address. Empty disables it.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
	Dir   string `mapstructure:"dir"`
}

// UIConfig holds terminal output settings.
type UIConfig struct {
	ColorEnabled bool `mapstructure:"color_enabled"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/fleet-trader"
	}
	return filepath.Join(home, ".config", "fleet-trader")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fleet.config_path", "bot_config.json")
	v.SetDefault("fleet.template_path", "bot_config.template.json")
	v.SetDefault("fleet.self_name", "supervisor")

	v.SetDefault("intervals.supervisor", 60*time.Second)
	v.SetDefault("intervals.emergency_delay", 10*time.Second)
	v.SetDefault("intervals.analyst", time.Hour)
	v.SetDefault("intervals.accountant", 5*time.Minute)
	v.SetDefault("intervals.scout", 15*time.Minute)
	v.SetDefault("intervals.worker", time.Minute)
	v.SetDefault("intervals.error_backoff", 60*time.Second)
	v.SetDefault("intervals.call_timeout", 30*time.Second)

	v.SetDefault("budget.policy", string(budget.FailOpen))
	v.SetDefault("budget.unconfigured", string(budget.UnconfiguredAllow))

	v.SetDefault("regime.symbol", "SPY")
	v.SetDefault("regime.ma_period", 200)
	v.SetDefault("regime.adx_period", 14)
	v.SetDefault("regime.trend_threshold", 25.0)
	v.SetDefault("regime.lookback_days", 400)
	v.SetDefault("regime.regime_path", "market_regime.json")

	v.SetDefault("accountant.history_days", 30)

	v.SetDefault("broker.paper", true)
	v.SetDefault("broker.dry_run_balance", 100000.0)
	v.SetDefault("broker.rate_per_second", 3.0)

	v.SetDefault("metrics.influx_url", "http://localhost:8086")
	v.SetDefault("metrics.database", "home")
	v.SetDefault("metrics.export_interval", 15*time.Second)

	v.SetDefault("notifications.level", "all")

	v.SetDefault("process_manager.binary", "pm2")

	v.SetDefault("scout.targets_path", "active_targets.json")
	v.SetDefault("scout.base_list", []string{"SPY", "QQQ", "IWM"})
	v.SetDefault("scout.momentum_threshold", 0.02)
	v.SetDefault("scout.start_hour", 8)
	v.SetDefault("scout.end_hour", 17)

	v.SetDefault("worker.crypto_symbols", []string{"BTC/USD", "ETH/USD"})
	v.SetDefault("worker.sma_period", 20)
	v.SetDefault("worker.notional", 1000.0)
	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)

	v.SetDefault("ui.color_enabled", true)
}

// Load reads config.toml from configDir, or the default directory when empty.
// A missing file is replaced by the commented template and defaults apply.
// Environment variables, including those from a .env file in the working
// directory, override the file.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	cfg := &Config{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, ferrors.NewConfigError("read", filepath.Join(configDir, "config.toml"), err)
		}
		if err := WriteTemplate(configDir, false); err != nil {
			return nil, err
		}
	} else {
		cfg.Path = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, ferrors.NewConfigError("decode", cfg.Path, err)
	}
	if cfg.Journal.SQLitePath == "" {
		cfg.Journal.SQLitePath = filepath.Join(configDir, "journal.db")
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = filepath.Join(configDir, "logs")
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return ferrors.NewConfigError("read", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		cfg.Broker.SecretKey = v
	}
	if v := os.Getenv("ALPACA_PAPER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Broker.Paper = b
		}
	}
	if v := os.Getenv("DISCORD_WEBHOOK_OVERSEER"); v != "" {
		cfg.Notifications.DiscordOverseer = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_FLEET"); v != "" {
		cfg.Notifications.DiscordFleet = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.TelegramBotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notifications.TelegramChatID = id
		}
	}
	if v := os.Getenv("INFLUX_HOST"); v != "" {
		cfg.Metrics.InfluxURL = influxURL(v)
	}
	if v := os.Getenv("FLEET_CONFIG_PATH"); v != "" {
		cfg.Fleet.ConfigPath = v
	}
}

// influxURL accepts a bare host name as well as a full URL.
func influxURL(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	if strings.Contains(host, ":") {
		return "http://" + host
	}
	return "http://" + host + ":8086"
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := budget.ParsePolicy(c.Budget.Policy); err != nil {
		return err
	}
	if _, err := budget.ParseUnconfigured(c.Budget.Unconfigured); err != nil {
		return err
	}

	intervals := map[string]time.Duration{
		"intervals.supervisor":      c.Intervals.Supervisor,
		"intervals.emergency_delay": c.Intervals.EmergencyDelay,
		"intervals.analyst":         c.Intervals.Analyst,
		"intervals.accountant":      c.Intervals.Accountant,
		"intervals.scout":           c.Intervals.Scout,
		"intervals.worker":          c.Intervals.Worker,
		"intervals.error_backoff":   c.Intervals.ErrorBackoff,
		"intervals.call_timeout":    c.Intervals.CallTimeout,
	}
	for field, d := range intervals {
		if d <= 0 {
			return ferrors.NewValidationError(field, d, "must be positive")
		}
	}

	if c.Regime.MAPeriod <= 0 || c.Regime.ADXPeriod <= 0 {
		return ferrors.NewValidationError("regime.ma_period/adx_period", fmt.Sprintf("%d/%d", c.Regime.MAPeriod, c.Regime.ADXPeriod), "must be positive")
	}
	if c.Regime.TrendThreshold <= 0 || c.Regime.TrendThreshold >= 100 {
		return ferrors.NewValidationError("regime.trend_threshold", c.Regime.TrendThreshold, "must be between 0 and 100")
	}
	if need := MinLookbackDays(c.Regime.MAPeriod); c.Regime.LookbackDays < need {
		return ferrors.NewValidationError("regime.lookback_days", c.Regime.LookbackDays,
			fmt.Sprintf("must be at least %d calendar days to yield %d daily bars", need, c.Regime.MAPeriod))
	}
	if c.Accountant.HistoryDays <= 0 {
		return ferrors.NewValidationError("accountant.history_days", c.Accountant.HistoryDays, "must be positive")
	}
	if c.Broker.DryRunBalance < 0 {
		return ferrors.NewValidationError("broker.dry_run_balance", c.Broker.DryRunBalance, "must be non-negative")
	}
	if c.Broker.RatePerSecond < 0 {
		return ferrors.NewValidationError("broker.rate_per_second", c.Broker.RatePerSecond, "must be non-negative")
	}
	if c.Scout.MomentumThreshold <= 0 || c.Scout.MomentumThreshold >= 1 {
		return ferrors.NewValidationError("scout.momentum_threshold", c.Scout.MomentumThreshold, "must be a fraction between 0 and 1")
	}
	if c.Scout.StartHour < 0 || c.Scout.EndHour > 23 || c.Scout.StartHour > c.Scout.EndHour {
		return ferrors.NewValidationError("scout.start_hour/end_hour", fmt.Sprintf("%d-%d", c.Scout.StartHour, c.Scout.EndHour), "must be an ordered range within 0-23")
	}
	if c.Worker.Notional < 0 {
		return ferrors.NewValidationError("worker.notional", c.Worker.Notional, "must be non-negative")
	}
	switch c.Notifications.Level {
	case "", "all", "fleet_only", "errors_only":
	default:
		return ferrors.NewValidationError("notifications.level", c.Notifications.Level, "must be all, fleet_only or errors_only")
	}
	return nil
}

// MinLookbackDays is the calendar window that yields bars daily bars: five
// sessions per seven days plus two weeks for holidays.
func MinLookbackDays(bars int) int {
	return (bars*7+4)/5 + 14
}

// BudgetPolicies returns the parsed budget policies. Validate must have passed.
func (c *Config) BudgetPolicies() (budget.Policy, budget.UnconfiguredPolicy) {
	p, _ := budget.ParsePolicy(c.Budget.Policy)
	u, _ := budget.ParseUnconfigured(c.Budget.Unconfigured)
	return p, u
}
