package config

import (
	"fmt"
	"os"
	"path/filepath"

	ferrors "fleet-trader/internal/errors"
)

const configTemplate = `# Fleet Trader Configuration
# Environment variables (and a .env file in the working directory) override
# the broker keys, webhooks, INFLUX_HOST and FLEET_CONFIG_PATH.

[fleet]
# Shared fleet document and the template copied in when it is missing
config_path = "bot_config.json"
template_path = "bot_config.template.json"
# Process name of the supervisor; never stopped by the kill switch
self_name = "supervisor"
# Host tag on process metrics (defaults to the machine hostname)
host = ""

[intervals]
supervisor = "60s"
emergency_delay = "10s"
analyst = "1h"
accountant = "5m"
scout = "15m"
worker = "1m"
# Wait after a failed cycle; doubles on repeated failures
error_backoff = "60s"
# Bound on every external call
call_timeout = "30s"

[budget]
# What to answer when account, positions or the fleet document cannot be read:
# "fail_open" lets the bot trade, "fail_closed" blocks it
policy = "fail_open"
# Bots with no allocation: "allow" or "deny"
unconfigured = "allow"

[regime]
symbol = "SPY"
ma_period = 200
adx_period = 14
trend_threshold = 25.0
lookback_days = 400
regime_path = "market_regime.json"

[accountant]
history_days = 30

[broker]
paper = true
api_key = ""
secret_key = ""
base_url = ""
data_url = ""
rate_per_second = 3.0
# Workers fill orders against an in-memory account seeded with
# dry_run_balance; bars and the clock still come from Alpaca.
dry_run = false
dry_run_balance = 100000.0

[metrics]
influx_url = "http://localhost:8086"
database = "home"
otel_enabled = false
otlp_endpoint = ""
otlp_insecure = true

[notifications]
# all, fleet_only, errors_only
level = "all"
discord_overseer = ""
discord_fleet = ""
telegram_bot_token = ""
telegram_chat_id = 0
console = false

[process_manager]
binary = "pm2"
interpreter = ""

[scout]
targets_path = "active_targets.json"
base_list = ["SPY", "QQQ", "IWM"]
momentum_threshold = 0.02
start_hour = 8
end_hour = 17

[worker]
symbols = ["SPY", "QQQ"]
# Universe for crypto_grid and moon_bag.
crypto_symbols = ["BTC/USD", "ETH/USD"]
sma_period = 20
notional = 1000.0
concurrency = 4

[journal]
sqlite_path = ""

[api]
# Status server for daemons, e.g. "127.0.0.1:8090". Empty disables it.
listen = ""

[log]
level = "info"
file = true
dir = ""

[ui]
color_enabled = true
`

// TemplatePath is where config.toml lives in configDir.
func TemplatePath(configDir string) string {
	return filepath.Join(configDir, "config.toml")
}

// WriteTemplate writes the commented template. An existing file is kept
// unless overwrite is set.
func WriteTemplate(configDir string, overwrite bool) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return ferrors.NewConfigError("mkdir", configDir, err)
	}
	path := TemplatePath(configDir)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return ferrors.NewConfigError("write", path, err)
	}
	return nil
}
