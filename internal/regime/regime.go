// Package regime classifies the broad market as trending or chopping and
// rewrites the fleet's desired bot states to match.
package regime

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
)

// Config holds the detector's market inputs.
type Config struct {
	Symbol         string
	MAPeriod       int
	ADXPeriod      int
	TrendThreshold float64
	LookbackDays   int
}

// DefaultConfig returns SPY with a 200 day SMA and a 14 day ADX over 25.
func DefaultConfig() Config {
	return Config{
		Symbol:         "SPY",
		MAPeriod:       200,
		ADXPeriod:      14,
		TrendThreshold: 25,
		LookbackDays:   400,
	}
}

// Reading is one regime evaluation.
type Reading struct {
	Regime fleet.RegimeTag
	Symbol string
	Price  float64
	MA     float64
	ADX    float64
	At     time.Time
}

// Classify maps indicator values to a regime. Trend strength must strictly
// exceed the threshold; direction comes from price against the average.
func Classify(adx, price, ma, threshold float64) fleet.RegimeTag {
	if adx > threshold {
		if price > ma {
			return fleet.RegimeBullTrend
		}
		return fleet.RegimeBearTrend
	}
	return fleet.RegimeChop
}

// Analyze computes the latest reading from daily bars.
func Analyze(candles []models.Candle, cfg Config) (Reading, error) {
	sma, err := SMA(candles, cfg.MAPeriod)
	if err != nil {
		return Reading{}, err
	}
	adx, err := ADX(candles, cfg.ADXPeriod)
	if err != nil {
		return Reading{}, err
	}

	last := len(candles) - 1
	r := Reading{
		Symbol: cfg.Symbol,
		Price:  candles[last].Close,
		MA:     sma[last],
		ADX:    adx[last],
		At:     candles[last].Timestamp,
	}
	r.Regime = Classify(r.ADX, r.Price, r.MA, cfg.TrendThreshold)
	return r, nil
}

// Playbook maps each regime to the desired status of every bot it names.
type Playbook map[fleet.RegimeTag]map[fleet.BotName]fleet.BotStatus

// DefaultPlaybook is the fleet's regime table.
//
// Bull: trend followers, breakouts and put selling run; the grid sits out.
// Bear: only the trend bot, which can short.
// Chop: range strategies (grid, wheel, condor) and crypto breakouts run.
func DefaultPlaybook() Playbook {
	const on, off = fleet.StatusActive, fleet.StatusPaused
	return Playbook{
		fleet.RegimeBullTrend: {
			fleet.TrendBot:    on,
			fleet.SurvivorBot: on,
			fleet.MoonBag:     on,
			fleet.CryptoGrid:  off,
			fleet.WheelBot:    on,
			fleet.CondorBot:   off,
		},
		fleet.RegimeBearTrend: {
			fleet.TrendBot:    on,
			fleet.SurvivorBot: off,
			fleet.MoonBag:     off,
			fleet.CryptoGrid:  off,
			fleet.WheelBot:    off,
			fleet.CondorBot:   off,
		},
		fleet.RegimeChop: {
			fleet.TrendBot:    off,
			fleet.SurvivorBot: off,
			fleet.MoonBag:     on,
			fleet.CryptoGrid:  on,
			fleet.WheelBot:    on,
			fleet.CondorBot:   on,
		},
	}
}

// Targets returns the desired status for each bot under regime.
func (p Playbook) Targets(regime fleet.RegimeTag) map[fleet.BotName]fleet.BotStatus {
	return p[regime]
}

// Change is a single status flip.
type Change struct {
	Bot  fleet.BotName
	From fleet.BotStatus
	To   fleet.BotStatus
}

func (c Change) String() string {
	return fmt.Sprintf("%s -> %s", c.Bot, c.To)
}

// Diff lists the bots in cfg whose status differs from the playbook target,
// sorted by bot name. Bots the playbook names but cfg lacks are not added.
func (p Playbook) Diff(cfg *fleet.FleetConfig, regime fleet.RegimeTag) []Change {
	var changes []Change
	for bot, want := range p.Targets(regime) {
		def, ok := cfg.Bot(bot)
		if !ok || def.Status == want {
			continue
		}
		changes = append(changes, Change{Bot: bot, From: def.Status, To: want})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Bot < changes[j].Bot })
	return changes
}

// Apply writes changes and the regime tag into cfg. It runs only when some
// status changes, so market_condition can lag the analyst's reading; the
// regime side file is rewritten every cycle and is the current regime.
func Apply(cfg *fleet.FleetConfig, regime fleet.RegimeTag, changes []Change) {
	for _, c := range changes {
		def := cfg.Bots[c.Bot]
		def.Status = c.To
		cfg.Bots[c.Bot] = def
	}
	cfg.GlobalSettings.MarketCondition = regime
}

// ChangeMessage renders the notification body for a regime shift.
func ChangeMessage(regime fleet.RegimeTag, changes []Change) string {
	lines := make([]string, 0, len(changes)+2)
	lines = append(lines, fmt.Sprintf("**Regime Shift Detected: %s**", regime), "Adjusting Fleet:")
	for _, c := range changes {
		lines = append(lines, c.String())
	}
	return strings.Join(lines, "\n")
}
