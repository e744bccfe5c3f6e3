// Package fleet holds the shared fleet configuration document that coordinates
// every bot process: desired run state, capital allocation and global flags.
package fleet

import (
	"fmt"
	"sort"
	"strings"

	ferrors "fleet-trader/internal/errors"
)

// BotName identifies a bot in the closed set of known strategies.
type BotName string

const (
	TrendBot    BotName = "trend_bot"
	SurvivorBot BotName = "survivor_bot"
	CryptoGrid  BotName = "crypto_grid"
	MoonBag     BotName = "moon_bag"
	WheelBot    BotName = "wheel_bot"
	CondorBot   BotName = "condor_bot"
)

// SupervisorName is the process name the supervisor runs under. It is never
// stopped by the emergency stop.
const SupervisorName = "supervisor"

var knownBots = []BotName{TrendBot, SurvivorBot, CryptoGrid, MoonBag, WheelBot, CondorBot}

// KnownBots returns every bot the fleet knows about, in a stable order.
func KnownBots() []BotName {
	out := make([]BotName, len(knownBots))
	copy(out, knownBots)
	return out
}

// IsKnown reports whether name is a member of the closed bot set.
func (b BotName) IsKnown() bool {
	for _, k := range knownBots {
		if k == b {
			return true
		}
	}
	return false
}

// TradesCrypto reports whether the bot trades 24/7 crypto pairs.
func (b BotName) TradesCrypto() bool {
	return b == CryptoGrid || b == MoonBag
}

// ParseBotName validates a bot name.
func ParseBotName(s string) (BotName, error) {
	b := BotName(strings.TrimSpace(s))
	if !b.IsKnown() {
		return "", fmt.Errorf("%w: %q", ferrors.ErrUnknownBot, s)
	}
	return b, nil
}

// BotStatus is the desired run state of a bot.
type BotStatus string

const (
	StatusActive BotStatus = "active"
	StatusPaused BotStatus = "paused"
)

// Valid reports whether s is a recognised status.
func (s BotStatus) Valid() bool {
	return s == StatusActive || s == StatusPaused
}

// RegimeTag is the coarse market classification published by the analyst.
type RegimeTag string

const (
	RegimeBullTrend RegimeTag = "BULL_TREND"
	RegimeBearTrend RegimeTag = "BEAR_TREND"
	RegimeChop      RegimeTag = "CHOP"
	RegimeUnknown   RegimeTag = "UNKNOWN"
)

// Valid reports whether r is one of the tags the fleet understands.
func (r RegimeTag) Valid() bool {
	switch r {
	case RegimeBullTrend, RegimeBearTrend, RegimeChop, RegimeUnknown, "":
		return true
	}
	return false
}

// BotDefinition is one entry in the bots table.
type BotDefinition struct {
	Script     string    `json:"script"`
	Args       []string  `json:"args,omitempty"`
	Status     BotStatus `json:"status"`
	Allocation float64   `json:"allocation"`
}

// GlobalSettings holds fleet-wide flags.
type GlobalSettings struct {
	MarketCondition RegimeTag `json:"market_condition"`
	EmergencyStop   bool      `json:"emergency_stop"`
}

// FleetConfig is the singleton shared document. It is versionless; the last
// full write wins.
type FleetConfig struct {
	Bots           map[BotName]BotDefinition `json:"bots"`
	GlobalSettings GlobalSettings            `json:"global_settings"`

	// Unknown keeps entries whose names are outside the known set so that a
	// full overwrite by the analyst does not silently drop operator edits.
	Unknown map[string]BotDefinition `json:"-"`
}

// Bot returns the definition for name.
func (c *FleetConfig) Bot(name BotName) (BotDefinition, bool) {
	if c == nil || c.Bots == nil {
		return BotDefinition{}, false
	}
	def, ok := c.Bots[name]
	return def, ok
}

// Allocation returns the allocation fraction for name, or 0 when unconfigured.
func (c *FleetConfig) Allocation(name BotName) float64 {
	def, ok := c.Bot(name)
	if !ok {
		return 0
	}
	return def.Allocation
}

// Names returns the configured known bots sorted by name.
func (c *FleetConfig) Names() []BotName {
	names := make([]BotName, 0, len(c.Bots))
	for name := range c.Bots {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Clone returns a deep copy.
func (c *FleetConfig) Clone() *FleetConfig {
	if c == nil {
		return nil
	}
	out := &FleetConfig{
		Bots:           make(map[BotName]BotDefinition, len(c.Bots)),
		GlobalSettings: c.GlobalSettings,
	}
	for k, v := range c.Bots {
		v.Args = append([]string(nil), v.Args...)
		out.Bots[k] = v
	}
	if len(c.Unknown) > 0 {
		out.Unknown = make(map[string]BotDefinition, len(c.Unknown))
		for k, v := range c.Unknown {
			out.Unknown[k] = v
		}
	}
	return out
}

// Validate checks allocations and statuses. Problems that make the document
// unusable are returned as an error; unknown bot names and an over-committed
// allocation total are returned as warnings.
func (c *FleetConfig) Validate() ([]string, error) {
	var warnings []string
	var total float64

	for _, name := range c.Names() {
		def := c.Bots[name]
		if !def.Status.Valid() {
			return warnings, ferrors.Wrapf(
				ferrors.NewValidationError("status", def.Status, "must be active or paused"), "bot %s", name)
		}
		if def.Allocation < 0 || def.Allocation > 1 {
			return warnings, ferrors.Wrapf(
				ferrors.NewValidationError("allocation", def.Allocation, "must be within [0,1]"), "bot %s", name)
		}
		if def.Script == "" {
			warnings = append(warnings, fmt.Sprintf("bot %s has no script; it cannot be launched", name))
		}
		total += def.Allocation
	}

	if !c.GlobalSettings.MarketCondition.Valid() {
		return warnings, ferrors.NewValidationError("market_condition", c.GlobalSettings.MarketCondition, "unknown regime")
	}

	for _, name := range c.UnknownNames() {
		warnings = append(warnings, fmt.Sprintf("unknown bot %q ignored", name))
	}

	if total > 1.0+1e-9 {
		warnings = append(warnings, fmt.Sprintf("allocations sum to %.2f (over 100%% of equity)", total))
	}
	return warnings, nil
}

// UnknownNames lists the ignored bot entries, sorted.
func (c *FleetConfig) UnknownNames() []string {
	names := make([]string, 0, len(c.Unknown))
	for name := range c.Unknown {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
