// Package ownership attributes every live position to exactly one bot.
//
// The same resolver feeds both the budget guard and the accountant, so the
// rule table must stay total (every input yields a bot) and stable (the same
// input always yields the same bot).
package ownership

import (
	"strings"

	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
)

// Rule is one entry in the ordered ownership table.
type Rule interface {
	// Match returns the owner and true when the rule applies.
	Match(symbol string, class models.AssetClass) (fleet.BotName, bool)
	Name() string
}

// CryptoRule assigns every crypto position to a single owner.
type CryptoRule struct {
	Owner fleet.BotName
}

func (r CryptoRule) Name() string { return "crypto" }

func (r CryptoRule) Match(_ string, class models.AssetClass) (fleet.BotName, bool) {
	return r.Owner, class == models.AssetCrypto
}

// OptionPrefixRule assigns options whose OCC symbol starts with one of the
// listed underlyings to Owner, and every other option to Fallback.
type OptionPrefixRule struct {
	Underlyings []string
	Owner       fleet.BotName
	Fallback    fleet.BotName
}

func (r OptionPrefixRule) Name() string { return "option_prefix" }

func (r OptionPrefixRule) Match(symbol string, class models.AssetClass) (fleet.BotName, bool) {
	if class != models.AssetOption {
		return "", false
	}
	for _, u := range r.Underlyings {
		if strings.HasPrefix(symbol, u) {
			return r.Owner, true
		}
	}
	return r.Fallback, true
}

// EquitySetRule assigns equities in a fixed symbol set.
type EquitySetRule struct {
	Label   string
	Symbols map[string]struct{}
	Owner   fleet.BotName
}

// NewEquitySetRule builds an EquitySetRule from a symbol list.
func NewEquitySetRule(label string, owner fleet.BotName, symbols ...string) EquitySetRule {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return EquitySetRule{Label: label, Symbols: set, Owner: owner}
}

func (r EquitySetRule) Name() string { return r.Label }

func (r EquitySetRule) Match(symbol string, class models.AssetClass) (fleet.BotName, bool) {
	if class != models.AssetEquity {
		return "", false
	}
	_, ok := r.Symbols[symbol]
	return r.Owner, ok
}

// DefaultRule matches everything. It must be last.
type DefaultRule struct {
	Owner fleet.BotName
}

func (r DefaultRule) Name() string { return "default" }

func (r DefaultRule) Match(string, models.AssetClass) (fleet.BotName, bool) {
	return r.Owner, true
}

// Leveraged ETFs traded by the survivor bot.
var LeveragedETFs = []string{"TQQQ", "SQQQ", "SOXL", "SOXS", "FNGU", "UPRO", "SPXL", "SPXS"}

// Underlyings the wheel bot sells puts and covered calls on.
var WheelUnderlyings = []string{"DIS", "F", "PLTR"}

// DefaultRules is the fleet's ownership table, in priority order.
func DefaultRules() []Rule {
	return []Rule{
		CryptoRule{Owner: fleet.CryptoGrid},
		OptionPrefixRule{Underlyings: WheelUnderlyings, Owner: fleet.WheelBot, Fallback: fleet.CondorBot},
		NewEquitySetRule("leveraged_etf", fleet.SurvivorBot, LeveragedETFs...),
		NewEquitySetRule("wheel_underlying", fleet.WheelBot, WheelUnderlyings...),
		DefaultRule{Owner: fleet.TrendBot},
	}
}

// Resolver evaluates a rule table in order.
type Resolver struct {
	rules    []Rule
	fallback fleet.BotName
}

// NewResolver creates a resolver. If the table does not end in a rule that
// always matches, fallback makes it total.
func NewResolver(rules []Rule, fallback fleet.BotName) *Resolver {
	return &Resolver{rules: rules, fallback: fallback}
}

// Default returns the resolver for the fleet's standard table.
func Default() *Resolver {
	return NewResolver(DefaultRules(), fleet.TrendBot)
}

// Owner returns the bot that owns a position in symbol.
func (r *Resolver) Owner(symbol string, class models.AssetClass) fleet.BotName {
	owner, _ := r.Explain(symbol, class)
	return owner
}

// Explain returns the owner together with the name of the rule that matched.
func (r *Resolver) Explain(symbol string, class models.AssetClass) (fleet.BotName, string) {
	for _, rule := range r.rules {
		if owner, ok := rule.Match(symbol, class); ok {
			return owner, rule.Name()
		}
	}
	return r.fallback, "fallback"
}

// OwnerOf is a convenience for positions.
func (r *Resolver) OwnerOf(p models.Position) fleet.BotName {
	return r.Owner(p.Symbol, p.AssetClass)
}
