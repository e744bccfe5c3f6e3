// Package budget decides whether a bot may open new exposure given its share
// of account equity and the positions it already owns.
package budget

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/models"
	"fleet-trader/internal/ownership"
)

// Policy selects the answer given when account, positions or config cannot
// be read.
type Policy string

const (
	FailOpen   Policy = "fail_open"
	FailClosed Policy = "fail_closed"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case FailOpen, FailClosed:
		return Policy(s), nil
	case "":
		return FailOpen, nil
	}
	return "", ferrors.NewValidationError("budget.policy", s, "must be fail_open or fail_closed")
}

// UnconfiguredPolicy selects the answer for a bot with no allocation entry or
// a zero allocation.
type UnconfiguredPolicy string

const (
	UnconfiguredAllow UnconfiguredPolicy = "allow"
	UnconfiguredDeny  UnconfiguredPolicy = "deny"
)

// ParseUnconfigured validates an unconfigured-allocation policy name.
func ParseUnconfigured(s string) (UnconfiguredPolicy, error) {
	switch UnconfiguredPolicy(s) {
	case UnconfiguredAllow, UnconfiguredDeny:
		return UnconfiguredPolicy(s), nil
	case "":
		return UnconfiguredAllow, nil
	}
	return "", ferrors.NewValidationError("budget.unconfigured", s, "must be allow or deny")
}

// DefaultSharedPools lists bots that draw on one capital pool. The crypto
// grid and the moon bag trade the same coins.
func DefaultSharedPools() [][]fleet.BotName {
	return [][]fleet.BotName{{fleet.CryptoGrid, fleet.MoonBag}}
}

// Reasons attached to a Decision.
const (
	ReasonWithinBudget = "within budget"
	ReasonExhausted    = "budget exhausted"
	ReasonUnconfigured = "no allocation configured"
	ReasonFailOpen     = "lookup failed, allowing"
	ReasonFailClosed   = "lookup failed, denying"
)

// Decision is the outcome of a budget check.
type Decision struct {
	Bot       fleet.BotName
	Allowed   bool
	Budget    float64
	Used      float64
	Remaining float64
	Reason    string
	Err       error
}

// AccountSource is the slice of the broker the guard reads.
type AccountSource interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	GetAllPositions(ctx context.Context) ([]models.Position, error)
}

// Options configures a Guard.
type Options struct {
	Policy       Policy
	Unconfigured UnconfiguredPolicy
	SharedPools  [][]fleet.BotName
	Logger       zerolog.Logger
}

// Guard checks per-bot budgets against live positions.
type Guard struct {
	store    fleet.Store
	account  AccountSource
	resolver *ownership.Resolver
	opts     Options
	logger   zerolog.Logger
}

// NewGuard creates a guard. A nil resolver uses the default ownership table
// and nil SharedPools uses DefaultSharedPools.
func NewGuard(store fleet.Store, account AccountSource, resolver *ownership.Resolver, opts Options) *Guard {
	if resolver == nil {
		resolver = ownership.Default()
	}
	if opts.Policy == "" {
		opts.Policy = FailOpen
	}
	if opts.Unconfigured == "" {
		opts.Unconfigured = UnconfiguredAllow
	}
	if opts.SharedPools == nil {
		opts.SharedPools = DefaultSharedPools()
	}
	return &Guard{
		store:    store,
		account:  account,
		resolver: resolver,
		opts:     opts,
		logger:   logging.WithComponent(opts.Logger, "budget"),
	}
}

// Allowed reports whether bot may open new exposure.
func (g *Guard) Allowed(ctx context.Context, bot fleet.BotName) bool {
	return g.Check(ctx, bot).Allowed
}

// Check evaluates the budget for bot. It never returns an error; lookup
// failures are resolved by the configured Policy and recorded on the Decision.
func (g *Guard) Check(ctx context.Context, bot fleet.BotName) Decision {
	d := g.check(ctx, bot)
	logging.LogBudget(g.logger, string(bot), d.Allowed, d.Used, d.Budget, d.Reason)
	if d.Err != nil {
		g.logger.Warn().Err(d.Err).Str("bot", string(bot)).Str("policy", string(g.opts.Policy)).Msg("budget lookup failed")
	}
	return d
}

func (g *Guard) check(ctx context.Context, bot fleet.BotName) Decision {
	cfg, err := g.store.Load(ctx)
	if err != nil {
		return g.onFailure(bot, ferrors.Wrap(err, "load fleet config"))
	}
	allocation := cfg.Allocation(bot)
	if allocation <= 0 {
		return g.unconfigured(bot)
	}

	account, err := g.account.GetAccount(ctx)
	if err != nil {
		return g.onFailure(bot, ferrors.Wrap(err, "get account"))
	}
	positions, err := g.account.GetAllPositions(ctx)
	if err != nil {
		return g.onFailure(bot, ferrors.Wrap(err, "get positions"))
	}

	return Evaluate(bot, allocation, account.Equity, positions, g.resolver, g.opts.SharedPools)
}

func (g *Guard) unconfigured(bot fleet.BotName) Decision {
	return Decision{
		Bot:     bot,
		Allowed: g.opts.Unconfigured == UnconfiguredAllow,
		Reason:  ReasonUnconfigured,
	}
}

func (g *Guard) onFailure(bot fleet.BotName, err error) Decision {
	if g.opts.Policy == FailClosed {
		return Decision{Bot: bot, Allowed: false, Reason: ReasonFailClosed, Err: err}
	}
	return Decision{Bot: bot, Allowed: true, Reason: ReasonFailOpen, Err: err}
}

// Evaluate is the pure budget rule: the bot may trade while its allocation of
// equity strictly exceeds the market value of the positions it owns, counting
// positions of every bot sharing a pool with it.
func Evaluate(bot fleet.BotName, allocation, equity float64, positions []models.Position, resolver *ownership.Resolver, pools [][]fleet.BotName) Decision {
	members := PoolOf(bot, pools)

	var used float64
	for _, p := range positions {
		if _, ok := members[resolver.OwnerOf(p)]; ok {
			used += p.MarketValue
		}
	}

	budget := equity * allocation
	remaining := budget - used
	d := Decision{
		Bot:       bot,
		Budget:    budget,
		Used:      used,
		Remaining: remaining,
		Allowed:   remaining > 0,
		Reason:    ReasonWithinBudget,
	}
	if !d.Allowed {
		d.Reason = ReasonExhausted
	}
	return d
}

// PoolOf returns bot together with every bot sharing a pool with it.
func PoolOf(bot fleet.BotName, pools [][]fleet.BotName) map[fleet.BotName]struct{} {
	members := map[fleet.BotName]struct{}{bot: {}}
	for _, pool := range pools {
		in := false
		for _, m := range pool {
			if m == bot {
				in = true
				break
			}
		}
		if !in {
			continue
		}
		for _, m := range pool {
			members[m] = struct{}{}
		}
	}
	return members
}

// String renders a decision for CLI output.
func (d Decision) String() string {
	verdict := "DENY"
	if d.Allowed {
		verdict = "ALLOW"
	}
	return fmt.Sprintf("%s %s: budget %.2f, used %.2f, remaining %.2f (%s)",
		verdict, d.Bot, d.Budget, d.Used, d.Remaining, d.Reason)
}
