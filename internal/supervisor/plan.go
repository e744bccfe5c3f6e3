package supervisor

import (
	"context"
	"fmt"

	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
)

// ProcessManager controls the processes that host bots.
type ProcessManager interface {
	List(ctx context.Context) ([]models.ProcessState, error)
	Start(ctx context.Context, name, script string, args []string) error
	Restart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// ActionKind is a process manager command.
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionRestart ActionKind = "restart"
	ActionStop    ActionKind = "stop"
)

// Action is one command the supervisor will issue.
type Action struct {
	Kind   ActionKind
	Name   string
	Script string
	Args   []string
	Reason string
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Kind, a.Name, a.Reason)
}

// Plan is the outcome of comparing desired and actual state.
type Plan struct {
	Emergency bool
	Actions   []Action
	// Orphans are processes named after fleet bots that the config does not
	// list. They are reported, never touched.
	Orphans []string
}

// Reconcile compares the config with the process list. It is level
// triggered: the result depends only on its inputs.
//
// With the emergency stop set, every online process except self is stopped
// and nothing else happens. Otherwise active bots that are missing are
// started, active bots that are stopped or errored are restarted and paused
// bots that are online are stopped.
func Reconcile(cfg *fleet.FleetConfig, procs []models.ProcessState, self string) Plan {
	if cfg.GlobalSettings.EmergencyStop {
		plan := Plan{Emergency: true}
		for _, p := range procs {
			if p.Name == self || !p.IsOnline() {
				continue
			}
			plan.Actions = append(plan.Actions, Action{Kind: ActionStop, Name: p.Name, Reason: "emergency stop"})
		}
		return plan
	}

	actual := make(map[string]models.RuntimeStatus, len(procs))
	for _, p := range procs {
		actual[p.Name] = p.Status
	}

	var plan Plan
	for _, name := range cfg.Names() {
		def := cfg.Bots[name]
		status, ok := actual[string(name)]
		if !ok {
			status = models.RuntimeMissing
		}

		switch def.Status {
		case fleet.StatusActive:
			switch status {
			case models.RuntimeMissing:
				plan.Actions = append(plan.Actions, Action{
					Kind: ActionStart, Name: string(name), Script: def.Script, Args: def.Args, Reason: "active but missing",
				})
			case models.RuntimeStopped, models.RuntimeErrored:
				plan.Actions = append(plan.Actions, Action{
					Kind: ActionRestart, Name: string(name), Reason: fmt.Sprintf("active but %s", status),
				})
			}
		case fleet.StatusPaused:
			if status == models.RuntimeOnline {
				plan.Actions = append(plan.Actions, Action{Kind: ActionStop, Name: string(name), Reason: "paused by config"})
			}
		}
	}

	for _, p := range procs {
		if p.Name == self {
			continue
		}
		bot := fleet.BotName(p.Name)
		if _, listed := cfg.Bots[bot]; !listed && bot.IsKnown() {
			plan.Orphans = append(plan.Orphans, p.Name)
		}
	}
	return plan
}
