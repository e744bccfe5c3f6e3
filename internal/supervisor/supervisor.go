// Package supervisor keeps the running processes in line with the fleet
// config: it starts, revives and pauses bots and enforces the emergency stop.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/models"
	"fleet-trader/internal/notify"
)

const sender = "Supervisor"

// Options wires a Supervisor.
type Options struct {
	Processes ProcessManager
	Store     fleet.Store
	Template  fleet.TemplateSource
	Sink      metrics.Sink
	Notifier  notify.Notifier
	// Host tags the process metrics.
	Host string
	// Self is the supervisor's own process name, never stopped.
	Self string
	// EmergencyDelay replaces the normal interval while the emergency stop
	// is set.
	EmergencyDelay time.Duration
	Logger         zerolog.Logger
}

// Supervisor reconciles desired and actual process state.
type Supervisor struct {
	pm             ProcessManager
	store          fleet.Store
	template       fleet.TemplateSource
	sink           metrics.Sink
	notifier       notify.Notifier
	host           string
	self           string
	emergencyDelay time.Duration
	emergency      atomic.Bool
	now            func() time.Time
	logger         zerolog.Logger
}

// New creates a supervisor.
func New(opts Options) *Supervisor {
	if opts.Self == "" {
		opts.Self = fleet.SupervisorName
	}
	if opts.Host == "" {
		opts.Host, _ = os.Hostname()
	}
	if opts.EmergencyDelay <= 0 {
		opts.EmergencyDelay = 10 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Supervisor{
		pm:             opts.Processes,
		store:          opts.Store,
		template:       opts.Template,
		sink:           opts.Sink,
		notifier:       opts.Notifier,
		host:           opts.Host,
		self:           opts.Self,
		emergencyDelay: opts.EmergencyDelay,
		now:            time.Now,
		logger:         logging.WithComponent(opts.Logger, "supervisor"),
	}
}

// Report describes one cycle.
type Report struct {
	Processes []models.ProcessState
	Plan      Plan
	// Failed holds actions the process manager rejected.
	Failed []Action
	// Unknown lists bot entries outside the known set, which are ignored.
	Unknown []string
}

// Announce sends the start-up notification.
func (s *Supervisor) Announce(ctx context.Context) {
	notify.BestEffort(ctx, s.notifier, s.logger, notify.Notification{
		Type:    notify.NotificationInfo,
		Title:   "Supervisor Online",
		Message: "Monitoring the fleet and enforcing config.",
		Sender:  sender,
	})
}

// NextInterval is the wait before the next cycle: the short emergency delay
// while the stop is set, otherwise zero to use the loop's interval.
func (s *Supervisor) NextInterval() time.Duration {
	if s.emergency.Load() {
		return s.emergencyDelay
	}
	return 0
}

// RunCycle lists processes, publishes their health, loads the config and
// applies the reconcile plan. A failed command does not stop the others and
// is reported in Report.Failed, not as an error: one broken bot must not
// slow reconciliation of the rest. Only list and load failures fail a cycle.
func (s *Supervisor) RunCycle(ctx context.Context) (Report, error) {
	procs, err := s.pm.List(ctx)
	if err != nil {
		return Report{}, ferrors.Wrap(err, "list processes")
	}
	s.publishHealth(ctx, procs)

	cfg, created, err := fleet.LoadOrInit(ctx, s.store, s.template)
	if err != nil {
		return Report{Processes: procs}, ferrors.Wrap(err, "load fleet config")
	}
	if created {
		s.logger.Warn().Msg("fleet config missing; initialised from template")
	}

	plan := Reconcile(cfg, procs, s.self)
	s.emergency.Store(plan.Emergency)
	report := Report{Processes: procs, Plan: plan, Unknown: cfg.UnknownNames()}

	if plan.Emergency {
		s.logger.Warn().Int("stopping", len(plan.Actions)).Msg("EMERGENCY STOP ACTIVE")
	}
	for _, name := range plan.Orphans {
		s.logger.Warn().Str("process", name).Msg("bot process not listed in fleet config; leaving it alone")
	}
	for _, name := range report.Unknown {
		s.logger.Warn().Str("bot", name).Msg("unknown bot in fleet config; entry ignored")
	}

	for _, a := range plan.Actions {
		err := s.execute(ctx, a)
		logging.LogAction(s.logger, a.Name, string(a.Kind), a.Reason, err)
		if err != nil {
			report.Failed = append(report.Failed, a)
			continue
		}
		if !plan.Emergency {
			s.announceAction(ctx, a)
		}
	}

	if plan.Emergency && len(plan.Actions) > len(report.Failed) {
		notify.BestEffort(ctx, s.notifier, s.logger, notify.Notification{
			Type:    notify.NotificationEmergency,
			Title:   "EMERGENCY STOP",
			Message: fmt.Sprintf("Stopped %d process(es). Fleet halted.", len(plan.Actions)-len(report.Failed)),
			Sender:  sender,
		})
	}
	if len(report.Failed) > 0 {
		s.logger.Warn().Int("failed", len(report.Failed)).Int("actions", len(plan.Actions)).Msg("some process commands failed; retrying next cycle")
	}
	return report, nil
}

func (s *Supervisor) execute(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionStart:
		return s.pm.Start(ctx, a.Name, a.Script, a.Args)
	case ActionRestart:
		return s.pm.Restart(ctx, a.Name)
	case ActionStop:
		return s.pm.Stop(ctx, a.Name)
	default:
		return fmt.Errorf("unknown action %q", a.Kind)
	}
}

func (s *Supervisor) announceAction(ctx context.Context, a Action) {
	n := notify.Notification{Sender: sender}
	switch a.Kind {
	case ActionStart:
		n.Type, n.Title = notify.NotificationLaunch, "LAUNCH"
		n.Message = fmt.Sprintf("`%s` started by Supervisor.", a.Name)
	case ActionRestart:
		n.Type, n.Title = notify.NotificationRevival, "REVIVED"
		n.Message = fmt.Sprintf("`%s` was down/stopped. Restarting...", a.Name)
	case ActionStop:
		n.Type, n.Title = notify.NotificationPause, "PAUSED"
		n.Message = fmt.Sprintf("`%s` stopped by config.", a.Name)
	}
	notify.BestEffort(ctx, s.notifier, s.logger, n)
}

func (s *Supervisor) publishHealth(ctx context.Context, procs []models.ProcessState) {
	now := s.now()
	points := make([]metrics.Point, 0, len(procs))
	for _, p := range procs {
		statusCode := 0
		if p.IsOnline() {
			statusCode = 1
		}
		points = append(points, metrics.Point{
			Measurement: metrics.MeasurementBotMonitor,
			Tags:        map[string]string{"host": s.host, "bot": p.Name},
			Fields: map[string]interface{}{
				"status_code": statusCode,
				"memory":      p.MemoryBytes,
				"cpu":         p.CPUPercent,
				"restarts":    p.RestartCount,
				"uptime":      p.Uptime.Milliseconds(),
			},
			Time: now,
		})
	}
	metrics.Publish(ctx, s.sink, s.logger, points...)
}
