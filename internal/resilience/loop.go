// Package resilience keeps the fleet's long-running daemons alive: every cycle
// runs under a timeout with panic recovery, failures back off exponentially and
// a failed cycle never ends the loop.
package resilience

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/logging"
)

// Cycle is one unit of daemon work.
type Cycle func(ctx context.Context) error

// LoopConfig configures a Loop.
type LoopConfig struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single cycle. Zero means no bound.
	Timeout time.Duration
	// ErrorBackoff is the first wait after a failed cycle; later failures
	// double it up to MaxBackoff.
	ErrorBackoff time.Duration
	MaxBackoff   time.Duration
	// NextInterval, when set, overrides Interval after a successful cycle.
	// A zero return falls back to Interval.
	NextInterval func() time.Duration
	// Wake ends a wait early, for example when the fleet config changes.
	Wake   <-chan struct{}
	Health *CycleHealth
	Logger zerolog.Logger
}

// Loop runs a Cycle until its context ends.
type Loop struct {
	cfg     LoopConfig
	cycle   Cycle
	backoff *backoff.ExponentialBackOff
	logger  zerolog.Logger
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// NewLoop creates a loop around fn.
func NewLoop(cfg LoopConfig, fn Cycle) *Loop {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	if cfg.MaxBackoff < cfg.ErrorBackoff {
		cfg.MaxBackoff = 10 * cfg.ErrorBackoff
	}
	if cfg.Health == nil {
		cfg.Health = NewCycleHealth(cfg.Name)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ErrorBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	return &Loop{
		cfg:     cfg,
		cycle:   fn,
		backoff: b,
		logger:  logging.WithComponent(cfg.Logger, cfg.Name),
		now:     time.Now,
		after:   time.After,
	}
}

// Health returns the loop's tracker.
func (l *Loop) Health() *CycleHealth {
	return l.cfg.Health
}

// Run executes cycles until ctx is cancelled. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Dur("interval", l.cfg.Interval).Msg("loop started")
	for cycle := uint64(1); ; cycle++ {
		wait, err := l.Step(ctx)
		if ctx.Err() != nil {
			l.logger.Info().Msg("loop stopped")
			return nil
		}

		if err != nil {
			cycleLogger := logging.WithCycle(l.logger, cycle)
			cycleLogger.Error().Err(err).
				Int("consecutive_failures", l.cfg.Health.ConsecutiveFailures()).
				Dur("retry_in", wait).
				Msg("cycle failed")
		}

		if !l.sleep(ctx, wait) {
			l.logger.Info().Msg("loop stopped")
			return nil
		}
	}
}

// Step runs one cycle and returns the wait before the next one.
func (l *Loop) Step(ctx context.Context) (time.Duration, error) {
	err := l.RunOnce(ctx)
	return l.nextWait(err), err
}

// RunOnce executes a single cycle under the configured timeout. A panic in the
// cycle is recovered and returned as an error.
func (l *Loop) RunOnce(ctx context.Context) (err error) {
	cctx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic in %s cycle: %v", l.cfg.Name, r)
			l.logger.Error().Str("stack", string(debug.Stack())).Msg("panic recovered")
		}
		if err != nil {
			if ferrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%w: %s cycle exceeded %s: %w", ferrors.ErrTimeout, l.cfg.Name, l.cfg.Timeout, err)
			}
			l.cfg.Health.RecordFailure(l.now(), err, panicked)
			return
		}
		l.cfg.Health.RecordSuccess(l.now())
	}()

	return l.cycle(cctx)
}

func (l *Loop) nextWait(err error) time.Duration {
	if err != nil {
		return l.backoff.NextBackOff()
	}
	l.backoff.Reset()
	if l.cfg.NextInterval != nil {
		if d := l.cfg.NextInterval(); d > 0 {
			return d
		}
	}
	return l.cfg.Interval
}

// sleep waits for d, a wake signal or cancellation. It reports false when ctx
// ended.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.after(d):
		return true
	case _, ok := <-l.cfg.Wake:
		if !ok {
			// A closed wake channel would spin; stop listening to it.
			l.cfg.Wake = nil
		} else {
			l.logger.Debug().Msg("woken early")
		}
		return true
	}
}
