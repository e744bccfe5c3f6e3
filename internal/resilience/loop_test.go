package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "fleet-trader/internal/errors"
)

// instant records requested waits and fires immediately.
func instant(waits *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*waits = append(*waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	l := NewLoop(LoopConfig{Name: "test", Logger: zerolog.Nop()}, func(context.Context) error { return nil })
	require.NoError(t, l.RunOnce(context.Background()))
	assert.Equal(t, HealthStatusHealthy, l.Health().Snapshot().Status)

	boom := errors.New("broker down")
	l = NewLoop(LoopConfig{Name: "test", Logger: zerolog.Nop()}, func(context.Context) error { return boom })
	assert.ErrorIs(t, l.RunOnce(context.Background()), boom)
	snap := l.Health().Snapshot()
	assert.Equal(t, HealthStatusDegraded, snap.Status)
	assert.Equal(t, "broker down", snap.LastError)
	assert.NotNil(t, snap.LastFailure)
	assert.Nil(t, snap.LastSuccess)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	l := NewLoop(LoopConfig{Name: "supervisor", Logger: zerolog.Nop()}, func(context.Context) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})

	err := l.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in supervisor cycle")
	assert.Equal(t, int64(1), l.Health().Snapshot().PanicRecoveries)
}

func TestRunOnceTimeout(t *testing.T) {
	l := NewLoop(LoopConfig{Name: "analyst", Timeout: 10 * time.Millisecond, Logger: zerolog.Nop()},
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

	err := l.RunOnce(context.Background())
	assert.ErrorIs(t, err, ferrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunBacksOffAndResets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	l := NewLoop(LoopConfig{
		Name:         "accountant",
		Interval:     10 * time.Second,
		ErrorBackoff: time.Second,
		MaxBackoff:   time.Minute,
		Logger:       zerolog.Nop(),
	}, func(context.Context) error {
		calls++
		switch {
		case calls <= 3:
			return errors.New("influx unreachable")
		case calls == 5:
			cancel()
		}
		return nil
	})
	var waits []time.Duration
	l.after = instant(&waits)

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 10 * time.Second}, waits)
	assert.Equal(t, 0, l.Health().ConsecutiveFailures())
}

func TestRunUsesNextInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	l := NewLoop(LoopConfig{
		Name:         "supervisor",
		Interval:     time.Minute,
		NextInterval: func() time.Duration { return 10 * time.Second },
		Logger:       zerolog.Nop(),
	}, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	})
	var waits []time.Duration
	l.after = instant(&waits)

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, []time.Duration{10 * time.Second}, waits)
}

func TestStepReturnsNextWait(t *testing.T) {
	fail := true
	l := NewLoop(LoopConfig{
		Name:         "analyst",
		Interval:     time.Hour,
		ErrorBackoff: time.Minute,
		Logger:       zerolog.Nop(),
	}, func(context.Context) error {
		if fail {
			return errors.New("bars unavailable")
		}
		return nil
	})

	wait, err := l.Step(context.Background())
	assert.Error(t, err)
	assert.Equal(t, time.Minute, wait)

	fail = false
	wait, err = l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, wait)
}

func TestRunWakesEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 1)
	calls := 0
	l := NewLoop(LoopConfig{
		Name:     "supervisor",
		Interval: time.Hour,
		Wake:     wake,
		Logger:   zerolog.Nop(),
	}, func(context.Context) error {
		calls++
		if calls == 1 {
			wake <- struct{}{}
		} else {
			cancel()
		}
		return nil
	})
	l.after = func(time.Duration) <-chan time.Time { return nil }

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not wake")
	}
	assert.Equal(t, 2, calls)
}

func TestHealthStatuses(t *testing.T) {
	h := NewCycleHealth("scout")
	assert.Equal(t, HealthStatusUnknown, h.Snapshot().Status)

	now := time.Now()
	for i := 0; i < unhealthyAfter; i++ {
		h.RecordFailure(now, errors.New("x"), false)
	}
	assert.Equal(t, HealthStatusUnhealthy, h.Snapshot().Status)

	h.RecordSuccess(now)
	snap := h.Snapshot()
	assert.Equal(t, HealthStatusHealthy, snap.Status)
	assert.Equal(t, int64(unhealthyAfter+1), snap.TotalCycles)
	assert.Equal(t, int64(unhealthyAfter), snap.FailedCycles)
}

func TestOverall(t *testing.T) {
	cases := []struct {
		name  string
		loops []HealthStatus
		want  HealthStatus
	}{
		{"empty", nil, HealthStatusUnknown},
		{"all healthy", []HealthStatus{HealthStatusHealthy, HealthStatusHealthy}, HealthStatusHealthy},
		{"one degraded", []HealthStatus{HealthStatusHealthy, HealthStatusDegraded}, HealthStatusDegraded},
		{"one unhealthy", []HealthStatus{HealthStatusDegraded, HealthStatusUnhealthy}, HealthStatusUnhealthy},
		{"not started", []HealthStatus{HealthStatusUnknown}, HealthStatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loops := make([]CycleStatus, len(tc.loops))
			for i, s := range tc.loops {
				loops[i] = CycleStatus{Status: s}
			}
			assert.Equal(t, tc.want, Overall(loops))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Get("supervisor")
	assert.Same(t, a, r.Get("supervisor"))
	r.Get("analyst").RecordSuccess(time.Now())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "analyst", snap[0].Name)
	assert.Equal(t, "supervisor", snap[1].Name)

	sys := r.System()
	// The supervisor has not run yet, the analyst has.
	assert.Equal(t, HealthStatusHealthy, sys.Status)
	assert.Positive(t, sys.Goroutines)
}
