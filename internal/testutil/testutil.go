// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sync"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/models"
	"fleet-trader/internal/notify"
)

// SpyStore is an in-memory fleet.Store that counts calls.
type SpyStore struct {
	mu      sync.Mutex
	cfg     *fleet.FleetConfig
	LoadErr error
	SaveErr error
	Loads   int
	Saves   int
}

// NewSpyStore creates a store holding cfg. A nil cfg makes Load return
// ErrConfigNotFound until Save is called.
func NewSpyStore(cfg *fleet.FleetConfig) *SpyStore {
	return &SpyStore{cfg: cfg.Clone()}
}

func (s *SpyStore) Load(ctx context.Context) (*fleet.FleetConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Loads++
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	if s.cfg == nil {
		return nil, ferrors.ErrConfigNotFound
	}
	return s.cfg.Clone(), nil
}

func (s *SpyStore) Save(ctx context.Context, cfg *fleet.FleetConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.cfg = cfg.Clone()
	return nil
}

// Current returns a copy of the stored document.
func (s *SpyStore) Current() *fleet.FleetConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// SaveCount returns the number of Save calls.
func (s *SpyStore) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Saves
}

// StaticTemplate serves a fixed template.
type StaticTemplate struct {
	Config *fleet.FleetConfig
	Err    error
}

func (t StaticTemplate) Template() (*fleet.FleetConfig, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Config.Clone(), nil
}

// RecordingSink keeps every point written.
type RecordingSink struct {
	mu     sync.Mutex
	points []metrics.Point
	Err    error
}

func (r *RecordingSink) Write(_ context.Context, points ...metrics.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, points...)
	return r.Err
}

func (r *RecordingSink) Close() error { return nil }

// Points returns the points written so far, optionally filtered by measurement.
func (r *RecordingSink) Points(measurement string) []metrics.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []metrics.Point
	for _, p := range r.points {
		if measurement == "" || p.Measurement == measurement {
			out = append(out, p)
		}
	}
	return out
}

// RecordingNotifier keeps every notification sent.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	Err  error
}

func (r *RecordingNotifier) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

// Sent returns the notifications sent so far.
func (r *RecordingNotifier) Sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// FleetConfig builds a config from name/status/allocation triples.
func FleetConfig(bots map[fleet.BotName]fleet.BotDefinition, regime fleet.RegimeTag, estop bool) *fleet.FleetConfig {
	cfg := &fleet.FleetConfig{
		Bots: make(map[fleet.BotName]fleet.BotDefinition, len(bots)),
		GlobalSettings: fleet.GlobalSettings{
			MarketCondition: regime,
			EmergencyStop:   estop,
		},
	}
	for name, def := range bots {
		if def.Script == "" {
			def.Script = "fleet"
			def.Args = []string{"worker", string(name)}
		}
		cfg.Bots[name] = def
	}
	return cfg
}

// FakeProcesses is an in-memory process manager. Start, Restart and Stop
// update the listed state so consecutive cycles observe their effect.
type FakeProcesses struct {
	mu      sync.Mutex
	procs   []models.ProcessState
	calls   []string
	ListErr error
	// Fail makes the named process's commands fail.
	Fail map[string]error
}

// NewFakeProcesses creates a manager listing procs.
func NewFakeProcesses(procs ...models.ProcessState) *FakeProcesses {
	return &FakeProcesses{procs: append([]models.ProcessState(nil), procs...)}
}

func (f *FakeProcesses) List(context.Context) ([]models.ProcessState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]models.ProcessState(nil), f.procs...), nil
}

func (f *FakeProcesses) Start(_ context.Context, name, script string, args []string) error {
	return f.apply("start "+name, name, models.RuntimeOnline, true)
}

func (f *FakeProcesses) Restart(_ context.Context, name string) error {
	return f.apply("restart "+name, name, models.RuntimeOnline, false)
}

func (f *FakeProcesses) Stop(_ context.Context, name string) error {
	return f.apply("stop "+name, name, models.RuntimeStopped, false)
}

func (f *FakeProcesses) apply(call, name string, status models.RuntimeStatus, create bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if err := f.Fail[name]; err != nil {
		return err
	}
	for i := range f.procs {
		if f.procs[i].Name == name {
			f.procs[i].Status = status
			return nil
		}
	}
	if create {
		f.procs = append(f.procs, models.ProcessState{Name: name, Status: status})
	}
	return nil
}

// Calls returns the commands issued, e.g. "start trend_bot".
func (f *FakeProcesses) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
