package resilience

import (
	"sort"
	"sync"
)

// Registry holds the health trackers of every loop in the process.
type Registry struct {
	mu    sync.RWMutex
	loops map[string]*CycleHealth
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loops: make(map[string]*CycleHealth)}
}

// Get returns or creates the tracker for name.
func (r *Registry) Get(name string) *CycleHealth {
	r.mu.RLock()
	if h, ok := r.loops[name]; ok {
		r.mu.RUnlock()
		return h
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if h, ok := r.loops[name]; ok {
		return h
	}
	h := NewCycleHealth(name)
	r.loops[name] = h
	return h
}

// Snapshot returns every loop's status, sorted by name.
func (r *Registry) Snapshot() []CycleStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CycleStatus, 0, len(r.loops))
	for _, h := range r.loops {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// System returns process health including every registered loop.
func (r *Registry) System() SystemHealth {
	return systemHealth(r.Snapshot())
}
