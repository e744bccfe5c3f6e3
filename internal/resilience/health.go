package resilience

import (
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health of a daemon loop.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// unhealthyAfter is the number of consecutive failed cycles that marks a loop
// unhealthy rather than degraded.
const unhealthyAfter = 3

// CycleHealth tracks the outcome of a loop's cycles.
type CycleHealth struct {
	mu sync.RWMutex

	name        string
	startTime   time.Time
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
	consecutive int
	total       int64
	failed      int64
	panics      int64
}

// NewCycleHealth creates a tracker for the named loop.
func NewCycleHealth(name string) *CycleHealth {
	return &CycleHealth{name: name, startTime: time.Now()}
}

// RecordSuccess notes a completed cycle.
func (h *CycleHealth) RecordSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.consecutive = 0
	h.lastSuccess = at
}

// RecordFailure notes a failed cycle.
func (h *CycleHealth) RecordFailure(at time.Time, err error, panicked bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.failed++
	h.consecutive++
	h.lastFailure = at
	if err != nil {
		h.lastError = err.Error()
	}
	if panicked {
		h.panics++
	}
}

// ConsecutiveFailures returns the current failure streak.
func (h *CycleHealth) ConsecutiveFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutive
}

// CycleStatus is a point-in-time view of a loop.
type CycleStatus struct {
	Name                string       `json:"name"`
	Status              HealthStatus `json:"status"`
	Uptime              string       `json:"uptime"`
	LastSuccess         *time.Time   `json:"last_success,omitempty"`
	LastFailure         *time.Time   `json:"last_failure,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalCycles         int64        `json:"total_cycles"`
	FailedCycles        int64        `json:"failed_cycles"`
	PanicRecoveries     int64        `json:"panic_recoveries"`
}

// Snapshot returns the current status.
func (h *CycleHealth) Snapshot() CycleStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := CycleStatus{
		Name:                h.name,
		Status:              h.statusLocked(),
		Uptime:              time.Since(h.startTime).Round(time.Second).String(),
		LastError:           h.lastError,
		ConsecutiveFailures: h.consecutive,
		TotalCycles:         h.total,
		FailedCycles:        h.failed,
		PanicRecoveries:     h.panics,
	}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		s.LastSuccess = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		s.LastFailure = &t
	}
	return s
}

func (h *CycleHealth) statusLocked() HealthStatus {
	switch {
	case h.total == 0:
		return HealthStatusUnknown
	case h.consecutive == 0:
		return HealthStatusHealthy
	case h.consecutive < unhealthyAfter:
		return HealthStatusDegraded
	default:
		return HealthStatusUnhealthy
	}
}

// SystemHealth is the process-level view served by the status API.
type SystemHealth struct {
	Status        HealthStatus  `json:"status"`
	Loops         []CycleStatus `json:"loops"`
	Goroutines    int           `json:"goroutines"`
	MemoryAllocMB uint64        `json:"memory_alloc_mb"`
	MemorySysMB   uint64        `json:"memory_sys_mb"`
	NumGC         uint32        `json:"num_gc"`
}

// Overall folds loop statuses into one: any unhealthy loop makes the process
// unhealthy, any degraded loop degrades it.
func Overall(loops []CycleStatus) HealthStatus {
	if len(loops) == 0 {
		return HealthStatusUnknown
	}
	out := HealthStatusHealthy
	known := false
	for _, l := range loops {
		switch l.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			out = HealthStatusDegraded
			known = true
		case HealthStatusHealthy:
			known = true
		}
	}
	if !known {
		return HealthStatusUnknown
	}
	return out
}

func systemHealth(loops []CycleStatus) SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemHealth{
		Status:        Overall(loops),
		Loops:         loops,
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: mem.Alloc / 1024 / 1024,
		MemorySysMB:   mem.Sys / 1024 / 1024,
		NumGC:         mem.NumGC,
	}
}
