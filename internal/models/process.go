package models

import "time"

// RuntimeStatus is the process manager's view of a bot process.
type RuntimeStatus string

const (
	RuntimeOnline  RuntimeStatus = "online"
	RuntimeStopped RuntimeStatus = "stopped"
	RuntimeErrored RuntimeStatus = "errored"
	RuntimeMissing RuntimeStatus = "missing"
)

// ProcessState is a single process as listed by the process manager.
// It is sourced fresh every reconciliation cycle and never persisted.
type ProcessState struct {
	Name         string
	Status       RuntimeStatus
	MemoryBytes  int64
	CPUPercent   float64
	RestartCount int
	Uptime       time.Duration
}

// IsOnline reports whether the process is running.
func (p ProcessState) IsOnline() bool {
	return p.Status == RuntimeOnline
}
