package domain

import "time"

// RunStatus enumerates the outcome of one pipeline execution.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Run is the audit row for one pipeline execution. Exactly one row exists
// per execution; it is finalized once and immutable afterwards.
type Run struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	DurationSeconds int
	TotalProcessed  int
	TotalNew        int
	TotalDuplicate  int
	Status          RunStatus
	Error           string
}
