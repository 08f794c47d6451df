package core

import (
	"context"
	"time"
)

const (
	DefaultRetryLimit     = 3
	DefaultTimeoutSeconds = 300
	DefaultRetryDelay     = 5 * time.Second
	DefaultTickInterval   = time.Second

	// HistoryLimit caps the per-task run history; older entries are evicted first.
	HistoryLimit = 100

	// Cooldown is the minimum time between two scheduled runs of the same task.
	Cooldown = 24 * time.Hour

	PriorityManual    = 0
	PriorityScheduled = 1
)

// Action is the work a task performs. It must honour ctx cancellation so that
// a timed-out attempt releases its resources.
type Action func(ctx context.Context) error

// Definition describes a task at registration time. The Action is kept in the
// registry's action table and is never serialized.
type Definition struct {
	Name           string
	Description    string
	Action         Action
	Dependencies   []string
	Schedule       Schedule
	RetryLimit     int
	// TimeoutSeconds of 0 means DefaultTimeoutSeconds; a negative value disables the deadline.
	TimeoutSeconds int
	Disabled       bool
}

// TaskState is the serializable schedule, policy and statistics record of a task.
type TaskState struct {
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Dependencies        []string       `json:"dependencies"`
	Schedule            Schedule       `json:"schedule"`
	RetryLimit          int            `json:"retry_limit"`
	TimeoutSeconds      int            `json:"timeout_seconds"`
	Enabled             bool           `json:"enabled"`
	LastRunAt           *time.Time     `json:"last_run_at"`
	NextRunAt           *time.Time     `json:"next_run_at"`
	SuccessCount        int            `json:"success_count"`
	FailureCount        int            `json:"failure_count"`
	TotalRuntimeSeconds float64        `json:"total_runtime_seconds"`
	History             []HistoryEntry `json:"history"`
}

// HistoryEntry records the outcome of one execution sequence (all attempts).
type HistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RuntimeSeconds float64   `json:"runtime_seconds"`
	Success        bool      `json:"success"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

// TaskStats is a point-in-time view of a task with its computed success rate.
type TaskStats struct {
	TaskState
	SuccessRate float64 `json:"success_rate"`
}

// QueueEntry is a pending request to run a task. Lower priority runs first;
// Seq breaks ties in insertion order.
type QueueEntry struct {
	Priority int    `json:"priority"`
	Task     string `json:"task"`
	Seq      uint64 `json:"seq"`
}

// WorkerState describes the lifecycle state of the polling loop.
type WorkerState string

const (
	StateStopped WorkerState = "stopped"
	StateRunning WorkerState = "running"
	StatePaused  WorkerState = "paused"
)

// Status is a consistent snapshot of the worker.
type Status struct {
	State        WorkerState `json:"state"`
	Running      bool        `json:"running"`
	Paused       bool        `json:"paused"`
	QueueLength  int         `json:"queue_length"`
	RunningTasks []string    `json:"running_tasks"`
}

// RunResult is the outcome of one execution sequence.
type RunResult struct {
	Task     string
	Success  bool
	Attempts int
	Runtime  time.Duration
	Err      error
}

// RunRecord is the audit row handed to a RunRecorder after each execution sequence.
type RunRecord struct {
	ID        string
	Task      string
	Success   bool
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
}

// RunRecorder persists run audit records.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// SuccessRate returns success/(success+failure)*100, or 0 when nothing has run.
func SuccessRate(success, failure int) float64 {
	total := success + failure
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total) * 100
}

func (t TaskState) clone() TaskState {
	out := t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.History = append([]HistoryEntry(nil), t.History...)
	if t.LastRunAt != nil {
		v := *t.LastRunAt
		out.LastRunAt = &v
	}
	if t.NextRunAt != nil {
		v := *t.NextRunAt
		out.NextRunAt = &v
	}
	return out
}
