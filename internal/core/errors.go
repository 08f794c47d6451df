package core

import "errors"

var (
	ErrEmptyName         = errors.New("task name is empty")
	ErrNilAction         = errors.New("task action is nil")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTaskConfig = errors.New("invalid task configuration")
	ErrUnknownWeekday    = errors.New("unknown weekday")
)

var (
	ErrTaskTimeout        = errors.New("task timed out")
	ErrTaskPanicked       = errors.New("task panicked")
	ErrTaskAlreadyQueued  = errors.New("task is already queued")
	ErrTaskRunning        = errors.New("task is already running")
	ErrDependenciesUnmet  = errors.New("task dependencies not satisfied")
	ErrTaskDisabled       = errors.New("task is disabled")
	ErrWorkerRunning      = errors.New("worker is already running")
	ErrWorkerNotRunning   = errors.New("worker is not running")
	ErrWorkerLoopPanicked = errors.New("worker loop panicked")
)
