package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor runs one task's action with bounded retries and records the outcome.
type Executor struct {
	registry   *Registry
	events     EventSink
	recorder   RunRecorder
	logger     *slog.Logger
	retryDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. events and recorder may be nil.
func NewExecutor(registry *Registry, events EventSink, recorder RunRecorder, logger *slog.Logger, retryDelay time.Duration) *Executor {
	if events == nil {
		events = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retryDelay < 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Executor{
		registry:   registry,
		events:     events,
		recorder:   recorder,
		logger:     logger,
		retryDelay: retryDelay,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Execute attempts the named task up to its retry limit and records exactly one
// history entry for the whole sequence.
func (e *Executor) Execute(ctx context.Context, name string) RunResult {
	state, ok := e.registry.Get(name)
	if !ok {
		return RunResult{Task: name, Err: fmt.Errorf("%w: %s", ErrTaskNotFound, name)}
	}
	action, ok := e.registry.action(name)
	if !ok {
		return RunResult{Task: name, Err: fmt.Errorf("%w: %s", ErrNilAction, name)}
	}

	e.events.Publish(Event{Type: EventTaskProgress, Time: e.now(), Task: name, Percent: 0, Message: "Starting task"})

	startedAt := e.now()
	var (
		attempts int
		lastErr  error
		success  bool
	)
	limit := state.RetryLimit
	if limit < 1 {
		limit = 1
	}
	timeout := time.Duration(state.TimeoutSeconds) * time.Second

	for attempts < limit {
		attempts++
		lastErr = runAttempt(ctx, action, timeout)
		if lastErr == nil {
			success = true
			break
		}
		e.logger.Warn("task attempt failed", "task", name, "attempt", attempts, "limit", limit, "err", lastErr)
		if attempts >= limit {
			break
		}
		if err := e.sleep(ctx, e.retryDelay); err != nil {
			lastErr = fmt.Errorf("retry aborted: %w", err)
			break
		}
	}

	endedAt := e.now()
	runtime := endedAt.Sub(startedAt)
	entry := HistoryEntry{
		Timestamp:      endedAt,
		RuntimeSeconds: runtime.Seconds(),
		Success:        success,
		Attempts:       attempts,
	}
	if !success && lastErr != nil {
		entry.Error = lastErr.Error()
	}
	e.registry.record(name, entry)

	if e.recorder != nil {
		run := RunRecord{
			ID:        NewID(),
			Task:      name,
			Success:   success,
			Attempts:  attempts,
			StartedAt: startedAt,
			EndedAt:   endedAt,
			Error:     entry.Error,
		}
		// The audit write must not be cut short by a stopping loop.
		if err := e.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			e.logger.Error("record task run", "task", name, "err", err)
		}
	}

	result := RunResult{Task: name, Success: success, Attempts: attempts, Runtime: runtime}
	completed := Event{
		Type:           EventTaskCompleted,
		Time:           endedAt,
		Task:           name,
		Success:        success,
		Attempts:       attempts,
		RuntimeSeconds: runtime.Seconds(),
	}
	if success {
		completed.Message = "Task completed successfully"
		e.logger.Info("task completed", "task", name, "attempts", attempts, "runtime", runtime)
		e.events.Publish(completed)
		return result
	}

	result.Err = lastErr
	completed.Message = "Error: " + lastErr.Error()
	e.logger.Error("task failed", "task", name, "attempts", attempts, "err", lastErr)
	e.events.Publish(completed)
	e.events.Publish(Event{
		Type:     EventError,
		Time:     endedAt,
		Task:     name,
		Attempts: attempts,
		Message:  fmt.Sprintf("Task %s failed after %d attempts", name, attempts),
	})
	return result
}

// runAttempt runs action once. With a positive timeout the executor stops
// waiting at the deadline; an action that ignores its context keeps running in
// the background until it returns.
func runAttempt(ctx context.Context, action Action, timeout time.Duration) error {
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrTaskPanicked, r)
			}
		}()
		done <- action(attemptCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-attemptCtx.Done():
		select {
		case err = <-done:
		default:
			err = attemptCtx.Err()
		}
	}
	if err != nil && timeout > 0 && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
