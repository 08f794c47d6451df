package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// WorkerOptions configures a Worker. Zero values select the defaults.
type WorkerOptions struct {
	TickInterval time.Duration
	// RetryDelay is the fixed pause between failed attempts. Negative selects the default.
	RetryDelay time.Duration
	Location   *time.Location
	Recorder   RunRecorder
	Events     EventSink
	// Closers are released every time the loop stops. They must tolerate reuse
	// after Close since the worker may be started again.
	Closers []io.Closer
}

// Worker owns the task queue and the single polling loop that executes tasks.
type Worker struct {
	registry *Registry
	exec     *Executor
	events   EventSink
	logger   *slog.Logger
	tick     time.Duration
	location *time.Location
	now      func() time.Time

	mu       sync.Mutex
	state    WorkerState
	stopping bool
	queue    *taskQueue
	running  map[string]struct{}
	closers  []io.Closer
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWorker creates a stopped worker over registry.
func NewWorker(registry *Registry, logger *slog.Logger, opts WorkerOptions) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	registry.SetLocation(opts.Location)
	events := opts.Events
	if events == nil {
		events = nopSink{}
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Worker{
		registry: registry,
		exec:     NewExecutor(registry, events, opts.Recorder, logger, retryDelay),
		events:   events,
		logger:   logger,
		tick:     opts.TickInterval,
		location: opts.Location,
		now:      time.Now,
		state:    StateStopped,
		queue:    newTaskQueue(),
		running:  make(map[string]struct{}),
		closers:  append([]io.Closer(nil), opts.Closers...),
	}
}

// Registry exposes the task registry for configuration changes.
func (w *Worker) Registry() *Registry {
	return w.registry
}

// AddCloser registers a resource released when the loop stops.
func (w *Worker) AddCloser(c io.Closer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closers = append(w.closers, c)
}

// Start launches the polling loop. Tasks execute on ctx; cancelling it aborts
// the loop without waiting for retries, while Stop lets the current task finish.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return ErrWorkerRunning
	}
	w.state = StateRunning
	w.stopping = false
	stop := make(chan struct{})
	done := make(chan struct{})
	w.stopCh = stop
	w.done = done
	w.mu.Unlock()

	w.logger.Info("worker started", "tick", w.tick)
	w.publishStatus("Worker started")
	go w.loop(ctx, stop, done)
	return nil
}

// Stop asks the loop to exit and waits until it has, or until ctx expires.
// The task in flight runs to completion first. Stopping a stopped worker is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return nil
	}
	if !w.stopping {
		w.stopping = true
		close(w.stopCh)
	}
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker stop: %w", ctx.Err())
	}
}

// Pause suspends both the enqueue and drain phases; the loop keeps ticking.
func (w *Worker) Pause() error {
	if err := w.setState(StatePaused); err != nil {
		return err
	}
	w.logger.Info("worker paused")
	w.publishStatus("Worker paused")
	return nil
}

func (w *Worker) Resume() error {
	if err := w.setState(StateRunning); err != nil {
		return err
	}
	w.logger.Info("worker resumed")
	w.publishStatus("Worker resumed")
	return nil
}

func (w *Worker) setState(s WorkerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopped || w.stopping {
		return ErrWorkerNotRunning
	}
	w.state = s
	return nil
}

// Done is closed when the current loop exits. It is nil before the first Start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer w.finish(done)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		if !w.safeTick(ctx, stop) {
			return
		}
		select {
		case <-ctx.Done():
			w.logger.Info("worker context cancelled", "err", ctx.Err())
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// safeTick runs one tick and reports whether the loop should continue. A panic
// escaping the tick halts the loop.
func (w *Worker) safeTick(ctx context.Context, stop <-chan struct{}) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerLoopPanicked, r)
			w.logger.Error("worker loop failed", "err", err)
			w.events.Publish(Event{Type: EventError, Time: w.now(), Message: err.Error()})
			ok = false
		}
	}()
	if w.paused() {
		return true
	}
	w.enqueueDue()
	w.drain(ctx, stop)
	return true
}

func (w *Worker) finish(done chan struct{}) {
	if err := w.registry.Save(); err != nil {
		w.logger.Error("save task configs on stop", "err", err)
	}
	w.mu.Lock()
	closers := append([]io.Closer(nil), w.closers...)
	w.mu.Unlock()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			w.logger.Warn("release resource", "err", err)
		}
	}

	w.mu.Lock()
	w.state = StateStopped
	w.stopping = false
	w.mu.Unlock()
	close(done)

	w.logger.Info("worker stopped")
	w.publishStatus("Worker stopped")
}

// enqueueDue pushes every due task that is neither queued nor running.
func (w *Worker) enqueueDue() {
	now := w.now().In(w.location)
	due := w.registry.due(now)
	if len(due) == 0 {
		return
	}

	w.mu.Lock()
	added := 0
	for _, name := range due {
		if _, busy := w.running[name]; busy {
			continue
		}
		if w.queue.push(PriorityScheduled, name) {
			added++
		}
	}
	snapshot := w.queue.snapshot()
	w.mu.Unlock()

	if added > 0 {
		w.logger.Debug("tasks enqueued", "count", added)
		w.events.Publish(Event{Type: EventQueueUpdated, Time: now, Queue: snapshot})
	}
}

// drain processes at most the entries queued at the start of the pass. Entries
// blocked on dependencies are pushed back to the tail only after the pass, so
// they are reconsidered on a later tick and never shadow the entries behind them.
func (w *Worker) drain(ctx context.Context, stop <-chan struct{}) {
	w.mu.Lock()
	total := w.queue.len()
	w.mu.Unlock()

	var blocked []QueueEntry
	defer func() {
		if len(blocked) == 0 {
			return
		}
		w.mu.Lock()
		for _, e := range blocked {
			w.queue.push(e.Priority, e.Task)
		}
		snapshot := w.queue.snapshot()
		w.mu.Unlock()
		w.events.Publish(Event{Type: EventQueueUpdated, Time: w.now(), Queue: snapshot})
	}()

	for i := 0; i < total; i++ {
		if w.halted(stop) {
			return
		}
		w.mu.Lock()
		entry, ok := w.queue.pop()
		w.mu.Unlock()
		if !ok {
			return
		}
		if w.process(ctx, entry, i+1, total) {
			blocked = append(blocked, entry)
		}
	}
}

// process runs entry if it is runnable. It reports whether the entry is
// waiting on dependencies and must be requeued.
func (w *Worker) process(ctx context.Context, entry QueueEntry, current, total int) (blocked bool) {
	name := entry.Task
	state, ok := w.registry.Get(name)
	if !ok || !state.Enabled {
		w.logger.Debug("dropping queue entry", "task", name, "known", ok)
		return false
	}
	if w.isRunning(name) {
		w.logger.Debug("dropping queue entry for running task", "task", name)
		return false
	}
	if !w.registry.dependenciesMet(name, w.isRunning) {
		w.logger.Debug("dependencies not met, requeued", "task", name, "dependencies", state.Dependencies)
		return true
	}

	w.setRunning(name, true)
	defer w.setRunning(name, false)
	w.events.Publish(Event{Type: EventProgress, Time: w.now(), Task: name, Current: current, Total: total})
	w.exec.Execute(ctx, name)
	w.events.Publish(Event{Type: EventQueueUpdated, Time: w.now(), Queue: w.QueueSnapshot()})
	return false
}

func (w *Worker) halted(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
	}
	return w.paused()
}

func (w *Worker) paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == StatePaused
}

func (w *Worker) isRunning(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[name]
	return ok
}

func (w *Worker) setRunning(name string, running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if running {
		w.running[name] = struct{}{}
	} else {
		delete(w.running, name)
	}
}

// Enqueue requests a run of name at the given priority (lower runs first).
func (w *Worker) Enqueue(name string, priority int) error {
	if _, ok := w.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	w.mu.Lock()
	if !w.queue.push(priority, name) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskAlreadyQueued, name)
	}
	snapshot := w.queue.snapshot()
	w.mu.Unlock()

	w.logger.Info("task enqueued", "task", name, "priority", priority)
	w.events.Publish(Event{Type: EventQueueUpdated, Time: w.now(), Queue: snapshot})
	return nil
}

// RunNow executes name synchronously while the loop is stopped. Precondition
// failures are returned as the error; the task's own outcome is in the result.
func (w *Worker) RunNow(ctx context.Context, name string) (RunResult, error) {
	state, ok := w.registry.Get(name)
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if !state.Enabled {
		return RunResult{}, fmt.Errorf("%w: %s", ErrTaskDisabled, name)
	}

	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return RunResult{}, ErrWorkerRunning
	}
	if _, busy := w.running[name]; busy {
		w.mu.Unlock()
		return RunResult{}, fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	w.mu.Unlock()

	if !w.registry.dependenciesMet(name, w.isRunning) {
		return RunResult{}, fmt.Errorf("%w: %s needs %v", ErrDependenciesUnmet, name, state.Dependencies)
	}

	w.setRunning(name, true)
	defer w.setRunning(name, false)
	result := w.exec.Execute(ctx, name)
	if err := w.registry.Save(); err != nil {
		w.logger.Error("save task configs", "err", err)
	}
	return result, nil
}

// Status returns a consistent snapshot of the loop state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	running := make([]string, 0, len(w.running))
	for name := range w.running {
		running = append(running, name)
	}
	sort.Strings(running)
	return Status{
		State:        w.state,
		Running:      w.state != StateStopped,
		Paused:       w.state == StatePaused,
		QueueLength:  w.queue.len(),
		RunningTasks: running,
	}
}

// TaskStats returns counters, success rate and history for name.
func (w *Worker) TaskStats(name string) (TaskStats, error) {
	stats, ok := w.registry.Stats(name)
	if !ok {
		return TaskStats{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return stats, nil
}

// Tasks returns the stats of every task in registration order.
func (w *Worker) Tasks() []TaskStats {
	names := w.registry.Names()
	out := make([]TaskStats, 0, len(names))
	for _, name := range names {
		if stats, ok := w.registry.Stats(name); ok {
			out = append(out, stats)
		}
	}
	return out
}

// QueueSnapshot lists queued entries in the order they would run.
func (w *Worker) QueueSnapshot() []QueueEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queue.snapshot()
}

func (w *Worker) publishStatus(message string) {
	st := w.Status()
	w.events.Publish(Event{
		Type:    EventStatusChanged,
		Time:    w.now(),
		Message: message,
		Running: st.Running,
		Paused:  st.Paused,
	})
}
