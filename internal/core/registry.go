package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Registry holds the action table and the mutable task states, joined by name.
// Only the states are persisted to the task configuration file.
type Registry struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	order    []string
	actions  map[string]Action
	states   map[string]*TaskState
	location *time.Location

	// saveMu orders concurrent saves so the newest snapshot lands last.
	saveMu sync.Mutex
}

// NewRegistry creates an empty registry persisted at path. An empty path disables persistence.
func NewRegistry(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path:    path,
		logger:  logger,
		actions:  make(map[string]Action),
		states:   make(map[string]*TaskState),
		location: time.Local,
	}
}

// SetLocation sets the zone next_run_at is computed in. The worker passes its own.
func (r *Registry) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.location = loc
}

// Register inserts or replaces the task by name.
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return ErrEmptyName
	}
	if def.Action == nil {
		return fmt.Errorf("%w: %s", ErrNilAction, name)
	}
	retry := def.RetryLimit
	if retry <= 0 {
		retry = DefaultRetryLimit
	}
	timeout := def.TimeoutSeconds
	switch {
	case timeout == 0:
		timeout = DefaultTimeoutSeconds
	case timeout < 0:
		timeout = 0
	}
	schedule := def.Schedule
	if schedule.Empty() {
		schedule = DefaultSchedule()
	}
	state := &TaskState{
		Name:           name,
		Description:    def.Description,
		Dependencies:   append([]string(nil), def.Dependencies...),
		Schedule:       schedule,
		RetryLimit:     retry,
		TimeoutSeconds: timeout,
		Enabled:        !def.Disabled,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[name]; !exists {
		r.order = append(r.order, name)
	}
	r.actions[name] = def.Action
	r.states[name] = state
	return nil
}

// Get returns a copy of the named task's state.
func (r *Registry) Get(name string) (TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[name]
	if !ok {
		return TaskState{}, false
	}
	return st.clone(), true
}

// Names lists task names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Stats returns the task state with its success rate.
func (r *Registry) Stats(name string) (TaskStats, bool) {
	st, ok := r.Get(name)
	if !ok {
		return TaskStats{}, false
	}
	return TaskStats{TaskState: st, SuccessRate: SuccessRate(st.SuccessCount, st.FailureCount)}, true
}

func (r *Registry) action(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// SetSchedule replaces the weekday schedule and persists the registry.
func (r *Registry) SetSchedule(name string, schedule Schedule) error {
	return r.mutate(name, func(st *TaskState) error {
		st.Schedule = schedule
		st.NextRunAt = NextEligible(schedule, st.LastRunAt, time.Now().In(r.location))
		return nil
	})
}

// SetRetryPolicy sets the attempt limit and per-attempt timeout (0 disables it) and persists the registry.
func (r *Registry) SetRetryPolicy(name string, retryLimit, timeoutSeconds int) error {
	if retryLimit < 1 {
		return fmt.Errorf("%w: retry limit must be at least 1", ErrInvalidTaskConfig)
	}
	if timeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout must be non-negative", ErrInvalidTaskConfig)
	}
	return r.mutate(name, func(st *TaskState) error {
		st.RetryLimit = retryLimit
		st.TimeoutSeconds = timeoutSeconds
		return nil
	})
}

// SetDependencies replaces the dependency list and persists the registry.
func (r *Registry) SetDependencies(name string, deps []string) error {
	r.mu.RLock()
	for _, d := range deps {
		if d == name {
			r.mu.RUnlock()
			return fmt.Errorf("%w: %s cannot depend on itself", ErrInvalidTaskConfig, name)
		}
		if _, ok := r.states[d]; !ok {
			r.mu.RUnlock()
			return fmt.Errorf("%w: unknown dependency %q", ErrInvalidTaskConfig, d)
		}
	}
	r.mu.RUnlock()
	return r.mutate(name, func(st *TaskState) error {
		st.Dependencies = append([]string(nil), deps...)
		return nil
	})
}

// SetEnabled toggles the task and persists the registry.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	return r.mutate(name, func(st *TaskState) error {
		st.Enabled = enabled
		return nil
	})
}

func (r *Registry) mutate(name string, fn func(st *TaskState) error) error {
	r.mu.Lock()
	st, ok := r.states[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if err := fn(st); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if err := r.Save(); err != nil {
		r.logger.Error("save task configs", "err", err)
	}
	return nil
}

// record applies the outcome of an execution sequence to the task's statistics.
func (r *Registry) record(name string, entry HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[name]
	if !ok {
		return
	}
	if entry.Success {
		st.SuccessCount++
	} else {
		st.FailureCount++
	}
	ts := entry.Timestamp
	st.LastRunAt = &ts
	st.TotalRuntimeSeconds += entry.RuntimeSeconds
	st.History = append(st.History, entry)
	if n := len(st.History); n > HistoryLimit {
		st.History = append([]HistoryEntry(nil), st.History[n-HistoryLimit:]...)
	}
	st.NextRunAt = NextEligible(st.Schedule, st.LastRunAt, ts.In(r.location))
}

// due lists enabled tasks eligible on now's weekday whose cooldown has elapsed.
func (r *Registry) due(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.order {
		st := r.states[name]
		if !st.Enabled || !st.Schedule.On(now.Weekday()) {
			continue
		}
		if st.LastRunAt == nil || now.Sub(*st.LastRunAt) >= Cooldown {
			names = append(names, name)
		}
	}
	return names
}

// dependenciesMet reports whether every dependency has completed at least once
// and is not currently running.
func (r *Registry) dependenciesMet(name string, running func(string) bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[name]
	if !ok {
		return false
	}
	for _, dep := range st.Dependencies {
		depState, ok := r.states[dep]
		if !ok || depState.LastRunAt == nil {
			return false
		}
		if running(dep) {
			return false
		}
	}
	return true
}

// Load merges persisted states onto registered tasks. Entries for tasks that are
// not registered are ignored since their actions cannot be restored. A missing
// file is not an error.
func (r *Registry) Load() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read task configs: %w", err)
	}
	var stored map[string]TaskState
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode task configs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, st := range stored {
		if _, ok := r.states[name]; !ok {
			r.logger.Warn("ignoring stored config for unregistered task", "task", name)
			continue
		}
		st.Name = name
		if st.RetryLimit < 1 {
			st.RetryLimit = DefaultRetryLimit
		}
		if st.TimeoutSeconds < 0 {
			st.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if n := len(st.History); n > HistoryLimit {
			st.History = st.History[n-HistoryLimit:]
		}
		loaded := st.clone()
		r.states[name] = &loaded
	}
	r.logger.Info("task configs loaded", "path", r.path, "count", len(stored))
	return nil
}

// Save writes every task state to the configuration file atomically.
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	out := make(map[string]TaskState, len(r.states))
	for name, st := range r.states {
		out[name] = st.clone()
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task configs: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure task config dir: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task configs: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace task configs: %w", err)
	}
	r.logger.Debug("task configs saved", "path", r.path)
	return nil
}
