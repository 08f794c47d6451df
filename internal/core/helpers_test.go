package core

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// wednesday is 2024-01-03 09:00 UTC.
var wednesday = time.Date(2024, time.January, 3, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{calls: make(map[string]int)}
}

func (c *callCounter) action(name string, err error) Action {
	return func(context.Context) error {
		c.mu.Lock()
		c.calls[name]++
		c.mu.Unlock()
		return err
	}
}

func (c *callCounter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "task_configs.json"), discardLogger())
}

// newTestWorker builds a worker pinned to now with instant retries.
func newTestWorker(t *testing.T, reg *Registry, sink EventSink, now time.Time) *Worker {
	t.Helper()
	w := NewWorker(reg, discardLogger(), WorkerOptions{
		TickInterval: 10 * time.Millisecond,
		Location:     time.UTC,
		Events:       sink,
	})
	w.now = func() time.Time { return now }
	w.exec.now = w.now
	w.exec.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func pollUntil(t *testing.T, timeout time.Duration, f func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if f() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
