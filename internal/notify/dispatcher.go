package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"autopinner/internal/core"
)

// Sink consumes worker events off the dispatcher goroutine.
type Sink interface {
	Deliver(ctx context.Context, e core.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e core.Event) error

func (f SinkFunc) Deliver(ctx context.Context, e core.Event) error { return f(ctx, e) }

const defaultBuffer = 256

// Dispatcher fans worker events out to sinks asynchronously. Publish never
// blocks: when the buffer is full the event is dropped with a warning.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	events  chan core.Event
	timeout time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewDispatcher creates a dispatcher with the given buffer size (0 selects the default).
func NewDispatcher(logger *slog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		events:  make(chan core.Event, buffer),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
}

// Publish implements core.EventSink.
func (d *Dispatcher) Publish(e core.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- e:
	default:
		d.logger.Warn("event dropped, dispatcher buffer full", "type", e.Type, "task", e.Task)
	}
}

// Start launches the delivery goroutine. It runs until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run(context.WithoutCancel(ctx))
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for e := range d.events {
		for _, s := range d.sinks {
			d.deliver(ctx, s, e)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, e core.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked", "type", e.Type, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := s.Deliver(ctx, e); err != nil {
		d.logger.Warn("deliver event", "type", e.Type, "task", e.Task, "err", err)
	}
}

// Close stops accepting events and waits for buffered ones to be delivered,
// or for ctx to expire. Close without Start discards buffered events.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
