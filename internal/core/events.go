package core

import "time"

// EventType names a worker signal.
type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventProgress      EventType = "progress"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventError         EventType = "error_occurred"
	EventQueueUpdated  EventType = "queue_updated"
)

// Event is a one-way notification emitted by the worker. Only the fields
// relevant to Type are populated.
type Event struct {
	Type           EventType    `json:"type"`
	Time           time.Time    `json:"time"`
	Message        string       `json:"message,omitempty"`
	Task           string       `json:"task,omitempty"`
	Running        bool         `json:"running,omitempty"`
	Paused         bool         `json:"paused,omitempty"`
	Success        bool         `json:"success,omitempty"`
	Percent        int          `json:"percent,omitempty"`
	Current        int          `json:"current,omitempty"`
	Total          int          `json:"total,omitempty"`
	Attempts       int          `json:"attempts,omitempty"`
	RuntimeSeconds float64      `json:"runtime_seconds,omitempty"`
	Queue          []QueueEntry `json:"queue,omitempty"`
}

// EventSink receives worker events. Publish must not block for long; the loop
// calls it synchronously.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
