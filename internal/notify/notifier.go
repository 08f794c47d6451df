// Package notify fans worker events out to sinks. LogSink, RedisSink and the
// metrics recorder see every event; AlertSink turns task failures into push
// alerts through a Notifier such as Bark.
package notify

import (
	"context"
	"errors"
)

// Notifier pushes a short alert to an operator.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Alerts returns the Notifier the AlertSink should use for the configured
// channels. No channels yields a NoOpNotifier and a single channel is used as is.
func Alerts(channels ...Notifier) Notifier {
	switch len(channels) {
	case 0:
		return NoOpNotifier{}
	case 1:
		return channels[0]
	}
	return NewMultiNotifier(channels...)
}

// MultiNotifier sends each alert to every channel. A failing channel does not
// keep the alert from the others.
type MultiNotifier struct {
	channels []Notifier
}

func NewMultiNotifier(channels ...Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier drops alerts when no channel is configured.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, string, string) error { return nil }
