package notify

import (
	"context"
	"fmt"
	"log/slog"

	"autopinner/internal/core"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Deliver(_ context.Context, e core.Event) error {
	switch e.Type {
	case core.EventError:
		l.logger.Error("worker event", "type", e.Type, "task", e.Task, "attempts", e.Attempts, "message", e.Message)
	case core.EventQueueUpdated:
		l.logger.Debug("worker event", "type", e.Type, "queue_length", len(e.Queue))
	case core.EventTaskProgress, core.EventProgress:
		l.logger.Debug("worker event", "type", e.Type, "task", e.Task, "percent", e.Percent, "message", e.Message)
	default:
		l.logger.Info("worker event", "type", e.Type, "task", e.Task, "message", e.Message)
	}
	return nil
}

// AlertSink forwards failures to a Notifier.
type AlertSink struct {
	notifier Notifier
}

func NewAlertSink(n Notifier) *AlertSink {
	return &AlertSink{notifier: n}
}

func (a *AlertSink) Deliver(ctx context.Context, e core.Event) error {
	if e.Type != core.EventError {
		return nil
	}
	title := "AutoPinner error"
	if e.Task != "" {
		title = fmt.Sprintf("AutoPinner: %s failed", e.Task)
	}
	return a.notifier.Send(ctx, title, e.Message)
}
