package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopinner/internal/core"
)

// Metrics exposes worker activity to Prometheus on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskAttempts  *prometheus.HistogramVec
	workerErrors  prometheus.Counter
	queueLength   prometheus.Gauge
	workerState   *prometheus.GaugeVec
	storeCleanups prometheus.Counter
	pinsProcessed *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopinner_task_runs_total",
				Help: "Completed task execution sequences by outcome",
			},
			[]string{"task", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopinner_task_duration_seconds",
				Help:    "Wall time of a task execution sequence including retries",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"task"},
		),
		taskAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopinner_task_attempts",
				Help:    "Attempts used per execution sequence",
				Buckets: []float64{1, 2, 3, 5, 10},
			},
			[]string{"task"},
		),
		workerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopinner_worker_errors_total",
			Help: "Error events emitted by the worker",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autopinner_queue_length",
			Help: "Entries waiting in the task queue",
		}),
		workerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autopinner_worker_state",
				Help: "1 for the current worker state, 0 otherwise",
			},
			[]string{"state"},
		),
		storeCleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopinner_store_cleanups_total",
			Help: "Memory-triggered database pool cleanups",
		}),
		pinsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopinner_pins_processed_total",
				Help: "Pins moved to a new status by automation tasks",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(
		m.taskRuns, m.taskDuration, m.taskAttempts, m.workerErrors,
		m.queueLength, m.workerState, m.storeCleanups, m.pinsProcessed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.setState(core.StateStopped)
	return m
}

// Deliver implements notify.Sink.
func (m *Metrics) Deliver(_ context.Context, e core.Event) error {
	switch e.Type {
	case core.EventTaskCompleted:
		outcome := "success"
		if !e.Success {
			outcome = "failure"
		}
		m.taskRuns.WithLabelValues(e.Task, outcome).Inc()
		m.taskDuration.WithLabelValues(e.Task).Observe(e.RuntimeSeconds)
		if e.Attempts > 0 {
			m.taskAttempts.WithLabelValues(e.Task).Observe(float64(e.Attempts))
		}
	case core.EventError:
		m.workerErrors.Inc()
	case core.EventQueueUpdated:
		m.queueLength.Set(float64(len(e.Queue)))
	case core.EventStatusChanged:
		switch {
		case !e.Running:
			m.setState(core.StateStopped)
		case e.Paused:
			m.setState(core.StatePaused)
		default:
			m.setState(core.StateRunning)
		}
	}
	return nil
}

func (m *Metrics) setState(current core.WorkerState) {
	for _, s := range []core.WorkerState{core.StateStopped, core.StateRunning, core.StatePaused} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.workerState.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveCleanup counts a store cleanup; it matches store.Options.OnCleanup.
func (m *Metrics) ObserveCleanup(float64) {
	m.storeCleanups.Inc()
}

// PinProcessed counts a pin status transition.
func (m *Metrics) PinProcessed(status string) {
	m.pinsProcessed.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
