package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopinner/internal/core"
)

func TestMetrics_TaskOutcomes(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Deliver(ctx, core.Event{Type: core.EventTaskCompleted, Task: "generate_content", Success: true, Attempts: 1, RuntimeSeconds: 2}))
	require.NoError(t, m.Deliver(ctx, core.Event{Type: core.EventTaskCompleted, Task: "generate_content", Success: false, Attempts: 3}))
	require.NoError(t, m.Deliver(ctx, core.Event{Type: core.EventError, Task: "generate_content", Attempts: 3}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskRuns.WithLabelValues("generate_content", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskRuns.WithLabelValues("generate_content", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerErrors))
}

func TestMetrics_QueueAndState(t *testing.T) {
	m := New()
	ctx := context.Background()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerState.WithLabelValues("stopped")))

	require.NoError(t, m.Deliver(ctx, core.Event{Type: core.EventQueueUpdated, Queue: []core.QueueEntry{{Task: "a"}, {Task: "b"}}}))
	require.NoError(t, m.Deliver(ctx, core.Event{Type: core.EventStatusChanged, Running: true, Paused: true}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerState.WithLabelValues("paused")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.workerState.WithLabelValues("stopped")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveCleanup(91)
	m.PinProcessed("published")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "autopinner_store_cleanups_total 1")
	assert.Contains(t, string(body), `autopinner_pins_processed_total{status="published"} 1`)
}
