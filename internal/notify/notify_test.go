package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopinner/internal/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu     sync.Mutex
	events []core.Event
}

func (c *collector) Deliver(_ context.Context, e core.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) snapshot() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Event(nil), c.events...)
}

type stubNotifier struct {
	titles []string
	err    error
}

func (s *stubNotifier) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	c := &collector{}
	failing := SinkFunc(func(context.Context, core.Event) error { return errors.New("down") })
	d := NewDispatcher(quietLogger(), 8, failing, c)
	d.Start(context.Background())

	d.Publish(core.Event{Type: core.EventStatusChanged, Message: "Worker started"})
	d.Publish(core.Event{Type: core.EventTaskCompleted, Task: "generate_content", Success: true})
	require.NoError(t, d.Close(context.Background()))

	got := c.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, core.EventStatusChanged, got[0].Type)
	assert.Equal(t, "generate_content", got[1].Task)

	// Publishing after close is ignored.
	d.Publish(core.Event{Type: core.EventError})
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, c.snapshot(), 2)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	c := &collector{}
	d := NewDispatcher(quietLogger(), 1, c)

	d.Publish(core.Event{Type: core.EventProgress, Current: 1})
	d.Publish(core.Event{Type: core.EventProgress, Current: 2})
	d.Start(context.Background())
	require.NoError(t, d.Close(context.Background()))

	got := c.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Current)
}

func TestDispatcher_SinkPanicIsContained(t *testing.T) {
	c := &collector{}
	bad := SinkFunc(func(context.Context, core.Event) error { panic("bad sink") })
	d := NewDispatcher(quietLogger(), 4, bad, c)
	d.Start(context.Background())
	d.Publish(core.Event{Type: core.EventError})
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, c.snapshot(), 1)
}

func TestAlertSink_OnlyErrors(t *testing.T) {
	n := &stubNotifier{}
	sink := NewAlertSink(n)

	require.NoError(t, sink.Deliver(context.Background(), core.Event{Type: core.EventTaskCompleted, Task: "x"}))
	require.NoError(t, sink.Deliver(context.Background(), core.Event{Type: core.EventError, Task: "share_on_pinterest", Attempts: 3}))
	require.NoError(t, sink.Deliver(context.Background(), core.Event{Type: core.EventError, Message: "loop"}))

	assert.Equal(t, []string{"AutoPinner: share_on_pinterest failed", "AutoPinner error"}, n.titles)
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	ok := &stubNotifier{}
	bad := &stubNotifier{err: errors.New("unreachable")}
	m := NewMultiNotifier(bad, ok, NoOpNotifier{})

	err := m.Send(context.Background(), "t", "b")
	assert.ErrorContains(t, err, "unreachable")
	assert.Len(t, ok.titles, 1)
}

func TestAlerts_ChannelCount(t *testing.T) {
	assert.Equal(t, NoOpNotifier{}, Alerts())
	require.NoError(t, NewAlertSink(Alerts()).Deliver(context.Background(), core.Event{Type: core.EventError, Task: "x"}))

	one := &stubNotifier{}
	assert.Same(t, one, Alerts(one))

	two := &stubNotifier{}
	multi, ok := Alerts(one, two).(*MultiNotifier)
	require.True(t, ok)
	require.NoError(t, NewAlertSink(multi).Deliver(context.Background(), core.Event{Type: core.EventError, Task: "collect_stats"}))
	assert.Equal(t, []string{"AutoPinner: collect_stats failed"}, one.titles)
	assert.Equal(t, []string{"AutoPinner: collect_stats failed"}, two.titles)
}

func TestBarkNotifier_Send(t *testing.T) {
	var gotTitle, gotGroup, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotTitle = r.URL.Query().Get("title")
		gotGroup = r.URL.Query().Get("group")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBarkNotifier(srv.URL + "/devicekey/")
	require.NoError(t, err)
	require.NoError(t, b.Send(context.Background(), "AutoPinner error", "boom"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "AutoPinner error", gotTitle)
	assert.Equal(t, "autopinner", gotGroup)

	_, err = NewBarkNotifier("")
	assert.ErrorIs(t, err, ErrEmptyBarkURL)
}

func TestBarkNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	assert.ErrorContains(t, b.Send(context.Background(), "t", "b"), "502")
}

func TestRedisSink_PublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sink, err := NewRedisSink("redis://"+mr.Addr(), "autopinner:events")
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Ping(ctx))

	subClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subClient.Close()
	sub := subClient.Subscribe(ctx, "autopinner:events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(ctx, core.Event{
		Type:     core.EventError,
		Task:     "publish_to_wordpress",
		Attempts: 3,
		Time:     time.Date(2024, time.January, 3, 9, 0, 0, 0, time.UTC),
	}))

	select {
	case msg := <-sub.Channel():
		var e core.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &e))
		assert.Equal(t, core.EventError, e.Type)
		assert.Equal(t, "publish_to_wordpress", e.Task)
		assert.Equal(t, 3, e.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisSink_BadURL(t *testing.T) {
	_, err := NewRedisSink("http://nope", "c")
	assert.Error(t, err)
}
