package automation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopinner/internal/config"
	"autopinner/internal/content"
	"autopinner/internal/core"
	"autopinner/internal/integrations/pinterest"
	"autopinner/internal/integrations/wordpress"
	"autopinner/internal/store"
)

type fakeSettings struct {
	sites     []config.WordPressSite
	pinterest config.PinterestSettings
}

func (f fakeSettings) WordPressSites() []config.WordPressSite    { return f.sites }
func (f fakeSettings) Pinterest() config.PinterestSettings       { return f.pinterest }
func (f fakeSettings) ContentGeneration() config.ContentSettings { return config.ContentSettings{ArticleLength: 500} }

type fakeGenerator struct {
	fail map[string]bool
}

func (g fakeGenerator) GenerateArticle(_ context.Context, category string, length int) (content.Article, error) {
	if g.fail[category] {
		return content.Article{}, errors.New("model unavailable")
	}
	return content.Article{
		Title:           category + " ideas",
		Content:         "<h1>" + category + " ideas</h1><p>body</p>",
		MetaDescription: "about " + category,
		Images:          []string{"https://img.example/" + category + "/1", "https://img.example/" + category + "/2"},
		Keywords:        []string{"best " + category, category},
	}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	posts  []wordpress.Post
	fail   string
	closed bool
}

func (p *fakePublisher) CreatePost(_ context.Context, post wordpress.Post) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if post.Title == p.fail {
		return "", errors.New("rest_cannot_create")
	}
	p.posts = append(p.posts, post)
	return "https://blog.example/" + post.Title, nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type fakeSharer struct {
	pins      []pinterest.PinRequest
	boardErr  error
	usedNamed []string
	randoms   int
}

func (s *fakeSharer) CreatePin(_ context.Context, req pinterest.PinRequest) (pinterest.CreatedPin, error) {
	s.pins = append(s.pins, req)
	id := "p" + req.Title
	return pinterest.CreatedPin{ID: id, URL: "https://www.pinterest.com/pin/" + id + "/"}, nil
}

func (s *fakeSharer) RandomBoard(context.Context) (string, error) {
	s.randoms++
	return "random-board", s.boardErr
}

func (s *fakeSharer) BoardID(_ context.Context, name string) (string, error) {
	s.usedNamed = append(s.usedNamed, name)
	return "board-" + name, s.boardErr
}

type pinCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *pinCounter) PinProcessed(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[status]++
}

type fixture struct {
	tasks     *Tasks
	store     *store.Store
	publisher *fakePublisher
	sharer    *fakeSharer
	counter   *pinCounter
	events    *[]core.Event
	sleeps    *[]time.Duration
}

func newFixture(t *testing.T, settings fakeSettings, gen fakeGenerator) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := store.DefaultOptions()
	opts.StateDir = t.TempDir()
	st := store.New(opts, logger)
	require.NoError(t, st.Init(context.Background(), nil))
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:     st,
		publisher: &fakePublisher{},
		sharer:    &fakeSharer{},
		counter:   &pinCounter{},
		events:    &[]core.Event{},
		sleeps:    &[]time.Duration{},
	}
	var mu sync.Mutex
	f.tasks = New(Deps{
		Settings:   settings,
		Store:      st,
		Generator:  gen,
		Publishers: func(config.WordPressSite) (Publisher, error) { return f.publisher, nil },
		Sharer:     f.sharer,
		Events: core.EventSinkFunc(func(e core.Event) {
			mu.Lock()
			*f.events = append(*f.events, e)
			mu.Unlock()
		}),
		Counter: f.counter,
		Logger:  logger,
	})
	f.tasks.sleep = func(_ context.Context, d time.Duration) error {
		*f.sleeps = append(*f.sleeps, d)
		return nil
	}
	f.tasks.randIn = func(lo, hi time.Duration) time.Duration { return hi }
	return f
}

var travelSite = config.WordPressSite{URL: "https://blog.example", Category: "travel", MaxPostsPerDay: 4}

func TestDefinitions(t *testing.T) {
	tasks := New(Deps{})
	defs := tasks.Definitions()
	require.Len(t, defs, 5)

	byName := make(map[string]core.Definition)
	for _, d := range defs {
		byName[d.Name] = d
		assert.NotNil(t, d.Action, d.Name)
	}
	assert.Equal(t, "mon,wed,fri", byName[TaskGenerateContent].Schedule.String())
	assert.Equal(t, []string{TaskGenerateContent}, byName[TaskPublishToWordPress].Dependencies)
	assert.Equal(t, []string{TaskGenerateContent}, byName[TaskShareOnPinterest].Dependencies)
	assert.Equal(t, "tue,thu", byName[TaskShareOnPinterest].Schedule.String())
	assert.Equal(t, "mon", byName[TaskAnalyzeTrends].Schedule.String())
	assert.Equal(t, "fri", byName[TaskCollectStats].Schedule.String())

	reg := core.NewRegistry("", nil)
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	assert.Len(t, reg.Names(), 5)
}

func TestGenerateContentStoresPendingPins(t *testing.T) {
	ctx := context.Background()
	other := config.WordPressSite{URL: "https://food.example", Category: "food", MaxPostsPerDay: 4}
	f := newFixture(t, fakeSettings{sites: []config.WordPressSite{travelSite, other}}, fakeGenerator{})

	require.NoError(t, f.tasks.GenerateContent(ctx))

	pins, err := f.store.ListPendingPinsForSite(ctx, travelSite.URL, 10)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, "travel ideas", pins[0].Title)
	assert.Equal(t, "about travel", pins[0].Description)
	assert.Equal(t, "https://img.example/travel/1", pins[0].ImageURL)
	assert.Equal(t, "best travel,travel", pins[0].Keywords)
	assert.Equal(t, 2, f.counter.counts[store.PinStatusPending])

	var progress []int
	for _, e := range *f.events {
		if e.Type == core.EventTaskProgress {
			progress = append(progress, e.Percent)
		}
	}
	assert.Equal(t, []int{0, 25, 75, 100, 25, 75, 100}, progress)
}

func TestGenerateContentPartialFailure(t *testing.T) {
	ctx := context.Background()
	other := config.WordPressSite{URL: "https://food.example", Category: "food"}
	f := newFixture(t, fakeSettings{sites: []config.WordPressSite{travelSite, other}}, fakeGenerator{fail: map[string]bool{"food": true}})
	require.NoError(t, f.tasks.GenerateContent(ctx))

	f = newFixture(t, fakeSettings{sites: []config.WordPressSite{other}}, fakeGenerator{fail: map[string]bool{"food": true}})
	err := f.tasks.GenerateContent(ctx)
	require.ErrorIs(t, err, ErrAllSitesFailed)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestGenerateContentWithoutSites(t *testing.T) {
	f := newFixture(t, fakeSettings{}, fakeGenerator{})
	require.NoError(t, f.tasks.GenerateContent(context.Background()))
}

func TestPublishToWordPress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeSettings{sites: []config.WordPressSite{travelSite}}, fakeGenerator{})
	for _, title := range []string{"one", "two", "broken"} {
		require.NoError(t, f.store.AddPin(ctx, &store.Pin{
			Title: title, Content: "<p>" + title + "</p>", Site: travelSite.URL, Category: "travel",
			Images: []string{"https://img.example/" + title},
		}))
	}
	f.publisher.fail = "broken"

	require.NoError(t, f.tasks.PublishToWordPress(ctx))

	require.Len(t, f.publisher.posts, 2)
	assert.Equal(t, []string{"travel"}, f.publisher.posts[0].Categories)
	assert.Contains(t, f.publisher.posts[0].Content, `<img src="https://img.example/one"`)
	assert.Equal(t, []time.Duration{maxPostDelay, maxPostDelay, maxPostDelay}, *f.sleeps)

	counts, err := f.store.CountPinsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[store.PinStatusPublished])
	assert.Equal(t, int64(1), counts[store.PinStatusFailed])

	published, err := f.store.ListPinsByStatus(ctx, store.PinStatusPublished, 10)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example/one", published[0].URL)
	assert.True(t, published[0].IsPublished)

	require.NoError(t, f.tasks.Close())
	assert.True(t, f.publisher.closed)
}

func TestPublishRespectsDailyLimit(t *testing.T) {
	ctx := context.Background()
	site := travelSite
	site.MaxPostsPerDay = 1
	f := newFixture(t, fakeSettings{sites: []config.WordPressSite{site}}, fakeGenerator{})
	for _, title := range []string{"a", "b"} {
		require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: title, Site: site.URL, Category: "travel"}))
	}
	require.NoError(t, f.tasks.PublishToWordPress(ctx))
	assert.Len(t, f.publisher.posts, 1)
}

func TestShareOnPinterest(t *testing.T) {
	ctx := context.Background()
	settings := fakeSettings{pinterest: config.PinterestSettings{DefaultBoard: "AutoPinner", MinDelay: 15 * time.Second, MaxDelay: 45 * time.Second}}
	f := newFixture(t, settings, fakeGenerator{})
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{
		Title: "one", Status: store.PinStatusPublished, URL: "https://blog.example/one",
		Images: []string{"https://img.example/one"},
	}))
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: "pending"}))

	require.NoError(t, f.tasks.ShareOnPinterest(ctx))

	require.Len(t, f.sharer.pins, 1)
	req := f.sharer.pins[0]
	assert.Equal(t, "board-AutoPinner", req.BoardID)
	assert.Equal(t, "https://img.example/one", req.ImageURL)
	assert.Equal(t, "https://blog.example/one", req.Link)
	assert.Equal(t, []time.Duration{45 * time.Second}, *f.sleeps)

	shared, err := f.store.ListPinsByStatus(ctx, store.PinStatusShared, 10)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	require.NotNil(t, shared[0].PinID)
	assert.Equal(t, "pone", *shared[0].PinID)
	assert.Equal(t, "https://www.pinterest.com/pin/pone/", shared[0].PinURL)
}

func TestShareRotatesBoardsAndMarksFailures(t *testing.T) {
	ctx := context.Background()
	settings := fakeSettings{pinterest: config.PinterestSettings{RotateBoards: true}}
	f := newFixture(t, settings, fakeGenerator{})
	f.sharer.boardErr = pinterest.ErrNoBoards
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: "one", Status: store.PinStatusPublished, ImageURL: "https://img.example/one"}))

	require.NoError(t, f.tasks.ShareOnPinterest(ctx))
	assert.Equal(t, 1, f.sharer.randoms)
	assert.Empty(t, f.sharer.pins)

	counts, err := f.store.CountPinsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[store.PinStatusFailed])
	assert.Equal(t, 1, f.counter.counts[store.PinStatusFailed])
}

func TestShareWithoutPinterest(t *testing.T) {
	f := newFixture(t, fakeSettings{}, fakeGenerator{})
	f.tasks.deps.Sharer = nil
	require.ErrorIs(t, f.tasks.ShareOnPinterest(context.Background()), ErrPinterestNotConfigured)
}

func TestShareStopsWhenContextEnds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeSettings{}, fakeGenerator{})
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: "one", Status: store.PinStatusPublished, ImageURL: "x"}))
	f.tasks.sleep = func(context.Context, time.Duration) error { return context.DeadlineExceeded }

	require.ErrorIs(t, f.tasks.ShareOnPinterest(ctx), context.DeadlineExceeded)
	assert.Empty(t, f.sharer.pins)
}

func TestAnalyzeTrendsAndCollectStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeSettings{}, fakeGenerator{})
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: "a", Status: store.PinStatusShared, Keywords: "travel, Budget"}))
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: "b", Status: store.PinStatusPublished, Keywords: "budget,food"}))
	require.NoError(t, f.store.AddPin(ctx, &store.Pin{Title: "c", Keywords: "ignored"}))

	require.NoError(t, f.tasks.AnalyzeTrends(ctx))
	require.NoError(t, f.tasks.CollectStats(ctx))

	last := (*f.events)[len(*f.events)-1]
	assert.Equal(t, TaskCollectStats, last.Task)
	assert.Equal(t, "Statistics collected: pending=1 published=1 shared=1 failed=0", last.Message)
}

func TestTopKeywords(t *testing.T) {
	pins := []store.Pin{
		{Keywords: "b,a,a"},
		{Keywords: "a, c"},
		{Keywords: ""},
	}
	assert.Equal(t, []KeywordCount{{"a", 2}, {"b", 1}}, topKeywords(pins, 2))
}
