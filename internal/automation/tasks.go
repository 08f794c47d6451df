// Package automation implements the content pipeline tasks run by the worker.
package automation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"autopinner/internal/config"
	"autopinner/internal/content"
	"autopinner/internal/core"
	"autopinner/internal/integrations/pinterest"
	"autopinner/internal/integrations/wordpress"
	"autopinner/internal/store"
)

const (
	TaskGenerateContent    = "generate_content"
	TaskPublishToWordPress = "publish_to_wordpress"
	TaskShareOnPinterest   = "share_on_pinterest"
	TaskAnalyzeTrends      = "analyze_trends"
	TaskCollectStats       = "collect_stats"

	// shareBatch bounds the published pins shared per run.
	shareBatch = 20

	minPostDelay = 5 * time.Second
	maxPostDelay = 15 * time.Second
)

var (
	ErrPinterestNotConfigured = errors.New("pinterest is not configured")
	ErrAllSitesFailed         = errors.New("content generation failed for every site")
)

// SettingsSource supplies the current settings document; it is read on every run.
type SettingsSource interface {
	WordPressSites() []config.WordPressSite
	Pinterest() config.PinterestSettings
	ContentGeneration() config.ContentSettings
}

type ArticleGenerator interface {
	GenerateArticle(ctx context.Context, category string, length int) (content.Article, error)
}

type Publisher interface {
	CreatePost(ctx context.Context, post wordpress.Post) (string, error)
}

type Sharer interface {
	CreatePin(ctx context.Context, req pinterest.PinRequest) (pinterest.CreatedPin, error)
	RandomBoard(ctx context.Context) (string, error)
	BoardID(ctx context.Context, name string) (string, error)
}

// PinStore is the slice of the store the tasks use.
type PinStore interface {
	AddPin(ctx context.Context, pin *store.Pin) error
	UpdatePin(ctx context.Context, pin *store.Pin) error
	ListPins(ctx context.Context, filter store.PinFilter) ([]store.Pin, error)
	ListPinsByStatus(ctx context.Context, status string, limit int) ([]store.Pin, error)
	ListPendingPinsForSite(ctx context.Context, site string, limit int) ([]store.Pin, error)
	CountPinsByStatus(ctx context.Context) (map[string]int64, error)
}

// PinCounter observes pin status transitions.
type PinCounter interface {
	PinProcessed(status string)
}

// PublisherFactory builds the publisher for a site.
type PublisherFactory func(site config.WordPressSite) (Publisher, error)

// Deps wires the tasks to their collaborators. Sharer, Events and Counter may be nil.
type Deps struct {
	Settings   SettingsSource
	Store      PinStore
	Generator  ArticleGenerator
	Publishers PublisherFactory
	Sharer     Sharer
	Events     core.EventSink
	Counter    PinCounter
	Logger     *slog.Logger
}

// Tasks holds the task actions and the per-site publishers they create.
type Tasks struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	randIn func(lo, hi time.Duration) time.Duration

	mu         sync.Mutex
	publishers map[string]Publisher
}

// New returns the task set for deps.
func New(deps Deps) *Tasks {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{
		deps:       deps,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
		randIn:     randomDuration,
		publishers: make(map[string]Publisher),
	}
}

// Definitions returns the default task table.
func (t *Tasks) Definitions() []core.Definition {
	return []core.Definition{
		{
			Name:        TaskGenerateContent,
			Description: "Generate content using AI",
			Action:      t.GenerateContent,
			Schedule:    core.Days(time.Monday, time.Wednesday, time.Friday),
		},
		{
			Name:           TaskPublishToWordPress,
			Description:    "Publish content to WordPress",
			Action:         t.PublishToWordPress,
			Dependencies:   []string{TaskGenerateContent},
			Schedule:       core.Days(time.Tuesday, time.Thursday),
			TimeoutSeconds: 900,
		},
		{
			Name:           TaskShareOnPinterest,
			Description:    "Share content on Pinterest",
			Action:         t.ShareOnPinterest,
			Dependencies:   []string{TaskGenerateContent},
			Schedule:       core.Days(time.Tuesday, time.Thursday),
			TimeoutSeconds: 1800,
		},
		{
			Name:        TaskAnalyzeTrends,
			Description: "Analyze Pinterest trends",
			Action:      t.AnalyzeTrends,
			Schedule:    core.Days(time.Monday),
		},
		{
			Name:        TaskCollectStats,
			Description: "Collect performance statistics",
			Action:      t.CollectStats,
			Schedule:    core.Days(time.Friday),
		},
	}
}

// Close closes every publisher that holds resources. The cache is emptied so
// publishers are rebuilt from current settings on the next run.
func (t *Tasks) Close() error {
	t.mu.Lock()
	pubs := t.publishers
	t.publishers = make(map[string]Publisher)
	t.mu.Unlock()

	var errs []error
	for _, p := range pubs {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (t *Tasks) publisher(site config.WordPressSite) (Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.publishers[site.ID()]; ok {
		return p, nil
	}
	p, err := t.deps.Publishers(site)
	if err != nil {
		return nil, err
	}
	t.publishers[site.ID()] = p
	return p, nil
}

func (t *Tasks) progress(task string, percent int, format string, args ...any) {
	if t.deps.Events == nil {
		return
	}
	t.deps.Events.Publish(core.Event{
		Type:    core.EventTaskProgress,
		Time:    t.now(),
		Task:    task,
		Percent: percent,
		Message: fmt.Sprintf(format, args...),
	})
}

func (t *Tasks) counted(status string) {
	if t.deps.Counter != nil {
		t.deps.Counter.PinProcessed(status)
	}
}

// GenerateContent writes one article per configured site and stores it as a
// pending pin. It fails only when every site failed.
func (t *Tasks) GenerateContent(ctx context.Context) error {
	sites := t.deps.Settings.WordPressSites()
	cs := t.deps.Settings.ContentGeneration()
	t.progress(TaskGenerateContent, 0, "Starting content generation")
	if len(sites) == 0 {
		t.logger.Info("no wordpress sites configured, nothing to generate")
		t.progress(TaskGenerateContent, 100, "No sites configured")
		return nil
	}

	var errs []error
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.progress(TaskGenerateContent, 25, "Generating article for %s", site.URL)
		art, err := t.deps.Generator.GenerateArticle(ctx, site.Category, cs.ArticleLength)
		if err != nil {
			t.logger.Error("generate article", "site", site.URL, "category", site.Category, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", site.ID(), err))
			continue
		}

		t.progress(TaskGenerateContent, 75, "Saving content for %s", site.URL)
		pin := &store.Pin{
			Title:       art.Title,
			Description: art.MetaDescription,
			Content:     art.Content,
			Images:      art.Images,
			ContentType: "article",
			Keywords:    strings.Join(art.Keywords, ","),
			Status:      store.PinStatusPending,
			Site:        site.URL,
			Category:    site.Category,
		}
		if len(art.Images) > 0 {
			pin.ImageURL = art.Images[0]
		}
		if err := t.deps.Store.AddPin(ctx, pin); err != nil {
			t.logger.Error("save generated pin", "site", site.URL, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", site.ID(), err))
			continue
		}
		t.counted(store.PinStatusPending)
		t.progress(TaskGenerateContent, 100, "Content generated for %s", site.URL)
	}
	if len(errs) == len(sites) {
		return fmt.Errorf("%w: %w", ErrAllSitesFailed, errors.Join(errs...))
	}
	return nil
}

// PublishToWordPress posts each site's pending pins, up to its daily limit,
// pausing a few seconds between posts. A pin that fails is marked failed and
// the run continues.
func (t *Tasks) PublishToWordPress(ctx context.Context) error {
	t.progress(TaskPublishToWordPress, 0, "Starting WordPress publishing")
	for _, site := range t.deps.Settings.WordPressSites() {
		pub, err := t.publisher(site)
		if err != nil {
			t.logger.Error("wordpress client", "site", site.URL, "err", err)
			continue
		}
		pins, err := t.deps.Store.ListPendingPinsForSite(ctx, site.URL, site.MaxPostsPerDay)
		if err != nil {
			return fmt.Errorf("list pending pins for %s: %w", site.URL, err)
		}
		for i := range pins {
			pin := &pins[i]
			if pin.Category != "" && site.Category != "" && !strings.EqualFold(pin.Category, site.Category) {
				continue
			}
			if err := t.sleep(ctx, t.randIn(minPostDelay, maxPostDelay)); err != nil {
				return err
			}
			t.progress(TaskPublishToWordPress, i*100/len(pins), "Publishing to %s: %s", site.URL, pin.Title)

			link, err := pub.CreatePost(ctx, wordpress.Post{
				Title:      pin.Title,
				Content:    postBody(pin),
				Categories: categories(site.Category),
			})
			if err != nil {
				t.logger.Error("publish pin", "pin", pin.ID, "site", site.URL, "err", err)
				t.markFailed(ctx, pin)
				continue
			}
			pin.Status = store.PinStatusPublished
			pin.URL = link
			pin.IsPublished = true
			if err := t.deps.Store.UpdatePin(ctx, pin); err != nil {
				t.logger.Error("update published pin", "pin", pin.ID, "err", err)
				continue
			}
			t.counted(store.PinStatusPublished)
		}
	}
	t.progress(TaskPublishToWordPress, 100, "WordPress publishing completed")
	return nil
}

// ShareOnPinterest pins published articles, waiting a random spam-avoidance
// delay before each pin.
func (t *Tasks) ShareOnPinterest(ctx context.Context) error {
	if t.deps.Sharer == nil {
		return ErrPinterestNotConfigured
	}
	ps := t.deps.Settings.Pinterest()
	t.progress(TaskShareOnPinterest, 0, "Starting Pinterest sharing")

	pins, err := t.deps.Store.ListPinsByStatus(ctx, store.PinStatusPublished, shareBatch)
	if err != nil {
		return fmt.Errorf("list published pins: %w", err)
	}
	for i := range pins {
		pin := &pins[i]
		if err := t.sleep(ctx, t.randIn(ps.MinDelay, ps.MaxDelay)); err != nil {
			return err
		}
		t.progress(TaskShareOnPinterest, i*100/len(pins), "Sharing on Pinterest: %s", pin.Title)

		created, err := t.share(ctx, ps, pin)
		if err != nil {
			t.logger.Error("share pin", "pin", pin.ID, "err", err)
			t.markFailed(ctx, pin)
			continue
		}
		pin.Status = store.PinStatusShared
		pin.PinURL = created.URL
		if created.ID != "" {
			id := created.ID
			pin.PinID = &id
		}
		if err := t.deps.Store.UpdatePin(ctx, pin); err != nil {
			t.logger.Error("update shared pin", "pin", pin.ID, "err", err)
			continue
		}
		t.counted(store.PinStatusShared)
	}
	t.progress(TaskShareOnPinterest, 100, "Pinterest sharing completed")
	return nil
}

func (t *Tasks) share(ctx context.Context, ps config.PinterestSettings, pin *store.Pin) (pinterest.CreatedPin, error) {
	var (
		board string
		err   error
	)
	if ps.RotateBoards {
		board, err = t.deps.Sharer.RandomBoard(ctx)
	} else {
		board, err = t.deps.Sharer.BoardID(ctx, ps.DefaultBoard)
	}
	if err != nil {
		return pinterest.CreatedPin{}, fmt.Errorf("choose board: %w", err)
	}
	image := pin.ImageURL
	if image == "" && len(pin.Images) > 0 {
		image = pin.Images[0]
	}
	return t.deps.Sharer.CreatePin(ctx, pinterest.PinRequest{
		BoardID:     board,
		Title:       pin.Title,
		Description: pin.Description,
		ImageURL:    image,
		Link:        pin.URL,
	})
}

func (t *Tasks) markFailed(ctx context.Context, pin *store.Pin) {
	pin.Status = store.PinStatusFailed
	if err := t.deps.Store.UpdatePin(ctx, pin); err != nil {
		t.logger.Error("mark pin failed", "pin", pin.ID, "err", err)
		return
	}
	t.counted(store.PinStatusFailed)
}

func categories(c string) []string {
	if c == "" {
		return nil
	}
	return []string{c}
}

// postBody is the article followed by any images not already embedded in it.
func postBody(pin *store.Pin) string {
	body := pin.Content
	if body == "" {
		body = "<p>" + pin.Description + "</p>"
	}
	var b strings.Builder
	b.WriteString(body)
	for _, img := range pin.Images {
		if strings.Contains(body, img) {
			continue
		}
		fmt.Fprintf(&b, "\n<figure><img src=\"%s\" alt=\"%s\"/></figure>", html.EscapeString(img), html.EscapeString(pin.Title))
	}
	return b.String()
}

func randomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
