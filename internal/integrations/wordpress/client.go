// Package wordpress publishes articles through the WordPress REST API.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"autopinner/internal/integrations/httpx"
)

var (
	ErrMissingURL    = errors.New("wordpress site url is required")
	ErrUnexpectedAPI = errors.New("unexpected wordpress response")
)

// Config identifies a site and its credentials. Password is an application password.
type Config struct {
	URL      string
	Username string
	Password string
	Category string
	Timeout  time.Duration
}

// Post is an article to publish.
type Post struct {
	Title      string
	Content    string
	Categories []string
	Status     string
}

// Client talks to one WordPress site.
type Client struct {
	cfg    Config
	logger *slog.Logger
	http   *httpx.LazyClient

	mu         sync.Mutex
	categories map[string]int
}

// New returns a client for cfg.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		logger:     logger.With("site", cfg.URL),
		http:       &httpx.LazyClient{Timeout: cfg.Timeout},
		categories: make(map[string]int),
	}, nil
}

// Site returns the normalized site URL.
func (c *Client) Site() string { return c.cfg.URL }

type category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type createdPost struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

// CreatePost publishes p and returns the post's public URL. Without explicit
// categories the site's configured category is used; unknown category names
// are created on the site.
func (c *Client) CreatePost(ctx context.Context, p Post) (string, error) {
	names := p.Categories
	if len(names) == 0 && c.cfg.Category != "" {
		names = []string{c.cfg.Category}
	}
	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, err := c.categoryID(ctx, name)
		if err != nil {
			// Publishing uncategorized beats not publishing.
			c.logger.Warn("resolve category", "category", name, "err", err)
			continue
		}
		ids = append(ids, id)
	}

	status := p.Status
	if status == "" {
		status = "publish"
	}
	body := map[string]any{
		"title":   p.Title,
		"content": p.Content,
		"status":  status,
	}
	if len(ids) > 0 {
		body["categories"] = ids
	}
	var out createdPost
	if err := c.do(ctx, http.MethodPost, "/wp-json/wp/v2/posts", body, &out); err != nil {
		return "", fmt.Errorf("create post %q: %w", p.Title, err)
	}
	c.logger.Info("post created", "title", p.Title, "id", out.ID)
	if out.Link == "" {
		return fmt.Sprintf("%s/?p=%d", c.cfg.URL, out.ID), nil
	}
	return out.Link, nil
}

func (c *Client) categoryID(ctx context.Context, name string) (int, error) {
	key := strings.ToLower(name)
	c.mu.Lock()
	id, ok := c.categories[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var list []category
	if err := c.do(ctx, http.MethodGet, "/wp-json/wp/v2/categories?per_page=100", nil, &list); err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	c.mu.Lock()
	for _, cat := range list {
		c.categories[strings.ToLower(cat.Name)] = cat.ID
	}
	id, ok = c.categories[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var created category
	if err := c.do(ctx, http.MethodPost, "/wp-json/wp/v2/categories", map[string]any{"name": name}, &created); err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	c.mu.Lock()
	c.categories[key] = created.ID
	c.mu.Unlock()
	return created.ID, nil
}

// Ping checks that the REST API answers with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	var posts []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/wp-json/wp/v2/posts?per_page=1", nil, &posts); err != nil {
		return fmt.Errorf("ping %s: %w", c.cfg.URL, err)
	}
	return nil
}

// Close releases idle connections. The client stays usable.
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedAPI, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
