package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// WordPressSite is one blog the daemon generates and publishes articles for.
type WordPressSite struct {
	URL            string
	Username       string
	Password       string
	Category       string
	MaxPostsPerDay int
}

// ID identifies a site/category pair.
func (s WordPressSite) ID() string {
	return s.URL + "_" + s.Category
}

// PinterestSettings configures sharing and its spam avoidance.
type PinterestSettings struct {
	AccessToken       string
	DefaultBoard      string
	APIURL            string
	MinDelay          time.Duration
	MaxDelay          time.Duration
	RotateBoards      bool
	RequestsPerMinute int
}

// ContentSettings configures article generation.
type ContentSettings struct {
	APIKey        string
	APIURL        string
	Model         string
	ArticleLength int
	MaxImages     int
	ImageBaseURL  string
}

// Settings is the user-editable JSON document. Values are loosely typed on
// disk ("1000" and 1000 are both accepted) and coerced on read.
type Settings struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	data map[string]any
}

// DefaultSettings returns the document written when no settings file exists.
func DefaultSettings() map[string]any {
	return map[string]any{
		"wordpress_sites": []any{},
		"pinterest": map[string]any{
			"access_token":  "",
			"default_board": "AutoPinner",
			"api_url":       "https://api.pinterest.com/v5",
			"avoid_spam": map[string]any{
				"min_delay":     "15",
				"max_delay":     "45",
				"rotate_boards": "true",
			},
			"requests_per_minute": "10",
		},
		"content_generation": map[string]any{
			"api_key":                "",
			"api_url":                "https://openrouter.ai/api/v1/chat/completions",
			"model":                  "gpt-3.5-turbo",
			"article_length":         "1000",
			"max_images_per_article": "3",
			"image_base_url":         "https://picsum.photos/seed",
		},
		"log_level": "INFO",
	}
}

// LoadSettings reads path, merging it over the defaults. A missing file is
// created with the defaults; an unreadable one is logged and the defaults used.
func LoadSettings(path string, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Settings{path: path, logger: logger, data: DefaultSettings()}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.Save(); err != nil {
			logger.Error("write default settings", "path", path, "err", err)
		} else {
			logger.Info("default settings created", "path", path)
		}
		return s
	case err != nil:
		logger.Error("read settings, using defaults", "path", path, "err", err)
		return s
	}

	var loaded map[string]any
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Error("decode settings, using defaults", "path", path, "err", err)
		return s
	}
	s.data = merge(s.data, loaded)
	logger.Info("settings loaded", "path", path)
	return s
}

// merge overlays src onto dst, recursing into nested objects.
func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				dst[k] = merge(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// Get returns the value at a dotted key path such as "pinterest.avoid_spam.min_delay".
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cur any = s.data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at a dotted key path and saves the document.
func (s *Settings) Set(key string, value any) error {
	s.mu.Lock()
	parts := strings.Split(key, ".")
	cur := s.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	s.mu.Unlock()
	return s.Save()
}

// Save writes the document atomically.
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func (s *Settings) section(name string) map[string]any {
	v, _ := s.Get(name)
	return cast.ToStringMap(v)
}

// WordPressSites lists configured sites, skipping entries without a URL.
func (s *Settings) WordPressSites() []WordPressSite {
	raw, _ := s.Get("wordpress_sites")
	var sites []WordPressSite
	for _, item := range cast.ToSlice(raw) {
		m := cast.ToStringMap(item)
		url := strings.TrimRight(cast.ToString(m["url"]), "/")
		if url == "" {
			continue
		}
		maxPosts := cast.ToInt(m["max_posts_per_day"])
		if maxPosts <= 0 {
			maxPosts = 4
		}
		sites = append(sites, WordPressSite{
			URL:            url,
			Username:       cast.ToString(m["username"]),
			Password:       cast.ToString(m["password"]),
			Category:       cast.ToString(m["category"]),
			MaxPostsPerDay: maxPosts,
		})
	}
	return sites
}

func (s *Settings) Pinterest() PinterestSettings {
	m := s.section("pinterest")
	spam := cast.ToStringMap(m["avoid_spam"])
	p := PinterestSettings{
		AccessToken:       cast.ToString(m["access_token"]),
		DefaultBoard:      cast.ToString(m["default_board"]),
		APIURL:            strings.TrimRight(cast.ToString(m["api_url"]), "/"),
		MinDelay:          time.Duration(cast.ToInt(spam["min_delay"])) * time.Second,
		MaxDelay:          time.Duration(cast.ToInt(spam["max_delay"])) * time.Second,
		RotateBoards:      cast.ToBool(spam["rotate_boards"]),
		RequestsPerMinute: cast.ToInt(m["requests_per_minute"]),
	}
	if p.DefaultBoard == "" {
		p.DefaultBoard = "AutoPinner"
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p
}

func (s *Settings) ContentGeneration() ContentSettings {
	m := s.section("content_generation")
	c := ContentSettings{
		APIKey:        cast.ToString(m["api_key"]),
		APIURL:        cast.ToString(m["api_url"]),
		Model:         cast.ToString(m["model"]),
		ArticleLength: cast.ToInt(m["article_length"]),
		MaxImages:     cast.ToInt(m["max_images_per_article"]),
		ImageBaseURL:  strings.TrimRight(cast.ToString(m["image_base_url"]), "/"),
	}
	if c.ArticleLength <= 0 {
		c.ArticleLength = 1000
	}
	if c.MaxImages <= 0 {
		c.MaxImages = 3
	}
	return c
}

// LogLevel returns the level stored in the document, lower-cased.
func (s *Settings) LogLevel() string {
	v, _ := s.Get("log_level")
	return strings.ToLower(cast.ToString(v))
}
