// Package content generates SEO articles through a chat-completion API.
package content

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
	"time"

	"autopinner/internal/integrations/httpx"
)

const (
	DefaultAPIURL    = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel     = "gpt-3.5-turbo"
	DefaultLength    = 1000
	DefaultMaxImages = 3
	DefaultImageBase = "https://picsum.photos/seed"

	metaDescriptionLength = 160
	maxTokens             = 2000
	temperature           = 0.7
)

var (
	ErrMissingAPIKey   = errors.New("content api key is required")
	ErrEmptyCompletion = errors.New("completion returned no content")
	ErrUnexpectedAPI   = errors.New("unexpected completion response")
)

// Config configures the completion endpoint and image placeholders.
type Config struct {
	APIKey       string
	APIURL       string
	Model        string
	MaxImages    int
	ImageBaseURL string
	Timeout      time.Duration
}

// Article is a generated, post-processed article.
type Article struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	MetaDescription string   `json:"meta_description"`
	Images          []string `json:"images"`
	Keywords        []string `json:"keywords"`
}

// Generator turns a category into an Article.
type Generator struct {
	cfg     Config
	logger  *slog.Logger
	http    *httpx.LazyClient
	shuffle func(n int, swap func(i, j int))
}

// New returns a generator. An empty API key is accepted here and reported on
// the first GenerateArticle call, so the daemon can start unconfigured.
func New(cfg Config, logger *slog.Logger) *Generator {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	cfg.ImageBaseURL = strings.TrimRight(cfg.ImageBaseURL, "/")
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = DefaultImageBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:     cfg,
		logger:  logger,
		http:    &httpx.LazyClient{Timeout: cfg.Timeout},
		shuffle: defaultShuffle,
	}
}

// GenerateArticle writes an article of roughly length characters about category.
func (g *Generator) GenerateArticle(ctx context.Context, category string, length int) (Article, error) {
	if length <= 0 {
		length = DefaultLength
	}
	keywords := g.SuggestKeywords(category)
	raw, err := g.complete(ctx, articlePrompt(category, length, keywords))
	if err != nil {
		return Article{}, fmt.Errorf("generate article for %q: %w", category, err)
	}
	art, err := optimize(raw, keywords)
	if err != nil {
		return Article{}, fmt.Errorf("process article for %q: %w", category, err)
	}
	if art.Title == "" {
		art.Title = category
	}
	art.Images = g.Images(art.Title, g.cfg.MaxImages)
	g.logger.Info("article generated", "category", category, "title", art.Title, "chars", len(art.Content))
	return art, nil
}

// Images returns count placeholder image URLs seeded from title.
func (g *Generator) Images(title string, count int) []string {
	seed := slug(title)
	if seed == "" {
		seed = "autopinner"
	}
	out := make([]string, 0, count)
	for i := range count {
		out = append(out, fmt.Sprintf("%s/%s-%d/800/600", g.cfg.ImageBaseURL, seed, i+1))
	}
	return out
}

// Close releases idle connections to the completion API.
func (g *Generator) Close() error {
	return g.http.Close()
}

func articlePrompt(category string, length int, keywords []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a comprehensive article about %s.\n\n", category)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- Length: about %d characters\n", length)
	b.WriteString("- Use HTML structure with one <h1> title, <h2>/<h3> sections and <p> paragraphs\n")
	b.WriteString("- Natural keyword integration\n")
	b.WriteString("- Engaging introduction and conclusion\n")
	b.WriteString("- Return only the HTML, no markdown\n")
	if len(keywords) > 0 {
		fmt.Fprintf(&b, "\nKeywords to include: %s\n", strings.Join(keywords, ", "))
	}
	return b.String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	if g.cfg.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	payload, err := json.Marshal(chatRequest{
		Model:       g.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: %d %s", ErrUnexpectedAPI, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := stripFence(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// stripFence removes a surrounding ``` block some models wrap HTML in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
