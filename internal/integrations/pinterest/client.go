// Package pinterest shares pins through the Pinterest v5 API.
package pinterest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"autopinner/internal/integrations/httpx"
)

const (
	DefaultAPIURL        = "https://api.pinterest.com/v5"
	DefaultBoardCacheTTL = 10 * time.Minute

	boardsKey = "boards"
)

var (
	ErrMissingToken  = errors.New("pinterest access token is required")
	ErrNoBoards      = errors.New("no pinterest boards available")
	ErrBoardNotFound = errors.New("pinterest board not found")
	ErrMissingImage  = errors.New("pin requires an image url")
	ErrUnexpectedAPI = errors.New("unexpected pinterest response")
)

// Config holds API access and pacing. RequestsPerMinute of zero disables the limiter.
type Config struct {
	APIURL            string
	AccessToken       string
	RequestsPerMinute int
	BoardCacheTTL     time.Duration
	Timeout           time.Duration
}

// Board is a Pinterest board.
type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PinRequest describes a pin to create.
type PinRequest struct {
	BoardID     string
	Title       string
	Description string
	ImageURL    string
	Link        string
}

// CreatedPin is the API's answer to a successful create.
type CreatedPin struct {
	ID  string
	URL string
}

// Client is a Pinterest API client. Board listings are cached.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	http    *httpx.LazyClient
	limiter *rate.Limiter
	boards  *expirable.LRU[string, []Board]
	pick    func(n int) int
}

// New returns a client for cfg.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, ErrMissingToken
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.BoardCacheTTL <= 0 {
		cfg.BoardCacheTTL = DefaultBoardCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &httpx.LazyClient{Timeout: cfg.Timeout},
		limiter: limiter,
		boards:  expirable.NewLRU[string, []Board](1, nil, cfg.BoardCacheTTL),
		pick:    rand.IntN,
	}, nil
}

type boardPage struct {
	Items    []Board `json:"items"`
	Bookmark string  `json:"bookmark"`
}

// ListBoards returns the account's boards, served from cache while fresh.
func (c *Client) ListBoards(ctx context.Context) ([]Board, error) {
	if boards, ok := c.boards.Get(boardsKey); ok {
		return boards, nil
	}
	var (
		all      []Board
		bookmark string
	)
	for {
		path := "/boards?page_size=100"
		if bookmark != "" {
			path += "&bookmark=" + bookmark
		}
		var page boardPage
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("list boards: %w", err)
		}
		all = append(all, page.Items...)
		if page.Bookmark == "" {
			break
		}
		bookmark = page.Bookmark
	}
	c.boards.Add(boardsKey, all)
	return all, nil
}

// RandomBoard returns the id of a randomly chosen board.
func (c *Client) RandomBoard(ctx context.Context) (string, error) {
	boards, err := c.ListBoards(ctx)
	if err != nil {
		return "", err
	}
	if len(boards) == 0 {
		return "", ErrNoBoards
	}
	return boards[c.pick(len(boards))].ID, nil
}

// BoardID resolves a board name, case-insensitively, to its id.
func (c *Client) BoardID(ctx context.Context, name string) (string, error) {
	boards, err := c.ListBoards(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range boards {
		if strings.EqualFold(b.Name, name) || b.ID == name {
			return b.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBoardNotFound, name)
}

type mediaSource struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
}

type createPinBody struct {
	BoardID     string      `json:"board_id"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Link        string      `json:"link,omitempty"`
	MediaSource mediaSource `json:"media_source"`
}

// CreatePin creates a pin from an image URL.
func (c *Client) CreatePin(ctx context.Context, req PinRequest) (CreatedPin, error) {
	if req.ImageURL == "" {
		return CreatedPin{}, ErrMissingImage
	}
	body := createPinBody{
		BoardID:     req.BoardID,
		Title:       truncate(req.Title, 100),
		Description: truncate(req.Description, 500),
		Link:        req.Link,
		MediaSource: mediaSource{SourceType: "image_url", URL: req.ImageURL},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/pins", body, &out); err != nil {
		return CreatedPin{}, fmt.Errorf("create pin: %w", err)
	}
	c.logger.Info("pin created", "pin_id", out.ID, "board", req.BoardID)
	return CreatedPin{ID: out.ID, URL: "https://www.pinterest.com/pin/" + out.ID + "/"}, nil
}

// Close drops cached boards and idle connections.
func (c *Client) Close() error {
	c.boards.Purge()
	return c.http.Close()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

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
