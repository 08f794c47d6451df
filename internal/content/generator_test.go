package content

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleArticle = "```html\n<h1>Spring  Hiking Tips</h1>\n<p>Trails wake up in spring.</p>\n<p>Pack layers and water.</p>\n```"

func noShuffle(int, func(i, j int)) {}

func newTestGenerator(t *testing.T, h http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g := New(Config{APIKey: "key", APIURL: srv.URL, ImageBaseURL: "https://img.example/seed/", MaxImages: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.http.MaxRetries = -1
	g.shuffle = noShuffle
	t.Cleanup(func() { g.Close() })
	return g
}

func completion(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}
}

func TestGenerateArticle(t *testing.T) {
	var got chatRequest
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		completion(sampleArticle)(w, r)
	})

	art, err := g.GenerateArticle(context.Background(), "Hiking", 800)
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "article about Hiking.")
	assert.Contains(t, got.Messages[0].Content, "about 800 characters")

	assert.Equal(t, "Spring Hiking Tips", art.Title)
	assert.Equal(t, "Trails wake up in spring.", art.MetaDescription)
	assert.Equal(t, []string{
		"https://img.example/seed/spring-hiking-tips-1/800/600",
		"https://img.example/seed/spring-hiking-tips-2/800/600",
	}, art.Images)
	assert.Len(t, art.Keywords, maxKeywords)
	assert.Contains(t, art.Content, "<p>best hiking is an important aspect. ")
	assert.NotContains(t, art.Content, "```")
}

func TestGenerateArticleRequiresKey(t *testing.T) {
	g := New(Config{}, nil)
	_, err := g.GenerateArticle(context.Background(), "Travel", 0)
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestGenerateArticleAPIErrors(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, "no credits")
	})
	_, err := g.GenerateArticle(context.Background(), "Travel", 0)
	require.ErrorIs(t, err, ErrUnexpectedAPI)

	g = newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	})
	_, err = g.GenerateArticle(context.Background(), "Travel", 0)
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOptimizeKeepsPresentKeywords(t *testing.T) {
	art, err := optimize("<h1>T</h1><p>one</p><p>two with travel tips</p>", []string{"travel tips", "budget"})
	require.NoError(t, err)
	assert.Equal(t, "<h1>T</h1><p>one</p><p>budget is an important aspect. two with travel tips</p>", art.Content)
}

func TestOptimizeSingleParagraphUnchanged(t *testing.T) {
	art, err := optimize("<p>only</p>", []string{"missing"})
	require.NoError(t, err)
	assert.Equal(t, "<p>only</p>", art.Content)
	assert.Empty(t, art.Title)
}

func TestMetaDescriptionTruncates(t *testing.T) {
	long := strings.Repeat("a", 200)
	art, err := optimize("<h1>T</h1><p>"+long+"</p>", nil)
	require.NoError(t, err)
	assert.Len(t, art.MetaDescription, metaDescriptionLength)
	assert.True(t, strings.HasSuffix(art.MetaDescription, "..."))
}

func TestMetaDescriptionWithoutParagraphs(t *testing.T) {
	art, err := optimize("<h1>Title</h1>\nSecond line", nil)
	require.NoError(t, err)
	assert.Equal(t, "Title", art.MetaDescription)
}

func TestSuggestKeywords(t *testing.T) {
	g := New(Config{}, nil)
	g.shuffle = noShuffle

	kw := g.SuggestKeywords("Home Decor")
	assert.Equal(t, []string{
		"best home", "best decor", "top home", "top decor", "guide home",
		"guide decor", "tips home", "tips decor", "how to home", "how to decor",
	}, kw)
	assert.Empty(t, g.SuggestKeywords("   "))

	g.shuffle = defaultShuffle
	assert.Len(t, g.SuggestKeywords("x"), maxKeywords)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "spring-hiking-tips", slug("  Spring Hiking: Tips!"))
	assert.Equal(t, "", slug("!!!"))
}
