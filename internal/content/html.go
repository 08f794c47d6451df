package content

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var keywordPrefixes = []string{
	"best", "top", "guide", "tips", "how to", "why",
	"what is", "examples", "tutorial", "review", "comparison", "vs",
}

const maxKeywords = 10

// SuggestKeywords combines common search prefixes with the category's words
// and returns a random selection of at most ten.
func (g *Generator) SuggestKeywords(category string) []string {
	words := strings.Fields(strings.ToLower(category))
	if len(words) == 0 {
		return nil
	}
	pool := make([]string, 0, len(keywordPrefixes)*len(words)+len(words))
	for _, prefix := range keywordPrefixes {
		for _, w := range words {
			pool = append(pool, prefix+" "+w)
		}
	}
	pool = append(pool, words...)
	g.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > maxKeywords {
		pool = pool[:maxKeywords]
	}
	return pool
}

func defaultShuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

// optimize extracts the title and meta description from raw HTML and works
// missing keywords into the second paragraph.
func optimize(raw string, keywords []string) (Article, error) {
	nodes, err := html.ParseFragment(strings.NewReader(raw), bodyContext)
	if err != nil {
		return Article{}, fmt.Errorf("parse html: %w", err)
	}

	var (
		title      string
		paragraphs []*html.Node
	)
	for _, n := range nodes {
		walk(n, func(n *html.Node) {
			if n.Type != html.ElementNode {
				return
			}
			switch n.DataAtom {
			case atom.H1:
				if title == "" {
					title = collapse(textOf(n))
				}
			case atom.P:
				paragraphs = append(paragraphs, n)
			}
		})
	}

	meta := metaDescription(nodes, paragraphs)

	var fullText strings.Builder
	for _, n := range nodes {
		fullText.WriteString(textOf(n))
	}
	lower := strings.ToLower(fullText.String())
	if len(paragraphs) > 1 {
		target := paragraphs[1]
		for i := len(keywords) - 1; i >= 0; i-- {
			kw := keywords[i]
			if kw == "" || strings.Contains(lower, strings.ToLower(kw)) {
				continue
			}
			target.InsertBefore(&html.Node{Type: html.TextNode, Data: kw + " is an important aspect. "}, target.FirstChild)
		}
	}

	var out strings.Builder
	for _, n := range nodes {
		if err := html.Render(&out, n); err != nil {
			return Article{}, fmt.Errorf("render html: %w", err)
		}
	}
	return Article{
		Title:           title,
		Content:         out.String(),
		MetaDescription: meta,
		Keywords:        keywords,
	}, nil
}

// metaDescription uses the first paragraph, or the first line of text when the
// article has none, cut to 160 characters.
func metaDescription(nodes []*html.Node, paragraphs []*html.Node) string {
	var text string
	for _, p := range paragraphs {
		if text = collapse(textOf(p)); text != "" {
			break
		}
	}
	if text == "" {
		var all strings.Builder
		for _, n := range nodes {
			all.WriteString(textOf(n))
		}
		for _, line := range strings.Split(all.String(), "\n") {
			if text = collapse(line); text != "" {
				break
			}
		}
	}
	r := []rune(text)
	if len(r) > metaDescriptionLength {
		text = string(r[:metaDescriptionLength-3]) + "..."
	}
	return text
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if r < unicode.MaxASCII {
				b.WriteRune(r)
				dash = false
			}
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.TrimRight(b.String(), "-")
}
