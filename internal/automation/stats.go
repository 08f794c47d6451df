package automation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"autopinner/internal/store"
)

// trendWindow is how many recent pins AnalyzeTrends looks at.
const trendWindow = 500

// KeywordCount is a keyword and how many recent pins carry it.
type KeywordCount struct {
	Keyword string
	Count   int
}

// AnalyzeTrends ranks the keywords of recently shared and published pins.
func (t *Tasks) AnalyzeTrends(ctx context.Context) error {
	t.progress(TaskAnalyzeTrends, 10, "Analyzing Pinterest trends")
	var pins []store.Pin
	for _, status := range []string{store.PinStatusShared, store.PinStatusPublished} {
		batch, err := t.deps.Store.ListPins(ctx, store.PinFilter{Status: status, Limit: trendWindow})
		if err != nil {
			return fmt.Errorf("list %s pins: %w", status, err)
		}
		pins = append(pins, batch...)
	}
	top := topKeywords(pins, 10)
	for _, kc := range top {
		t.logger.Info("trending keyword", "keyword", kc.Keyword, "pins", kc.Count)
	}
	t.progress(TaskAnalyzeTrends, 100, "Trend analysis completed: %d pins, %d keywords", len(pins), len(top))
	return nil
}

func topKeywords(pins []store.Pin, n int) []KeywordCount {
	counts := make(map[string]int)
	for _, p := range pins {
		seen := make(map[string]bool)
		for _, kw := range strings.Split(p.Keywords, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			counts[kw]++
		}
	}
	out := make([]KeywordCount, 0, len(counts))
	for kw, c := range counts {
		out = append(out, KeywordCount{Keyword: kw, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// CollectStats logs the pin pipeline counts.
func (t *Tasks) CollectStats(ctx context.Context) error {
	t.progress(TaskCollectStats, 10, "Collecting statistics")
	counts, err := t.deps.Store.CountPinsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count pins: %w", err)
	}
	statuses := []string{store.PinStatusPending, store.PinStatusPublished, store.PinStatusShared, store.PinStatusFailed}
	parts := make([]string, 0, len(statuses))
	attrs := make([]any, 0, 2*len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
		attrs = append(attrs, s, counts[s])
	}
	t.logger.Info("pin statistics", attrs...)
	t.progress(TaskCollectStats, 100, "Statistics collected: %s", strings.Join(parts, " "))
	return nil
}
