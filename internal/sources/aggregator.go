// Package sources fetches raw articles from the configured feeds.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/techdigest/internal/config"
	"github.com/kalambet/techdigest/internal/news"
)

const userAgent = "techdigest/1.0 (+https://github.com/kalambet/techdigest)"

// Aggregator fetches every configured source concurrently.
type Aggregator struct {
	sources []config.Source
	client  *http.Client
}

// NewAggregator creates an Aggregator. A nil client gets a 15 second timeout.
func NewAggregator(sources []config.Source, client *http.Client) *Aggregator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Aggregator{sources: sources, client: client}
}

// FetchAll returns the union of every source's articles. A source that fails
// is logged and contributes nothing. Articles from one source keep feed order;
// sources are concatenated in configuration order.
func (a *Aggregator) FetchAll(ctx context.Context) []news.RawArticle {
	results := make([][]news.RawArticle, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			items, err := a.fetch(ctx, src)
			if err != nil {
				slog.Warn("source fetch failed", "source", src.ID, "url", src.URL, "error", err)
				return nil
			}
			slog.Debug("source fetched", "source", src.ID, "articles", len(items))
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var all []news.RawArticle
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func (a *Aggregator) fetch(ctx context.Context, src config.Source) ([]news.RawArticle, error) {
	parser := gofeed.NewParser()
	parser.Client = a.client
	parser.UserAgent = userAgent

	feed, err := parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", src.URL, err)
	}

	out := make([]news.RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		if art, ok := convertItem(item, news.Source(src.ID)); ok {
			out = append(out, art)
		}
	}
	return out, nil
}

// convertItem maps a feed entry onto a RawArticle, rejecting entries
// without a link or title.
func convertItem(item *gofeed.Item, source news.Source) (news.RawArticle, bool) {
	if item == nil {
		return news.RawArticle{}, false
	}
	link := strings.TrimSpace(item.Link)
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return news.RawArticle{}, false
	}

	description := StripHTML(item.Description)
	if description == "" {
		description = StripHTML(item.Content)
	}

	var published time.Time
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	return news.RawArticle{
		URL:         link,
		Title:       title,
		Description: Truncate(description, news.DescriptionLimit),
		Source:      source,
		PublishedAt: published,
	}, true
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
