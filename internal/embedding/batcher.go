package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/techdigest/internal/news"
)

// BatchSize is the number of texts sent per provider call.
const BatchSize = 50

// StopReason records why a batching run ended before the last batch.
type StopReason int

const (
	StopNone StopReason = iota
	StopQuotaExceeded
	StopRateLimited
)

func (r StopReason) String() string {
	switch r {
	case StopQuotaExceeded:
		return "quota_exceeded"
	case StopRateLimited:
		return "rate_limited"
	default:
		return "none"
	}
}

// BatchResult holds the articles embedded before the run finished or stopped.
type BatchResult struct {
	Embedded       []news.Article
	Stop           StopReason
	Err            error // the provider error that caused Stop
	DroppedBatches int
}

// Batcher embeds articles in sequential fixed-size batches.
type Batcher struct {
	provider Provider
	size     int
}

// NewBatcher returns a Batcher that calls p with BatchSize texts at a time.
func NewBatcher(p Provider) *Batcher {
	return &Batcher{provider: p, size: BatchSize}
}

// ArticleText is the text embedded for an article.
func ArticleText(a news.RawArticle) string {
	return a.Title + " " + a.Description
}

// EmbedArticles embeds articles batch by batch. A quota or rate-limit error
// halts the run and returns what was embedded so far. Any other batch error
// drops that batch and moves on.
func (b *Batcher) EmbedArticles(ctx context.Context, articles []news.RawArticle) BatchResult {
	var res BatchResult
	total := (len(articles) + b.size - 1) / b.size

	for start, n := 0, 1; start < len(articles); start, n = start+b.size, n+1 {
		batch := articles[start:min(start+b.size, len(articles))]

		texts := make([]string, len(batch))
		for i, a := range batch {
			texts[i] = ArticleText(a)
		}

		vecs, err := b.provider.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) != len(batch) {
			err = &Error{Kind: KindOther, Err: fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(batch))}
		}
		if err != nil {
			switch KindOf(err) {
			case KindQuota:
				slog.Error("embedding quota exceeded, stopping", "batch", n, "of", total, "error", err)
				res.Stop, res.Err = StopQuotaExceeded, err
				return res
			case KindRateLimit:
				slog.Warn("embedding rate limited, stopping", "batch", n, "of", total, "error", err)
				res.Stop, res.Err = StopRateLimited, err
				return res
			default:
				slog.Warn("embedding batch failed, dropping", "batch", n, "of", total, "articles", len(batch), "error", err)
				res.DroppedBatches++
				continue
			}
		}

		for i, a := range batch {
			res.Embedded = append(res.Embedded, news.Article{RawArticle: a, Embedding: vecs[i]})
		}
		slog.Debug("embedded batch", "batch", n, "of", total, "articles", len(batch))
	}
	return res
}
