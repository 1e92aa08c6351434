// Package ingest runs the fetch, filter, embed and save stages of an
// ingestion run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/techdigest/internal/embedding"
	"github.com/kalambet/techdigest/internal/news"
)

var (
	// ErrQuotaExceeded means the embedding provider refused work until
	// billing is resolved. Articles embedded before the stop were saved.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrRateLimited means the provider throttled the run. Retry later.
	ErrRateLimited = errors.New("embedding rate limited")
)

// Fetcher returns raw articles from all sources.
type Fetcher interface {
	FetchAll(ctx context.Context) []news.RawArticle
}

// Store is the subset of storage used by ingestion.
type Store interface {
	GetExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	SaveArticles(ctx context.Context, articles []news.Article) (int, error)
}

// Embedder embeds articles in batches.
type Embedder interface {
	EmbedArticles(ctx context.Context, articles []news.RawArticle) embedding.BatchResult
}

// Result summarizes one ingestion run.
type Result struct {
	Fetched  int                  `json:"fetched"`
	New      int                  `json:"new"`
	Embedded int                  `json:"embedded"`
	Saved    int                  `json:"saved"`
	Stop     embedding.StopReason `json:"-"`
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	fetcher  Fetcher
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline with the given dependencies.
func NewPipeline(f Fetcher, s Store, e Embedder) *Pipeline {
	return &Pipeline{fetcher: f, store: s, embedder: e, logger: slog.Default()}
}

// Run fetches, filters out known URLs, embeds and saves new articles.
//
// Store failures abort the run. A quota or rate-limit stop still saves what
// was embedded and then returns ErrQuotaExceeded or ErrRateLimited with the
// partial Result.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	raw := p.fetcher.FetchAll(ctx)
	res.Fetched = len(raw)
	if len(raw) == 0 {
		p.logger.Info("ingest: no articles fetched")
		return res, nil
	}

	urls := make([]string, len(raw))
	for i, a := range raw {
		urls[i] = a.URL
	}
	existing, err := p.store.GetExistingURLs(ctx, urls)
	if err != nil {
		return res, fmt.Errorf("looking up existing urls: %w", err)
	}

	fresh := FilterNew(raw, existing)
	res.New = len(fresh)
	if len(fresh) == 0 {
		p.logger.Info("ingest: nothing new", "fetched", res.Fetched)
		return res, nil
	}

	batch := p.embedder.EmbedArticles(ctx, fresh)
	res.Embedded = len(batch.Embedded)
	res.Stop = batch.Stop

	if len(batch.Embedded) > 0 {
		saved, err := p.store.SaveArticles(ctx, batch.Embedded)
		if err != nil {
			return res, fmt.Errorf("saving articles: %w", err)
		}
		res.Saved = saved
	}

	p.logger.Info("ingest: run finished",
		"fetched", res.Fetched,
		"new", res.New,
		"embedded", res.Embedded,
		"saved", res.Saved,
		"dropped_batches", batch.DroppedBatches,
		"stop", batch.Stop.String(),
		"duration", time.Since(start),
	)

	switch batch.Stop {
	case embedding.StopQuotaExceeded:
		return res, fmt.Errorf("%w: %v", ErrQuotaExceeded, batch.Err)
	case embedding.StopRateLimited:
		return res, fmt.Errorf("%w: %v", ErrRateLimited, batch.Err)
	}
	return res, nil
}

// FilterNew returns the articles whose URL is not in existing, in input order.
func FilterNew(raw []news.RawArticle, existing map[string]struct{}) []news.RawArticle {
	out := make([]news.RawArticle, 0, len(raw))
	for _, a := range raw {
		if _, ok := existing[a.URL]; !ok {
			out = append(out, a)
		}
	}
	return out
}
