package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/techdigest/internal/config"
	"github.com/kalambet/techdigest/internal/delivery"
	"github.com/kalambet/techdigest/internal/discord"
	"github.com/kalambet/techdigest/internal/embedding"
	"github.com/kalambet/techdigest/internal/ingest"
	"github.com/kalambet/techdigest/internal/jobs"
	"github.com/kalambet/techdigest/internal/sources"
	"github.com/kalambet/techdigest/internal/storage"
	"github.com/kalambet/techdigest/internal/subscription"
)

// app holds the wired components shared by serve, mcp and the local
// fetch/deliver commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	discord  *discord.Client
	pipeline *ingest.Pipeline
	tracker  *delivery.Tracker
	svc      *subscription.Service
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	srcs, err := config.LoadSources(cfg.Sources.File)
	if err != nil {
		return nil, err
	}

	provider, err := embedding.New(ctx, embedding.Options{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
		Timeout:  cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring embeddings: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	if cfg.Discord.BotToken == "" {
		slog.Warn("discord bot token is not configured; deliveries will fail to send")
	}
	dc := discord.NewClient(cfg.Discord.BotToken, cfg.Discord.APIBaseURL)

	agg := sources.NewAggregator(srcs, &http.Client{Timeout: cfg.Sources.FetchTimeout})
	tracker := delivery.NewTracker(store, dc).WithSourceLabels(config.SourceLabels(srcs))

	return &app{
		cfg:      cfg,
		store:    store,
		discord:  dc,
		pipeline: ingest.NewPipeline(agg, store, embedding.NewBatcher(provider)),
		tracker:  tracker,
		svc:      subscription.NewService(store, provider, tracker),
	}, nil
}

func (a *app) worker() *jobs.Worker {
	return jobs.NewWorker(a.store, a.svc, a.discord, a.cfg.Delivery.PollInterval, a.cfg.Delivery.AsyncTimeout)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}
