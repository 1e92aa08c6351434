// Package api exposes the cron triggers, on-demand delivery and the user
// command surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/techdigest/internal/delivery"
	"github.com/kalambet/techdigest/internal/ingest"
	"github.com/kalambet/techdigest/internal/subscription"
)

const maxBodySize = 1 << 20

// Ingester runs one ingestion pass.
type Ingester interface {
	Run(ctx context.Context) (ingest.Result, error)
}

// BulkDeliverer delivers to every active user.
type BulkDeliverer interface {
	DeliverAll(ctx context.Context) (delivery.Summary, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Ingest        Ingester
	Delivery      BulkDeliverer
	Subscriptions *subscription.Service
	Store         Pinger // optional; /health skips the check when nil
	Secret        string
}

// NewHandler builds the router. Everything except /health requires the
// shared bearer secret.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Secret))

		r.Get("/cron/fetch", handleCronFetch(deps))
		r.Post("/cron/fetch", handleCronFetch(deps))
		r.Get("/cron/deliver", handleCronDeliver(deps))
		r.Post("/cron/deliver", handleCronDeliver(deps))

		r.Post("/users/{externalID}/deliveries", handleRequestDelivery(deps))
		r.Get("/deliveries/{token}", handleDeliveryStatus(deps))

		r.Post("/users/{externalID}", handleRegister(deps))
		r.Get("/users/{externalID}", handleStatus(deps))
		r.Get("/users/{externalID}/themes", handleListThemes(deps))
		r.Post("/users/{externalID}/themes", handleAddTheme(deps))
		r.Delete("/users/{externalID}/themes/{name}", handleRemoveTheme(deps))
		r.Put("/users/{externalID}/article-count", handleSetCount(deps))
		r.Post("/users/{externalID}/toggle", handleToggle(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store != nil {
			if err := deps.Store.Ping(r.Context()); err != nil {
				slog.Error("health check failed", "error", err)
				httpError(w, http.StatusServiceUnavailable, "api_error", "store unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
