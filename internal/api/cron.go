package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/techdigest/internal/ingest"
)

func handleCronFetch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Ingest.Run(r.Context())
		switch {
		case errors.Is(err, ingest.ErrQuotaExceeded):
			httpError(w, http.StatusServiceUnavailable, "quota_exceeded",
				"embedding quota exceeded after saving %d articles; check provider billing", res.Saved)
			return
		case errors.Is(err, ingest.ErrRateLimited):
			w.Header().Set("Retry-After", "60")
			httpError(w, http.StatusTooManyRequests, "rate_limited",
				"embedding rate limited after saving %d articles; retry later", res.Saved)
			return
		case err != nil:
			slog.Error("cron fetch failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type deliverResponse struct {
	Message string        `json:"message"`
	Ingest  ingest.Result `json:"ingest"`
	Users   int           `json:"users"`
	Sent    int           `json:"delivered"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Errors  int           `json:"errors"`
}

// handleCronDeliver refreshes articles and then delivers. Ingestion failures
// are logged and never block delivery of what is already stored.
func handleCronDeliver(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Ingest.Run(r.Context())
		if err != nil {
			slog.Warn("cron deliver: ingestion did not finish", "saved", res.Saved, "error", err)
		} else {
			slog.Info("cron deliver: ingestion finished", "saved", res.Saved)
		}

		sum, err := deps.Delivery.DeliverAll(r.Context())
		if err != nil {
			slog.Error("cron deliver failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Internal server error")
			return
		}

		msg := "Delivery completed"
		if sum.Users == 0 {
			msg = "No active users"
		}
		writeJSON(w, http.StatusOK, deliverResponse{
			Message: msg,
			Ingest:  res,
			Users:   sum.Users,
			Sent:    sum.Delivered,
			Skipped: sum.Skipped,
			Failed:  sum.SendFailed,
			Errors:  sum.Errors,
		})
	}
}
