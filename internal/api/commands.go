package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/techdigest/internal/embedding"
	"github.com/kalambet/techdigest/internal/news"
	"github.com/kalambet/techdigest/internal/subscription"
)

type messageResponse struct {
	Message string `json:"message"`
}

type registerResponse struct {
	Message string    `json:"message"`
	Created bool      `json:"created"`
	User    news.User `json:"user"`
}

func handleRegister(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, created, err := deps.Subscriptions.Register(r.Context(), userParam(r))
		if err != nil {
			commandError(w, err)
			return
		}
		resp := registerResponse{Created: created, User: u}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
			resp.Message = "Registered! 🎉 Add a theme with `/theme add <name>` to start receiving digests."
		} else {
			resp.Message = "You are already registered. Add themes with `/theme add`."
		}
		writeJSON(w, code, resp)
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Subscriptions.Status(r.Context(), userParam(r))
		if err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleListThemes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		themes, err := deps.Subscriptions.ListThemes(r.Context(), userParam(r))
		if err != nil {
			commandError(w, err)
			return
		}
		if themes == nil {
			themes = []news.Theme{}
		}
		writeJSON(w, http.StatusOK, themes)
	}
}

func handleAddTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		t, err := deps.Subscriptions.AddTheme(r.Context(), userParam(r), req.Name)
		if err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleRemoveTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := pathParam(r, "name")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid theme name")
			return
		}
		if err := deps.Subscriptions.RemoveTheme(r.Context(), userParam(r), name); err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "Theme removed. 🗑️"})
	}
}

func handleSetCount(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Count int `json:"count"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		u, err := deps.Subscriptions.SetArticleCount(r.Context(), userParam(r), req.Count)
		if err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func handleToggle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := deps.Subscriptions.ToggleActive(r.Context(), userParam(r))
		if err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// handleRequestDelivery is the synchronous half of deliver-now. The digest
// itself is sent by the job worker.
func handleRequestDelivery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChannelID string `json:"channel_id"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		token, err := deps.Subscriptions.RequestDelivery(r.Context(), userParam(r), req.ChannelID)
		if err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"token":   token,
			"message": "📬 Preparing your digest...",
		})
	}
}

func handleDeliveryStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Subscriptions.GetDeliveryStatus(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			commandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// commandError maps a subscription error to a status code and the message
// shown to the user.
func commandError(w http.ResponseWriter, err error) {
	msg := subscription.ErrorMessage(err)
	switch {
	case errors.Is(err, subscription.ErrNotRegistered),
		errors.Is(err, subscription.ErrThemeNotFound),
		errors.Is(err, subscription.ErrUnknownRequest):
		httpError(w, http.StatusNotFound, "not_found", "%s", msg)
	case errors.Is(err, subscription.ErrThemeExists),
		errors.Is(err, subscription.ErrThemeLimit),
		errors.Is(err, subscription.ErrNoThemes):
		httpError(w, http.StatusConflict, "conflict", "%s", msg)
	case errors.Is(err, subscription.ErrInvalidTheme),
		errors.Is(err, subscription.ErrInvalidCount),
		errors.Is(err, subscription.ErrInvalidUser):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
	case embedding.KindOf(err) == embedding.KindQuota:
		httpError(w, http.StatusServiceUnavailable, "quota_exceeded", "The embedding service is over quota. Please try again later.")
	case embedding.KindOf(err) == embedding.KindRateLimit:
		httpError(w, http.StatusTooManyRequests, "rate_limited", "The embedding service is busy. Please try again in a minute.")
	default:
		slog.Error("command failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%s", msg)
	}
}

// pathParam returns the decoded value of a route parameter. chi matches
// against RawPath when it is set, leaving parameters escaped; otherwise they
// come from the already decoded Path and must not be unescaped again.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func userParam(r *http.Request) string {
	v, err := pathParam(r, "externalID")
	if err != nil {
		return chi.URLParam(r, "externalID")
	}
	return v
}
