// Package delivery sends each user a digest of matching articles and records
// what was sent so no article reaches the same user twice.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/techdigest/internal/matching"
	"github.com/kalambet/techdigest/internal/news"
)

// Store is the subset of storage used for delivery.
type Store interface {
	GetTodayArticles(ctx context.Context, now time.Time) ([]news.Article, error)
	GetDeliveredArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	MarkAsDelivered(ctx context.Context, userID string, articleIDs []string) error
	GetActiveUsers(ctx context.Context) ([]news.User, error)
	GetUserThemes(ctx context.Context, userID string) ([]news.Theme, error)
}

// Sender delivers a whole message or nothing.
type Sender interface {
	SendDirectMessage(ctx context.Context, recipientID, text string) bool
}

// Tracker runs deliveries against a Store and a Sender.
type Tracker struct {
	store  Store
	sender Sender
	labels map[news.Source]string
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store Store, sender Sender) *Tracker {
	return &Tracker{store: store, sender: sender, now: time.Now, logger: slog.Default()}
}

// WithSourceLabels sets the display names used for sources in digests.
func (t *Tracker) WithSourceLabels(labels map[news.Source]string) *Tracker {
	t.labels = labels
	return t
}

// Deliver sends user one digest built from today's undelivered articles.
// Callers skip inactive users and users without themes.
func (t *Tracker) Deliver(ctx context.Context, user news.User, themes []news.Theme) (Outcome, error) {
	articles, err := t.store.GetTodayArticles(ctx, t.now())
	if err != nil {
		return Outcome{}, fmt.Errorf("loading today's articles: %w", err)
	}
	return t.deliver(ctx, user, themes, articles)
}

func (t *Tracker) deliver(ctx context.Context, user news.User, themes []news.Theme, today []news.Article) (Outcome, error) {
	if len(today) == 0 {
		return Outcome{Status: NoArticlesAvailable}, nil
	}

	delivered, err := t.store.GetDeliveredArticleIDs(ctx, user.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading delivered articles: %w", err)
	}

	undelivered := make([]news.Article, 0, len(today))
	for _, a := range today {
		if _, ok := delivered[a.ID]; !ok {
			undelivered = append(undelivered, a)
		}
	}
	if len(undelivered) == 0 {
		return Outcome{Status: AllAlreadyDelivered}, nil
	}

	matched := matching.Match(themes, undelivered, user.ArticleCount)
	t.logger.Debug("delivery: matched", "user", user.ExternalID, "candidates", len(undelivered), "matched", len(matched))
	if len(matched) == 0 {
		return Outcome{Status: NoMatch}, nil
	}

	if !t.sender.SendDirectMessage(ctx, user.ExternalID, FormatDigest(matched, t.labels)) {
		return Outcome{Status: SendFailed}, nil
	}

	ids := make([]string, len(matched))
	for i, a := range matched {
		ids[i] = a.ID
	}
	if err := t.store.MarkAsDelivered(ctx, user.ID, ids); err != nil {
		return Outcome{}, fmt.Errorf("recording delivery: %w", err)
	}
	return Outcome{Status: Delivered, Count: len(matched)}, nil
}

// Summary counts what a bulk run did. Users counts active users seen.
type Summary struct {
	Users      int `json:"users"`
	Delivered  int `json:"delivered"`
	Articles   int `json:"articles"`
	Skipped    int `json:"skipped"`
	SendFailed int `json:"failed"`
	Errors     int `json:"errors"`
}

// DeliverAll runs Deliver for every active user in store order. A failure
// for one user is logged and counted and never stops the others. Only
// failures to list users or load today's articles are returned.
func (t *Tracker) DeliverAll(ctx context.Context) (Summary, error) {
	var sum Summary

	users, err := t.store.GetActiveUsers(ctx)
	if err != nil {
		return sum, fmt.Errorf("loading active users: %w", err)
	}
	sum.Users = len(users)
	if len(users) == 0 {
		t.logger.Info("delivery: no active users")
		return sum, nil
	}

	today, err := t.store.GetTodayArticles(ctx, t.now())
	if err != nil {
		return sum, fmt.Errorf("loading today's articles: %w", err)
	}
	if len(today) == 0 {
		t.logger.Info("delivery: no articles today", "users", len(users))
		return sum, nil
	}

	for _, u := range users {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		themes, err := t.store.GetUserThemes(ctx, u.ID)
		if err != nil {
			t.logger.Error("delivery: loading themes failed", "user", u.ExternalID, "error", err)
			sum.Errors++
			continue
		}
		if len(themes) == 0 {
			t.logger.Debug("delivery: user has no themes", "user", u.ExternalID)
			sum.Skipped++
			continue
		}

		out, err := t.deliver(ctx, u, themes, today)
		if err != nil {
			t.logger.Error("delivery: user failed", "user", u.ExternalID, "error", err)
			sum.Errors++
			continue
		}

		switch out.Status {
		case Delivered:
			sum.Delivered++
			sum.Articles += out.Count
		case SendFailed:
			t.logger.Warn("delivery: send failed", "user", u.ExternalID)
			sum.SendFailed++
		default:
			t.logger.Debug("delivery: nothing sent", "user", u.ExternalID, "status", out.Status.String())
			sum.Skipped++
		}
	}

	t.logger.Info("delivery: run finished",
		"users", sum.Users,
		"delivered", sum.Delivered,
		"articles", sum.Articles,
		"skipped", sum.Skipped,
		"send_failed", sum.SendFailed,
		"errors", sum.Errors,
	)
	return sum, nil
}
