// Package subscription implements the user-facing commands: registration,
// theme management, settings and on-demand delivery.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/techdigest/internal/delivery"
	"github.com/kalambet/techdigest/internal/jobs"
	"github.com/kalambet/techdigest/internal/news"
	"github.com/kalambet/techdigest/internal/storage"
)

// MaxThemeNameLength bounds theme names in runes.
const MaxThemeNameLength = 100

var (
	ErrNotRegistered  = errors.New("user is not registered")
	ErrThemeExists    = errors.New("theme already exists")
	ErrThemeLimit     = fmt.Errorf("at most %d themes per user", news.MaxThemesPerUser)
	ErrThemeNotFound  = errors.New("theme not found")
	ErrInvalidTheme   = errors.New("theme name must be 1-100 characters")
	ErrInvalidCount   = fmt.Errorf("article count must be between %d and %d", news.MinArticleCount, news.MaxArticleCount)
	ErrNoThemes       = errors.New("user has no themes")
	ErrUnknownRequest = errors.New("unknown delivery request")
	ErrInvalidUser    = errors.New("external id is required")
)

// Store is the subset of storage used by the service.
type Store interface {
	CreateUser(ctx context.Context, externalID string, articleCount int) (news.User, bool, error)
	GetUserByExternalID(ctx context.Context, externalID string) (news.User, error)
	UpdateUser(ctx context.Context, id string, upd storage.UserUpdate) (news.User, error)
	AddTheme(ctx context.Context, userID, name string, embedding []float32) (news.Theme, error)
	RemoveTheme(ctx context.Context, userID, name string) error
	GetUserThemes(ctx context.Context, userID string) ([]news.Theme, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
	GetJob(ctx context.Context, id string) (storage.Job, error)
}

// Embedder computes a theme's embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deliverer runs a single user's delivery.
type Deliverer interface {
	Deliver(ctx context.Context, user news.User, themes []news.Theme) (delivery.Outcome, error)
}

// Service implements the subscription commands.
type Service struct {
	store     Store
	embedder  Embedder
	deliverer Deliverer
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, embedder Embedder, deliverer Deliverer) *Service {
	return &Service{store: store, embedder: embedder, deliverer: deliverer, logger: slog.Default()}
}

// Register creates the user if needed. created is false when the user
// already existed.
func (s *Service) Register(ctx context.Context, externalID string) (user news.User, created bool, err error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return news.User{}, false, ErrInvalidUser
	}
	return s.store.CreateUser(ctx, externalID, news.DefaultArticleCount)
}

func (s *Service) user(ctx context.Context, externalID string) (news.User, error) {
	u, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, storage.ErrNotFound) {
		return news.User{}, ErrNotRegistered
	}
	return u, err
}

// AddTheme embeds name once and stores it as a new theme.
func (s *Service) AddTheme(ctx context.Context, externalID, name string) (news.Theme, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxThemeNameLength {
		return news.Theme{}, ErrInvalidTheme
	}

	u, err := s.user(ctx, externalID)
	if err != nil {
		return news.Theme{}, err
	}

	existing, err := s.store.GetUserThemes(ctx, u.ID)
	if err != nil {
		return news.Theme{}, err
	}
	for _, t := range existing {
		if strings.EqualFold(t.Name, name) {
			return news.Theme{}, ErrThemeExists
		}
	}
	if len(existing) >= news.MaxThemesPerUser {
		return news.Theme{}, ErrThemeLimit
	}

	vec, err := s.embedder.Embed(ctx, name)
	if err != nil {
		return news.Theme{}, fmt.Errorf("embedding theme: %w", err)
	}

	t, err := s.store.AddTheme(ctx, u.ID, name, vec)
	if errors.Is(err, storage.ErrConflict) {
		return news.Theme{}, ErrThemeExists
	}
	return t, err
}

// ListThemes returns the user's themes in creation order.
func (s *Service) ListThemes(ctx context.Context, externalID string) ([]news.Theme, error) {
	u, err := s.user(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.store.GetUserThemes(ctx, u.ID)
}

// RemoveTheme deletes a theme by name, ignoring case.
func (s *Service) RemoveTheme(ctx context.Context, externalID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidTheme
	}
	u, err := s.user(ctx, externalID)
	if err != nil {
		return err
	}
	err = s.store.RemoveTheme(ctx, u.ID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrThemeNotFound
	}
	return err
}

// SetArticleCount changes how many articles a digest may hold.
func (s *Service) SetArticleCount(ctx context.Context, externalID string, n int) (news.User, error) {
	if n < news.MinArticleCount || n > news.MaxArticleCount {
		return news.User{}, ErrInvalidCount
	}
	u, err := s.user(ctx, externalID)
	if err != nil {
		return news.User{}, err
	}
	return s.store.UpdateUser(ctx, u.ID, storage.UserUpdate{ArticleCount: &n})
}

// ToggleActive pauses or resumes scheduled delivery.
func (s *Service) ToggleActive(ctx context.Context, externalID string) (news.User, error) {
	u, err := s.user(ctx, externalID)
	if err != nil {
		return news.User{}, err
	}
	active := !u.IsActive
	return s.store.UpdateUser(ctx, u.ID, storage.UserUpdate{IsActive: &active})
}

// Settings is a user's current configuration.
type Settings struct {
	User   news.User `json:"user"`
	Themes []string  `json:"themes"`
}

// Status returns the user's settings and theme names.
func (s *Service) Status(ctx context.Context, externalID string) (Settings, error) {
	u, err := s.user(ctx, externalID)
	if err != nil {
		return Settings{}, err
	}
	themes, err := s.store.GetUserThemes(ctx, u.ID)
	if err != nil {
		return Settings{}, err
	}
	names := make([]string, len(themes))
	for i, t := range themes {
		names[i] = t.Name
	}
	return Settings{User: u, Themes: names}, nil
}

// RequestDelivery checks that the user can receive a digest and queues the
// work. The returned token identifies the request for status lookups.
func (s *Service) RequestDelivery(ctx context.Context, externalID, channelID string) (string, error) {
	u, err := s.user(ctx, externalID)
	if err != nil {
		return "", err
	}
	themes, err := s.store.GetUserThemes(ctx, u.ID)
	if err != nil {
		return "", err
	}
	if len(themes) == 0 {
		return "", ErrNoThemes
	}

	payload, err := json.Marshal(jobs.DeliverNowPayload{ExternalID: u.ExternalID, ChannelID: channelID})
	if err != nil {
		return "", err
	}
	token := uuid.New().String()
	if err := s.store.EnqueueJob(ctx, storage.Job{
		ID:          token,
		Type:        jobs.TypeDeliverNow,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}); err != nil {
		return "", err
	}
	s.logger.Info("delivery requested", "user", u.ExternalID, "token", token)
	return token, nil
}

// RunDelivery performs a queued delivery and returns the text to show the
// user. The error is non-nil only for infrastructure failures; the message
// is always set.
func (s *Service) RunDelivery(ctx context.Context, externalID string) (string, error) {
	u, err := s.user(ctx, externalID)
	if err != nil {
		return ErrorMessage(err), err
	}
	themes, err := s.store.GetUserThemes(ctx, u.ID)
	if err != nil {
		return ErrorMessage(err), err
	}
	if len(themes) == 0 {
		return ErrorMessage(ErrNoThemes), nil
	}

	out, err := s.deliverer.Deliver(ctx, u, themes)
	if err != nil {
		return ErrorMessage(err), err
	}
	return out.Message(), nil
}

// DeliveryStatus is the state of a RequestDelivery token.
type DeliveryStatus struct {
	Token   string `json:"token"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GetDeliveryStatus looks up a delivery request by token.
func (s *Service) GetDeliveryStatus(ctx context.Context, token string) (DeliveryStatus, error) {
	j, err := s.store.GetJob(ctx, token)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && j.Type != jobs.TypeDeliverNow) {
		return DeliveryStatus{}, ErrUnknownRequest
	}
	if err != nil {
		return DeliveryStatus{}, err
	}
	return DeliveryStatus{Token: j.ID, Status: j.Status, Message: j.Result, Error: j.LastError}, nil
}

// ErrorMessage turns a command error into text suitable for the user.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotRegistered):
		return "Please register first with `/register`."
	case errors.Is(err, ErrThemeExists):
		return "That theme is already registered."
	case errors.Is(err, ErrThemeLimit):
		return fmt.Sprintf("You can register up to %d themes. Remove one you no longer need.", news.MaxThemesPerUser)
	case errors.Is(err, ErrThemeNotFound):
		return "That theme is not registered."
	case errors.Is(err, ErrInvalidTheme):
		return "Please give a theme name of 1 to 100 characters."
	case errors.Is(err, ErrInvalidCount):
		return fmt.Sprintf("Article count must be between %d and %d.", news.MinArticleCount, news.MaxArticleCount)
	case errors.Is(err, ErrNoThemes):
		return "❌ You have no themes yet. Add one with `/theme add`."
	case errors.Is(err, ErrUnknownRequest):
		return "No delivery request with that token."
	case errors.Is(err, ErrInvalidUser):
		return "Could not read your user information."
	default:
		return "❌ Something went wrong. Please try again later."
	}
}
