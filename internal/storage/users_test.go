package storage

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/techdigest/internal/news"
)

func mustCreateUser(t *testing.T, s *Store, externalID string) news.User {
	t.Helper()
	u, _, err := s.CreateUser(context.Background(), externalID, 0)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", externalID, err)
	}
	return u
}

func TestCreateUser_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u1, created, err := s.CreateUser(ctx, "discord-1", 0)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !created {
		t.Error("first CreateUser should report created")
	}
	if u1.ArticleCount != news.DefaultArticleCount || !u1.IsActive {
		t.Errorf("unexpected defaults: %+v", u1)
	}

	u2, created, err := s.CreateUser(ctx, "discord-1", 12)
	if err != nil {
		t.Fatalf("second CreateUser: %v", err)
	}
	if created {
		t.Error("second CreateUser should not report created")
	}
	if u2.ID != u1.ID || u2.ArticleCount != news.DefaultArticleCount {
		t.Errorf("re-registration changed user: %+v -> %+v", u1, u2)
	}
}

func TestGetUserByExternalID_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetUserByExternalID(context.Background(), "nobody"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := mustCreateUser(t, s, "x")

	count := 12
	got, err := s.UpdateUser(ctx, u.ID, UserUpdate{ArticleCount: &count})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if got.ArticleCount != 12 || !got.IsActive {
		t.Errorf("after count update: %+v", got)
	}

	inactive := false
	got, err = s.UpdateUser(ctx, u.ID, UserUpdate{IsActive: &inactive})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if got.ArticleCount != 12 || got.IsActive {
		t.Errorf("after toggle: %+v", got)
	}

	bad := 31
	if _, err := s.UpdateUser(ctx, u.ID, UserUpdate{ArticleCount: &bad}); err == nil {
		t.Error("expected CHECK constraint violation for article_count 31")
	}

	if _, err := s.UpdateUser(ctx, "missing", UserUpdate{ArticleCount: &count}); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetActiveUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, s, "a")
	b := mustCreateUser(t, s, "b")
	c := mustCreateUser(t, s, "c")
	off := false
	if _, err := s.UpdateUser(ctx, b.ID, UserUpdate{IsActive: &off}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	users, err := s.GetActiveUsers(ctx)
	if err != nil {
		t.Fatalf("GetActiveUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != a.ID || users[1].ID != c.ID {
		t.Errorf("active users = %+v, want [a c]", users)
	}
}

func TestThemes_AddListRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := mustCreateUser(t, s, "x")

	if _, err := s.AddTheme(ctx, u.ID, "AWS", []float32{1, 0}); err != nil {
		t.Fatalf("AddTheme: %v", err)
	}
	if _, err := s.AddTheme(ctx, u.ID, "Go", []float32{0, 1}); err != nil {
		t.Fatalf("AddTheme: %v", err)
	}
	if _, err := s.AddTheme(ctx, u.ID, "aws", []float32{1, 0}); err != ErrConflict {
		t.Errorf("duplicate theme err = %v, want ErrConflict", err)
	}

	themes, err := s.GetUserThemes(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserThemes: %v", err)
	}
	if len(themes) != 2 || themes[0].Name != "AWS" || themes[1].Name != "Go" {
		t.Fatalf("themes = %+v", themes)
	}
	if themes[1].Embedding[1] != 1 {
		t.Errorf("embedding not round-tripped: %v", themes[1].Embedding)
	}

	if err := s.RemoveTheme(ctx, u.ID, "go"); err != nil {
		t.Fatalf("RemoveTheme: %v", err)
	}
	if err := s.RemoveTheme(ctx, u.ID, "go"); err != ErrNotFound {
		t.Errorf("second RemoveTheme err = %v, want ErrNotFound", err)
	}

	themes, _ = s.GetUserThemes(ctx, u.ID)
	if len(themes) != 1 {
		t.Errorf("themes after remove = %+v", themes)
	}
}

func TestThemes_SameNameDifferentUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "a")
	b := mustCreateUser(t, s, "b")

	if _, err := s.AddTheme(ctx, a.ID, "Rust", []float32{1}); err != nil {
		t.Fatalf("AddTheme a: %v", err)
	}
	if _, err := s.AddTheme(ctx, b.ID, "Rust", []float32{1}); err != nil {
		t.Errorf("AddTheme b: %v", err)
	}
}

func TestMarkAsDelivered_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixClock(s, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	u := mustCreateUser(t, s, "x")

	if _, err := s.SaveArticles(ctx, []news.Article{testArticle("https://a", time.Time{}), testArticle("https://b", time.Time{})}); err != nil {
		t.Fatalf("SaveArticles: %v", err)
	}
	arts, err := s.GetTodayArticles(ctx, s.now())
	if err != nil {
		t.Fatalf("GetTodayArticles: %v", err)
	}
	ids := []string{arts[0].ID, arts[1].ID}

	if err := s.MarkAsDelivered(ctx, u.ID, ids[:1]); err != nil {
		t.Fatalf("MarkAsDelivered: %v", err)
	}
	if err := s.MarkAsDelivered(ctx, u.ID, ids); err != nil {
		t.Fatalf("MarkAsDelivered with duplicate: %v", err)
	}

	delivered, err := s.GetDeliveredArticleIDs(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetDeliveredArticleIDs: %v", err)
	}
	if len(delivered) != 2 {
		t.Errorf("delivered = %v, want 2 ids", delivered)
	}

	var rows int
	s.db.QueryRow(`SELECT COUNT(*) FROM delivered_articles`).Scan(&rows)
	if rows != 2 {
		t.Errorf("delivered_articles rows = %d, want 2", rows)
	}
}

func TestMarkAsDelivered_UnknownArticle(t *testing.T) {
	s := openTestStore(t)
	u := mustCreateUser(t, s, "x")
	if err := s.MarkAsDelivered(context.Background(), u.ID, []string{"ghost"}); err == nil {
		t.Error("expected foreign key error for unknown article")
	}
}
