package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/techdigest/internal/news"
	"github.com/kalambet/techdigest/internal/storage"
)

type fakeSender struct {
	mu       sync.Mutex
	fail     map[string]bool
	messages map[string][]string
}

func (f *fakeSender) SendDirectMessage(_ context.Context, recipientID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[recipientID] {
		return false
	}
	if f.messages == nil {
		f.messages = make(map[string][]string)
	}
	f.messages[recipientID] = append(f.messages[recipientID], text)
	return true
}

// brokenStore fails delivered-id lookups for one user.
type brokenStore struct {
	*storage.Store
	brokenUser string
}

func (b *brokenStore) GetDeliveredArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	if userID == b.brokenUser {
		return nil, errors.New("connection reset")
	}
	return b.Store.GetDeliveredArticleIDs(ctx, userID)
}

// markFailStore fails to record deliveries for one user.
type markFailStore struct {
	*storage.Store
	failUser string
}

func (m *markFailStore) MarkAsDelivered(ctx context.Context, userID string, articleIDs []string) error {
	if userID == m.failUser {
		return errors.New("disk I/O error")
	}
	return m.Store.MarkAsDelivered(ctx, userID, articleIDs)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedArticles(t *testing.T, s *storage.Store, arts ...news.Article) {
	t.Helper()
	if _, err := s.SaveArticles(context.Background(), arts); err != nil {
		t.Fatalf("SaveArticles: %v", err)
	}
}

func art(url, title string, emb ...float32) news.Article {
	return news.Article{
		RawArticle: news.RawArticle{URL: url, Title: title, Source: news.SourceQiita},
		Embedding:  emb,
	}
}

func seedUser(t *testing.T, s *storage.Store, externalID string, themes map[string][]float32) (news.User, []news.Theme) {
	t.Helper()
	ctx := context.Background()
	u, _, err := s.CreateUser(ctx, externalID, 0)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	for name, emb := range themes {
		if _, err := s.AddTheme(ctx, u.ID, name, emb); err != nil {
			t.Fatalf("AddTheme: %v", err)
		}
	}
	th, err := s.GetUserThemes(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserThemes: %v", err)
	}
	return u, th
}

func TestDeliver_MatchesThemeScenario(t *testing.T) {
	s := openTestStore(t)
	seedArticles(t, s, art("https://aws", "AWS tips", 1, 0.05), art("https://cook", "cooking", 0, 1))
	u, themes := seedUser(t, s, "discord-1", map[string][]float32{"AWS": {1, 0}})
	sender := &fakeSender{}

	out, err := NewTracker(s, sender).Deliver(context.Background(), u, themes)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if out.Status != Delivered || out.Count != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	msgs := sender.messages["discord-1"]
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
	want := "📰 **Today's picks (1)**\n\n🏷️ **AWS**\n• AWS tips - Qiita\n  https://aws"
	if msgs[0] != want {
		t.Errorf("digest =\n%s\nwant\n%s", msgs[0], want)
	}
}

func TestDeliver_AtMostOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedArticles(t, s, art("https://a", "a", 1, 0))
	u, themes := seedUser(t, s, "x", map[string][]float32{"t": {1, 0}})
	sender := &fakeSender{}
	tr := NewTracker(s, sender)

	if out, _ := tr.Deliver(ctx, u, themes); out.Status != Delivered {
		t.Fatalf("first outcome = %v", out.Status)
	}
	for range 3 {
		out, err := tr.Deliver(ctx, u, themes)
		if err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if out.Status != AllAlreadyDelivered {
			t.Errorf("repeat outcome = %v, want all_already_delivered", out.Status)
		}
	}
	if len(sender.messages["x"]) != 1 {
		t.Errorf("sent %d messages, want 1", len(sender.messages["x"]))
	}
}

func TestDeliver_SendFailureLeavesArticlesEligible(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedArticles(t, s, art("https://a", "a", 1, 0))
	u, themes := seedUser(t, s, "x", map[string][]float32{"t": {1, 0}})
	sender := &fakeSender{fail: map[string]bool{"x": true}}
	tr := NewTracker(s, sender)

	out, err := tr.Deliver(ctx, u, themes)
	if err != nil || out.Status != SendFailed {
		t.Fatalf("outcome = %+v, %v; want send_failed", out, err)
	}
	ids, _ := s.GetDeliveredArticleIDs(ctx, u.ID)
	if len(ids) != 0 {
		t.Errorf("delivery recorded despite send failure: %v", ids)
	}

	sender.fail = nil
	out, err = tr.Deliver(ctx, u, themes)
	if err != nil || out.Status != Delivered {
		t.Errorf("retry outcome = %+v, %v; want delivered", out, err)
	}
}

func TestDeliver_NoArticlesAndNoMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u, themes := seedUser(t, s, "x", map[string][]float32{"t": {1, 0}})
	tr := NewTracker(s, &fakeSender{})

	if out, _ := tr.Deliver(ctx, u, themes); out.Status != NoArticlesAvailable {
		t.Errorf("outcome = %v, want no_articles_available", out.Status)
	}

	seedArticles(t, s, art("https://far", "far", 0, 1))
	if out, _ := tr.Deliver(ctx, u, themes); out.Status != NoMatch {
		t.Errorf("outcome = %v, want no_match", out.Status)
	}
}

func TestDeliver_RespectsArticleCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var arts []news.Article
	for i := range 8 {
		arts = append(arts, art(fmt.Sprintf("https://%d", i), fmt.Sprint(i), 1, float32(i)/10))
	}
	seedArticles(t, s, arts...)
	u, themes := seedUser(t, s, "x", map[string][]float32{"t": {1, 0}})
	count := 3
	u, _ = s.UpdateUser(ctx, u.ID, storage.UserUpdate{ArticleCount: &count})

	out, err := NewTracker(s, &fakeSender{}).Deliver(ctx, u, themes)
	if err != nil || out.Count != 3 {
		t.Errorf("outcome = %+v, %v; want 3 delivered", out, err)
	}
}

func TestDeliverAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedArticles(t, s, art("https://a", "a", 1, 0), art("https://b", "b", 0, 1))

	seedUser(t, s, "ok", map[string][]float32{"x": {1, 0}})
	seedUser(t, s, "nothemes", nil)
	off, _ := seedUser(t, s, "inactive", map[string][]float32{"x": {1, 0}})
	inactive := false
	s.UpdateUser(ctx, off.ID, storage.UserUpdate{IsActive: &inactive})
	seedUser(t, s, "dmclosed", map[string][]float32{"y": {0, 1}})
	broken, _ := seedUser(t, s, "broken", map[string][]float32{"x": {1, 0}})
	seedUser(t, s, "nomatch", map[string][]float32{"z": {-1, -1}})

	sender := &fakeSender{fail: map[string]bool{"dmclosed": true}}
	tr := NewTracker(&brokenStore{Store: s, brokenUser: broken.ID}, sender)

	sum, err := tr.DeliverAll(ctx)
	if err != nil {
		t.Fatalf("DeliverAll: %v", err)
	}
	want := Summary{Users: 5, Delivered: 1, Articles: 1, Skipped: 2, SendFailed: 1, Errors: 1}
	if sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}
	if _, ok := sender.messages["inactive"]; ok {
		t.Error("inactive user received a digest")
	}
	if _, ok := sender.messages["ok"]; !ok {
		t.Error("active user did not receive a digest")
	}
}

func TestDeliverAll_NoArticles(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "ok", map[string][]float32{"x": {1, 0}})
	sender := &fakeSender{}

	sum, err := NewTracker(s, sender).DeliverAll(context.Background())
	if err != nil {
		t.Fatalf("DeliverAll: %v", err)
	}
	if sum.Users != 1 || sum.Delivered != 0 || len(sender.messages) != 0 {
		t.Errorf("summary = %+v, messages = %v", sum, sender.messages)
	}
}

func TestDeliver_RecordFailureReturnsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedArticles(t, s, art("https://a", "a", 1, 0))
	u, themes := seedUser(t, s, "u1", map[string][]float32{"x": {1, 0}})
	sender := &fakeSender{}

	out, err := NewTracker(&markFailStore{Store: s, failUser: u.ID}, sender).Deliver(ctx, u, themes)
	if err == nil {
		t.Fatalf("Deliver = %+v, want error", out)
	}
	if !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("err = %v", err)
	}
	if len(sender.messages["u1"]) != 1 {
		t.Errorf("messages = %v", sender.messages)
	}
	ids, _ := s.GetDeliveredArticleIDs(ctx, u.ID)
	if len(ids) != 0 {
		t.Errorf("delivered ids = %v, want none", ids)
	}
}

func TestDeliverAll_RecordFailureCounted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedArticles(t, s, art("https://a", "a", 1, 0))
	failing, _ := seedUser(t, s, "failing", map[string][]float32{"x": {1, 0}})
	ok, _ := seedUser(t, s, "ok", map[string][]float32{"x": {1, 0}})

	sum, err := NewTracker(&markFailStore{Store: s, failUser: failing.ID}, &fakeSender{}).DeliverAll(ctx)
	if err != nil {
		t.Fatalf("DeliverAll: %v", err)
	}
	want := Summary{Users: 2, Delivered: 1, Articles: 1, Errors: 1}
	if sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}
	if ids, _ := s.GetDeliveredArticleIDs(ctx, ok.ID); len(ids) != 1 {
		t.Errorf("ok user delivered ids = %v", ids)
	}
}
