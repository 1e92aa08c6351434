package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/techdigest/internal/delivery"
	"github.com/kalambet/techdigest/internal/jobs"
	"github.com/kalambet/techdigest/internal/news"
	"github.com/kalambet/techdigest/internal/storage"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, float32(len(text))}, nil
}

type stubDeliverer struct {
	out   delivery.Outcome
	err   error
	calls int
}

func (d *stubDeliverer) Deliver(context.Context, news.User, []news.Theme) (delivery.Outcome, error) {
	d.calls++
	return d.out, d.err
}

func newTestService(t *testing.T) (*Service, *storage.Store, *countingEmbedder, *stubDeliverer) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	emb := &countingEmbedder{}
	del := &stubDeliverer{out: delivery.Outcome{Status: delivery.Delivered, Count: 2}}
	return NewService(st, emb, del), st, emb, del
}

func TestRegister_Idempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	u1, created, err := svc.Register(ctx, "42")
	if err != nil || !created {
		t.Fatalf("Register = %v, %v", created, err)
	}
	u2, created, err := svc.Register(ctx, "42")
	if err != nil || created {
		t.Fatalf("second Register = %v, %v", created, err)
	}
	if u1.ID != u2.ID {
		t.Error("re-registration created a new user")
	}
	if _, _, err := svc.Register(ctx, "  "); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("blank id err = %v, want ErrInvalidUser", err)
	}
}

func TestCommandsRequireRegistration(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["add"] = svc.AddTheme(ctx, "ghost", "Go")
	_, checks["list"] = svc.ListThemes(ctx, "ghost")
	checks["remove"] = svc.RemoveTheme(ctx, "ghost", "Go")
	_, checks["count"] = svc.SetArticleCount(ctx, "ghost", 5)
	_, checks["toggle"] = svc.ToggleActive(ctx, "ghost")
	_, checks["status"] = svc.Status(ctx, "ghost")
	_, checks["deliver"] = svc.RequestDelivery(ctx, "ghost", "")
	for name, err := range checks {
		if !errors.Is(err, ErrNotRegistered) {
			t.Errorf("%s: err = %v, want ErrNotRegistered", name, err)
		}
	}
}

func TestAddTheme(t *testing.T) {
	svc, _, emb, _ := newTestService(t)
	ctx := context.Background()
	svc.Register(ctx, "u")

	th, err := svc.AddTheme(ctx, "u", "  Kubernetes ")
	if err != nil {
		t.Fatalf("AddTheme: %v", err)
	}
	if th.Name != "Kubernetes" || len(th.Embedding) == 0 {
		t.Errorf("theme = %+v", th)
	}
	if emb.calls != 1 {
		t.Errorf("embedder called %d times, want 1", emb.calls)
	}

	if _, err := svc.AddTheme(ctx, "u", "kubernetes"); !errors.Is(err, ErrThemeExists) {
		t.Errorf("duplicate err = %v, want ErrThemeExists", err)
	}
	if emb.calls != 1 {
		t.Error("duplicate theme was embedded")
	}

	if _, err := svc.AddTheme(ctx, "u", ""); !errors.Is(err, ErrInvalidTheme) {
		t.Errorf("empty name err = %v", err)
	}
	if _, err := svc.AddTheme(ctx, "u", strings.Repeat("x", MaxThemeNameLength+1)); !errors.Is(err, ErrInvalidTheme) {
		t.Errorf("long name err = %v", err)
	}
}

func TestAddTheme_Limit(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	svc.Register(ctx, "u")

	for i := range news.MaxThemesPerUser {
		if _, err := svc.AddTheme(ctx, "u", fmt.Sprintf("theme-%d", i)); err != nil {
			t.Fatalf("AddTheme #%d: %v", i, err)
		}
	}
	if _, err := svc.AddTheme(ctx, "u", "one too many"); !errors.Is(err, ErrThemeLimit) {
		t.Errorf("err = %v, want ErrThemeLimit", err)
	}
}

func TestAddTheme_EmbeddingFailure(t *testing.T) {
	svc, st, emb, _ := newTestService(t)
	ctx := context.Background()
	u, _, _ := svc.Register(ctx, "u")
	emb.err = errors.New("quota")

	if _, err := svc.AddTheme(ctx, "u", "Go"); err == nil {
		t.Fatal("expected error")
	}
	if themes, _ := st.GetUserThemes(ctx, u.ID); len(themes) != 0 {
		t.Error("theme stored without embedding")
	}
}

func TestListAndRemoveTheme(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	svc.Register(ctx, "u")
	svc.AddTheme(ctx, "u", "Go")
	svc.AddTheme(ctx, "u", "Rust")

	if err := svc.RemoveTheme(ctx, "u", "GO"); err != nil {
		t.Fatalf("RemoveTheme: %v", err)
	}
	if err := svc.RemoveTheme(ctx, "u", "Go"); !errors.Is(err, ErrThemeNotFound) {
		t.Errorf("err = %v, want ErrThemeNotFound", err)
	}

	themes, err := svc.ListThemes(ctx, "u")
	if err != nil {
		t.Fatalf("ListThemes: %v", err)
	}
	if len(themes) != 1 || themes[0].Name != "Rust" {
		t.Errorf("themes = %+v", themes)
	}
}

func TestSettings(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	svc.Register(ctx, "u")
	svc.AddTheme(ctx, "u", "Go")

	for _, bad := range []int{0, -1, 31} {
		if _, err := svc.SetArticleCount(ctx, "u", bad); !errors.Is(err, ErrInvalidCount) {
			t.Errorf("SetArticleCount(%d) err = %v", bad, err)
		}
	}
	u, err := svc.SetArticleCount(ctx, "u", 30)
	if err != nil || u.ArticleCount != 30 {
		t.Errorf("SetArticleCount(30) = %+v, %v", u, err)
	}

	u, _ = svc.ToggleActive(ctx, "u")
	if u.IsActive {
		t.Error("toggle should pause delivery")
	}
	u, _ = svc.ToggleActive(ctx, "u")
	if !u.IsActive {
		t.Error("second toggle should resume delivery")
	}

	st, err := svc.Status(ctx, "u")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.User.ArticleCount != 30 || len(st.Themes) != 1 || st.Themes[0] != "Go" {
		t.Errorf("status = %+v", st)
	}
}

func TestRequestDelivery(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()
	svc.Register(ctx, "u")

	if _, err := svc.RequestDelivery(ctx, "u", "chan"); !errors.Is(err, ErrNoThemes) {
		t.Fatalf("err = %v, want ErrNoThemes", err)
	}

	svc.AddTheme(ctx, "u", "Go")
	token, err := svc.RequestDelivery(ctx, "u", "chan")
	if err != nil {
		t.Fatalf("RequestDelivery: %v", err)
	}

	j, err := st.GetJob(ctx, token)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Type != jobs.TypeDeliverNow || j.MaxAttempts != 1 || j.Status != storage.JobPending {
		t.Errorf("job = %+v", j)
	}
	var p jobs.DeliverNowPayload
	json.Unmarshal([]byte(j.PayloadJSON), &p)
	if p.ExternalID != "u" || p.ChannelID != "chan" {
		t.Errorf("payload = %+v", p)
	}

	status, err := svc.GetDeliveryStatus(ctx, token)
	if err != nil || status.Status != storage.JobPending {
		t.Errorf("status = %+v, %v", status, err)
	}
	if _, err := svc.GetDeliveryStatus(ctx, "nope"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("unknown token err = %v", err)
	}
}

func TestRunDelivery(t *testing.T) {
	svc, _, _, del := newTestService(t)
	ctx := context.Background()
	svc.Register(ctx, "u")

	msg, err := svc.RunDelivery(ctx, "u")
	if err != nil || !strings.Contains(msg, "no themes") {
		t.Errorf("no themes: msg = %q, err = %v", msg, err)
	}
	if del.calls != 0 {
		t.Error("delivery ran without themes")
	}

	svc.AddTheme(ctx, "u", "Go")
	msg, err = svc.RunDelivery(ctx, "u")
	if err != nil || msg != (delivery.Outcome{Status: delivery.Delivered, Count: 2}).Message() {
		t.Errorf("msg = %q, err = %v", msg, err)
	}

	del.err = errors.New("db gone")
	msg, err = svc.RunDelivery(ctx, "u")
	if err == nil || msg == "" || strings.Contains(msg, "db gone") {
		t.Errorf("store failure: msg = %q, err = %v", msg, err)
	}

	msg, err = svc.RunDelivery(ctx, "ghost")
	if !errors.Is(err, ErrNotRegistered) || msg == "" {
		t.Errorf("ghost: msg = %q, err = %v", msg, err)
	}
}
