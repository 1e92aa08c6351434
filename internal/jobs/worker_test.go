package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/techdigest/internal/storage"
)

type mockRunner struct {
	runFn func(ctx context.Context, externalID string) (string, error)
}

func (m *mockRunner) RunDelivery(ctx context.Context, externalID string) (string, error) {
	return m.runFn(ctx, externalID)
}

type mockNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (m *mockNotifier) SendChannelMessage(_ context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string][]string)
	}
	m.sent[channelID] = append(m.sent[channelID], text)
	return nil
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

func enqueueTestJob(t *testing.T, store *storage.Store, id, externalID, channelID string) {
	t.Helper()
	payload, _ := json.Marshal(DeliverNowPayload{ExternalID: externalID, ChannelID: channelID})
	if err := store.EnqueueJob(context.Background(), storage.Job{
		ID:          id,
		Type:        TypeDeliverNow,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func getJob(t *testing.T, store *storage.Store, id string) storage.Job {
	t.Helper()
	j, err := store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func TestRunOnce_Success(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "tok-1", "user-1", "chan-1")
	runner := &mockRunner{runFn: func(ctx context.Context, id string) (string, error) {
		if id != "user-1" {
			t.Errorf("external id = %q", id)
		}
		return "Sent 3 articles", nil
	}}
	notifier := &mockNotifier{}

	w := NewWorker(store, runner, notifier, time.Millisecond, time.Second)
	done, err := w.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}

	j := getJob(t, store, "tok-1")
	if j.Status != storage.JobCompleted || j.Result != "Sent 3 articles" {
		t.Errorf("job = %+v", j)
	}
	if got := notifier.sent["chan-1"]; len(got) != 1 || got[0] != "<@user-1> Sent 3 articles" {
		t.Errorf("notifications = %v", got)
	}
}

func TestRunOnce_Empty(t *testing.T) {
	w := NewWorker(openTestStore(t), &mockRunner{}, nil, 0, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil || done {
		t.Errorf("RunOnce on empty queue = %v, %v", done, err)
	}
}

func TestRunOnce_FailureNotRetried(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "tok-1", "user-1", "chan-1")
	runner := &mockRunner{runFn: func(context.Context, string) (string, error) {
		return "❌ Something went wrong.", errors.New("db down")
	}}
	notifier := &mockNotifier{}

	w := NewWorker(store, runner, notifier, time.Millisecond, time.Second)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	j := getJob(t, store, "tok-1")
	if j.Status != storage.JobFailed || j.LastError != "db down" || j.Result != "❌ Something went wrong." {
		t.Errorf("job = %+v", j)
	}
	if len(notifier.sent["chan-1"]) != 1 {
		t.Errorf("user was not told about the failure: %v", notifier.sent)
	}

	done, _ := w.RunOnce(context.Background())
	if done {
		t.Error("failed deliver_now job was retried")
	}
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "tok-1", "user-1", "")
	runner := &mockRunner{runFn: func(context.Context, string) (string, error) {
		panic("nil map")
	}}

	w := NewWorker(store, runner, nil, time.Millisecond, time.Second)
	done, err := w.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}
	j := getJob(t, store, "tok-1")
	if j.Status != storage.JobFailed || !strings.Contains(j.LastError, "panic") || j.Result == "" {
		t.Errorf("job = %+v", j)
	}
}

func TestRunOnce_Timeout(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "tok-1", "user-1", "chan-1")
	runner := &mockRunner{runFn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	notifier := &mockNotifier{}

	w := NewWorker(store, runner, notifier, time.Millisecond, 20*time.Millisecond)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	j := getJob(t, store, "tok-1")
	if j.Status != storage.JobFailed || !strings.Contains(j.Result, "timed out") {
		t.Errorf("job = %+v", j)
	}
	if got := notifier.sent["chan-1"]; len(got) != 1 || !strings.Contains(got[0], "timed out") {
		t.Errorf("notifications = %v", got)
	}
}

func TestRunOnce_BadPayload(t *testing.T) {
	store := openTestStore(t)
	store.EnqueueJob(context.Background(), storage.Job{ID: "bad", Type: TypeDeliverNow, PayloadJSON: "{", MaxAttempts: 1})

	called := false
	w := NewWorker(store, &mockRunner{runFn: func(context.Context, string) (string, error) {
		called = true
		return "", nil
	}}, nil, time.Millisecond, time.Second)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if called {
		t.Error("runner called for unparseable payload")
	}
	if j := getJob(t, store, "bad"); j.Status != storage.JobFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "tok-1", "user-1", "")
	processed := make(chan struct{}, 1)
	runner := &mockRunner{runFn: func(context.Context, string) (string, error) {
		processed <- struct{}{}
		return "ok", nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(store, runner, nil, 5*time.Millisecond, time.Second)
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("job not processed")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunOnce_ParentCancelledStillRecordsOutcome(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "tok-1", "user-1", "chan-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &mockRunner{runFn: func(rctx context.Context, _ string) (string, error) {
		cancel()
		<-rctx.Done()
		return "", rctx.Err()
	}}
	notifier := &mockNotifier{}

	w := NewWorker(store, runner, notifier, time.Millisecond, time.Minute)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	j := getJob(t, store, "tok-1")
	if j.Status != storage.JobFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if !strings.Contains(j.Result, "interrupted") || !strings.Contains(j.LastError, "context canceled") {
		t.Errorf("job = %+v", j)
	}
	if got := notifier.sent["chan-1"]; len(got) != 1 || !strings.Contains(got[0], "interrupted") {
		t.Errorf("notifications = %v", got)
	}
}

func TestRecoverStale_FailsRunningJobs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	enqueueTestJob(t, store, "stale", "user-1", "")
	if _, err := store.ClaimNextJob(ctx, []string{TypeDeliverNow}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	enqueueTestJob(t, store, "queued", "user-2", "")

	w := NewWorker(store, &mockRunner{}, nil, time.Millisecond, time.Second)
	if err := w.RecoverStale(ctx); err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}

	if j := getJob(t, store, "stale"); j.Status != storage.JobFailed || j.Result == "" || j.LastError == "" {
		t.Errorf("stale job = %+v", j)
	}
	if j := getJob(t, store, "queued"); j.Status != storage.JobPending {
		t.Errorf("queued job status = %s, want pending", j.Status)
	}
}
