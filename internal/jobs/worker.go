package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kalambet/techdigest/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id, result string) error
	FailJob(ctx context.Context, id, errMsg string) error
	SetJobResult(ctx context.Context, id, result string) error
	FailRunningJobs(ctx context.Context, types []string, errMsg, result string) (int64, error)
}

// DeliveryRunner performs one user's delivery and returns a user-facing message.
type DeliveryRunner interface {
	RunDelivery(ctx context.Context, externalID string) (string, error)
}

// Notifier posts the final status of a job to the channel it came from.
type Notifier interface {
	SendChannelMessage(ctx context.Context, channelID, text string) error
}

// Worker processes deliver_now jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	runner   DeliveryRunner
	notifier Notifier
	poll     time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. A nil notifier disables follow-up messages.
// If pollInterval is <= 0 it defaults to 500ms; if timeout is <= 0 it
// defaults to 5 minutes.
func NewWorker(store JobStore, runner DeliveryRunner, notifier Notifier, pollInterval, timeout time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Worker{
		store:    store,
		runner:   runner,
		notifier: notifier,
		poll:     pollInterval,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// bookkeepingTimeout bounds job-state writes made after the job's own
// context may already be cancelled.
const bookkeepingTimeout = 10 * time.Second

const interruptedMessage = "❌ Delivery was interrupted. Please request it again."

// Run fails jobs left running by a previous process, then polls for jobs
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if err := w.RecoverStale(ctx); err != nil {
		w.logger.Error("recovering stale jobs failed", "error", err)
	}
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RecoverStale marks deliver_now jobs still in running state as failed.
// Only one worker runs per database, so a running job at startup belongs to
// a process that exited mid-delivery.
func (w *Worker) RecoverStale(ctx context.Context) error {
	n, err := w.store.FailRunningJobs(ctx, []string{TypeDeliverNow}, "interrupted by shutdown", interruptedMessage)
	if err != nil {
		return fmt.Errorf("failing stale jobs: %w", err)
	}
	if n > 0 {
		w.logger.Warn("failed stale running jobs", "count", n)
	}
	return nil
}

// RunOnce claims and processes a single deliver_now job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{TypeDeliverNow})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload DeliverNowPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		bctx, cancel := detached(ctx)
		defer cancel()
		w.fail(bctx, job.ID, fmt.Errorf("parsing payload: %w", err))
		return true, nil
	}

	msg, err := w.process(ctx, payload)

	// The job's outcome is recorded even when ctx was cancelled mid-delivery.
	bctx, cancel := detached(ctx)
	defer cancel()

	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "user", payload.ExternalID, "error", err)
		w.fail(bctx, job.ID, err)
		if err := w.store.SetJobResult(bctx, job.ID, msg); err != nil {
			w.logger.Error("failed to store job result", "job_id", job.ID, "error", err)
		}
	} else if err := w.store.CompleteJob(bctx, job.ID, msg); err != nil {
		w.logger.Error("failed to mark job as completed", "job_id", job.ID, "error", err)
	}

	w.notify(bctx, payload, msg)
	return true, nil
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// process runs the delivery under the worker timeout, converting a panic
// into an error so one bad job cannot take down the worker.
func (w *Worker) process(ctx context.Context, p DeliverNowPayload) (msg string, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("delivery panicked", "user", p.ExternalID, "panic", r, "stack", string(debug.Stack()))
			msg = "❌ Delivery failed unexpectedly. Please try again later."
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	msg, err = w.runner.RunDelivery(ctx, p.ExternalID)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "❌ Delivery timed out. The next scheduled run will try again.", fmt.Errorf("delivery timed out after %s", w.timeout)
	case errors.Is(ctx.Err(), context.Canceled) && err != nil:
		return interruptedMessage, fmt.Errorf("delivery interrupted: %w", err)
	}
	return msg, err
}

func (w *Worker) fail(ctx context.Context, id string, cause error) {
	if err := w.store.FailJob(ctx, id, cause.Error()); err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", id, "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, p DeliverNowPayload, msg string) {
	if w.notifier == nil || p.ChannelID == "" || msg == "" {
		return
	}
	text := fmt.Sprintf("<@%s> %s", p.ExternalID, msg)
	if err := w.notifier.SendChannelMessage(ctx, p.ChannelID, text); err != nil {
		w.logger.Warn("follow-up notification failed", "channel", p.ChannelID, "error", err)
	}
}
