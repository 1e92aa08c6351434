package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// EnqueueJob inserts a pending job. MaxAttempts defaults to 3.
func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	now := formatTime(s.now())
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically moves the oldest due pending job of one of the
// given types to running. It returns nil when nothing is due.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(s.now())
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (` + placeholders(len(types)) + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRowContext(ctx, query, args...))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobRunning
	if j.UpdatedAt, err = parseTime(now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a job completed and stores its result text.
func (s *Store) CompleteJob(ctx context.Context, id, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', result = ?, updated_at = ? WHERE id = ?`,
		result, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobResult stores the user-facing result text without changing status.
func (s *Store) SetJobResult(ctx context.Context, id, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET result = ?, updated_at = ? WHERE id = ?`,
		result, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("setting job result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff until it runs out of attempts, then marked failed.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := s.now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// FailRunningJobs moves every running job of the given types to failed,
// recording errMsg and result. It returns how many jobs were changed.
func (s *Store) FailRunningJobs(ctx context.Context, types []string, errMsg, result string) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	args := []any{errMsg, result, formatTime(s.now())}
	for _, t := range types {
		args = append(args, t)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?, result = ?, updated_at = ?
		WHERE status = 'running' AND type IN (`+placeholders(len(types))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failing running jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, result, created_at, updated_at, last_error`

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := r.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &j.Result, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, fmt.Errorf("scanning job: %w", err)
	}
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return j, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return j, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return j, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}
