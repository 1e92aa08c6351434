package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint
// that the caller is expected to report (e.g. duplicate theme names).
var ErrConflict = errors.New("already exists")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	Result      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// UserUpdate carries the settings a user may change. Nil fields are left as is.
type UserUpdate struct {
	ArticleCount *int
	IsActive     *bool
}
