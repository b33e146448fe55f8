package task

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned when a task cannot be found by ID.
var ErrTaskNotFound = errors.New("task not found")

// Repository defines the interface for task persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Save persists a task. If the task already exists, it is replaced.
	Save(ctx context.Context, t *Task) error

	// FindByID retrieves a task by its provider task id.
	// Returns ErrTaskNotFound if the task does not exist.
	FindByID(ctx context.Context, id string) (*Task, error)

	// CompareAndSetState applies u only if the stored state is one of
	// AllowedFrom(u.State). It reports whether the write took effect; a
	// rejected update is not an error. Returns ErrTaskNotFound if the task
	// does not exist.
	CompareAndSetState(ctx context.Context, id string, u Update) (bool, error)

	// Touch sets LastCheckedAt for the task.
	Touch(ctx context.Context, id string, at time.Time) error

	// AttachArchive records mirrored result locations for a succeeded task.
	AttachArchive(ctx context.Context, id string, urls []string) error

	// ListActive returns up to limit non-terminal tasks last checked before
	// olderThan, least recently checked first.
	ListActive(ctx context.Context, olderThan time.Time, limit int) ([]*Task, error)
}
