package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; use the postgres store in production.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: make(map[string]*Task),
	}
}

// Save persists a clone of the task to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t.Clone()
	return nil
}

// FindByID returns a clone of the stored task.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// CompareAndSetState applies the update under the write lock.
func (r *MemoryRepository) CompareAndSetState(_ context.Context, id string, u Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	return t.Apply(u, time.Now().UTC()), nil
}

// Touch sets LastCheckedAt for the task.
func (r *MemoryRepository) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Touch(at)
	return nil
}

// AttachArchive records mirrored result locations.
func (r *MemoryRepository) AttachArchive(_ context.Context, id string, urls []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.SetArchive(urls)
	return nil
}

// ListActive returns clones of non-terminal tasks last checked before olderThan.
func (r *MemoryRepository) ListActive(_ context.Context, olderThan time.Time, limit int) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Task, 0)
	for _, t := range r.tasks {
		c := t.Clone()
		if c.State.IsTerminal() || !c.LastCheckedAt.Before(olderThan) {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastCheckedAt.Before(result[j].LastCheckedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
