package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	tk := New("task-1", "kling", "kling-3.0", 300, nil)

	require.NoError(t, repo.Save(ctx, tk))

	saved, err := repo.FindByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", saved.ID)
	assert.Equal(t, 300, saved.Credits)
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Save(ctx, New("task-1", "kling", "m", 0, nil))

	found, _ := repo.FindByID(ctx, "task-1")
	found.State = StateFailed

	original, _ := repo.FindByID(ctx, "task-1")
	assert.Equal(t, StatePending, original.State)
}

func TestMemoryRepository_CompareAndSetState(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Save(ctx, New("task-1", "kling", "m", 0, nil))

	applied, err := repo.CompareAndSetState(ctx, "task-1", Update{State: StateProcessing})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.CompareAndSetState(ctx, "task-1", Update{
		State:      StateSucceeded,
		ResultURLs: []string{"https://cdn.example.com/v.mp4"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// A late "processing" report from the other channel must not regress the task.
	applied, err = repo.CompareAndSetState(ctx, "task-1", Update{State: StateProcessing})
	require.NoError(t, err)
	assert.False(t, applied)

	saved, _ := repo.FindByID(ctx, "task-1")
	assert.Equal(t, StateSucceeded, saved.State)
	assert.Equal(t, []string{"https://cdn.example.com/v.mp4"}, saved.ResultURLs)
}

func TestMemoryRepository_CompareAndSetState_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.CompareAndSetState(context.Background(), "missing", Update{State: StateFailed})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryRepository_CompareAndSetState_Race(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Save(ctx, New("task-1", "kling", "m", 0, nil))

	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := Update{State: StateSucceeded, ResultURLs: []string{"ok"}}
			if i%2 == 1 {
				u = Update{State: StateFailed, FailCode: "x", FailMessage: "y"}
			}
			applied, err := repo.CompareAndSetState(ctx, "task-1", u)
			assert.NoError(t, err)
			results <- applied
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for applied := range results {
		if applied {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one terminal update must win")
}

func TestMemoryRepository_ListActive(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, state := range []State{StatePending, StateProcessing, StateSucceeded, StateFailed} {
		tk := New(string(state), "kling", "m", 0, nil)
		tk.State = state
		tk.LastCheckedAt = base.Add(time.Duration(i) * time.Minute)
		_ = repo.Save(ctx, tk)
	}
	fresh := New("fresh", "kling", "m", 0, nil)
	_ = repo.Save(ctx, fresh)

	active, err := repo.ListActive(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "pending", active[0].ID)
	assert.Equal(t, "processing", active[1].ID)

	limited, err := repo.ListActive(ctx, time.Now().Add(-time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryRepository_TouchAndArchive(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Save(ctx, New("task-1", "kling", "m", 0, nil))
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Touch(ctx, "task-1", at))
	require.NoError(t, repo.AttachArchive(ctx, "task-1", []string{"s3://b/k"}))

	saved, _ := repo.FindByID(ctx, "task-1")
	assert.Equal(t, at, saved.LastCheckedAt)
	assert.Equal(t, []string{"s3://b/k"}, saved.ArchivedURLs)

	assert.ErrorIs(t, repo.Touch(ctx, "nope", at), ErrTaskNotFound)
	assert.ErrorIs(t, repo.AttachArchive(ctx, "nope", nil), ErrTaskNotFound)
}
