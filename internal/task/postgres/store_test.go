package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videotask-api/internal/task"
)

// newTestStore connects to TEST_DATABASE_URL or skips the test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewStore(pool)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStore_SaveAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()

	tk := task.New(id, "kling", "kling-3.0", 480, json.RawMessage(`{"prompt":"a cat"}`))
	require.NoError(t, store.Save(ctx, tk))

	found, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
	assert.Equal(t, task.StatePending, found.State)
	assert.Equal(t, 480, found.Credits)
	assert.JSONEq(t, `{"prompt":"a cat"}`, string(found.Request))
	assert.Nil(t, found.ResultURLs)
}

func TestStore_FindByID_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FindByID(context.Background(), "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestStore_CompareAndSetState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	require.NoError(t, store.Save(ctx, task.New(id, "kling", "kling-3.0", 0, nil)))

	applied, err := store.CompareAndSetState(ctx, id, task.Update{
		State:      task.StateSucceeded,
		ResultURLs: []string{"https://cdn.example.com/v.mp4"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.CompareAndSetState(ctx, id, task.Update{State: task.StateProcessing})
	require.NoError(t, err)
	assert.False(t, applied)

	found, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, found.State)
	assert.Equal(t, []string{"https://cdn.example.com/v.mp4"}, found.ResultURLs)
	assert.False(t, found.CompletedAt.IsZero())

	_, err = store.CompareAndSetState(ctx, "missing-"+uuid.NewString(), task.Update{State: task.StateFailed})
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestStore_ListActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	tk := task.New(id, "kling", "kling-3.0", 0, nil)
	tk.LastCheckedAt = time.Now().Add(-24 * time.Hour)
	require.NoError(t, store.Save(ctx, tk))

	active, err := store.ListActive(ctx, time.Now().Add(-time.Hour), 1000)
	require.NoError(t, err)

	var ids []string
	for _, a := range active {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, id)

	require.NoError(t, store.Touch(ctx, id, time.Now()))
	active, err = store.ListActive(ctx, time.Now().Add(-time.Hour), 1000)
	require.NoError(t, err)
	for _, a := range active {
		assert.NotEqual(t, id, a.ID)
	}
}
