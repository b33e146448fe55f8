package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/task"
)

func TestPollerConfig_Defaults(t *testing.T) {
	cfg := PollerConfig{}.withDefaults()
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.StaleAfter)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestPoller_SweepOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "done", task.StateProcessing)
	f.seed(t, "running", task.StatePending)
	f.seed(t, "broken", task.StatePending)
	f.seed(t, "finished", task.StateSucceeded)

	// Everything seeded is an hour stale.
	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	f.adapter.On("QueryTask", mock.Anything, "done").Return(provider.QueryResult{TaskID: "done", NativeState: "succeeded", ResultURLs: []string{"u"}}, nil)
	f.adapter.On("QueryTask", mock.Anything, "running").Return(provider.QueryResult{TaskID: "running", NativeState: "processing"}, nil)
	f.adapter.On("QueryTask", mock.Anything, "broken").Return(provider.QueryResult{}, &provider.ProviderError{Status: 502})

	p := NewPoller(f.svc, PollerConfig{StaleAfter: time.Minute, Concurrency: 2}, quietLogger())
	res, err := p.SweepOnce(ctx)
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, SweepResult{Checked: 3, Completed: 1, Errors: 1}, res)
	f.adapter.AssertNotCalled(t, "QueryTask", mock.Anything, "finished")

	running, err := f.repo.FindByID(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, task.StateProcessing, running.State)

	// Every checked task was touched, so an immediate second sweep finds nothing.
	res, err = p.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestPoller_SkipsFreshTasks(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "fresh", task.StatePending)

	p := NewPoller(f.svc, PollerConfig{StaleAfter: time.Hour}, quietLogger())
	res, err := p.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked)
	f.adapter.AssertNotCalled(t, "QueryTask", mock.Anything, mock.Anything)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(f.svc, PollerConfig{Interval: time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
