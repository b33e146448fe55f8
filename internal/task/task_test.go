package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tk := New("task-1", "kling", "kling-3.0", 480, json.RawMessage(`{"prompt":"x"}`))

	assert.Equal(t, "task-1", tk.ID)
	assert.Equal(t, StatePending, tk.State)
	assert.Equal(t, 480, tk.Credits)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.Equal(t, tk.CreatedAt, tk.LastCheckedAt)
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StatePending, false},
		{StateProcessing, false},
		{StateSucceeded, true},
		{StateFailed, true},
		{State("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.IsTerminal())
		})
	}
}

func TestAllowedFrom(t *testing.T) {
	assert.Empty(t, AllowedFrom(StatePending))
	assert.Equal(t, []State{StatePending}, AllowedFrom(StateProcessing))
	assert.Equal(t, []State{StatePending, StateProcessing}, AllowedFrom(StateSucceeded))
	assert.Equal(t, []State{StatePending, StateProcessing}, AllowedFrom(StateFailed))
}

func TestTask_Apply_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		applied bool
	}{
		{"pending to processing", StatePending, StateProcessing, true},
		{"pending to succeeded", StatePending, StateSucceeded, true},
		{"pending to failed", StatePending, StateFailed, true},
		{"processing to succeeded", StateProcessing, StateSucceeded, true},
		{"processing to failed", StateProcessing, StateFailed, true},
		{"pending to pending", StatePending, StatePending, false},
		{"processing to pending", StateProcessing, StatePending, false},
		{"processing to processing", StateProcessing, StateProcessing, false},
		{"succeeded to processing", StateSucceeded, StateProcessing, false},
		{"succeeded to failed", StateSucceeded, StateFailed, false},
		{"failed to succeeded", StateFailed, StateSucceeded, false},
		{"failed to pending", StateFailed, StatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New("t", "kling", "m", 0, nil)
			tk.State = tt.from

			got := tk.Apply(Update{State: tt.to}, time.Now())

			assert.Equal(t, tt.applied, got)
			if tt.applied {
				assert.Equal(t, tt.to, tk.State)
			} else {
				assert.Equal(t, tt.from, tk.State)
			}
		})
	}
}

func TestTask_Apply_SucceededKeepsResults(t *testing.T) {
	tk := New("t", "kling", "m", 0, nil)
	at := time.Now()

	ok := tk.Apply(Update{
		State:       StateSucceeded,
		ResultURLs:  []string{"https://cdn.example.com/a.mp4"},
		FailCode:    "ignored",
		FailMessage: "ignored",
	}, at)

	require.True(t, ok)
	assert.Equal(t, []string{"https://cdn.example.com/a.mp4"}, tk.ResultURLs)
	assert.Empty(t, tk.FailCode)
	assert.Empty(t, tk.FailMessage)
	assert.Equal(t, at, tk.CompletedAt)
}

func TestTask_Apply_FailedDefaults(t *testing.T) {
	tk := New("t", "kling", "m", 0, nil)

	ok := tk.Apply(Update{State: StateFailed, ResultURLs: []string{"x"}}, time.Now())

	require.True(t, ok)
	assert.Nil(t, tk.ResultURLs)
	assert.Equal(t, DefaultFailCode, tk.FailCode)
	assert.Equal(t, DefaultFailMessage, tk.FailMessage)
}

func TestTask_Apply_StaleAfterSuccess(t *testing.T) {
	tk := New("t", "kling", "m", 0, nil)
	require.True(t, tk.Apply(Update{State: StateSucceeded, ResultURLs: []string{"u1"}}, time.Now()))

	ok := tk.Apply(Update{State: StateProcessing}, time.Now())

	assert.False(t, ok)
	assert.Equal(t, StateSucceeded, tk.State)
	assert.Equal(t, []string{"u1"}, tk.ResultURLs)
}

func TestTask_Clone(t *testing.T) {
	tk := New("t", "kling", "m", 10, json.RawMessage(`{}`))
	tk.ResultURLs = []string{"a"}

	c := tk.Clone()
	c.ResultURLs[0] = "b"
	c.State = StateFailed

	assert.Equal(t, "a", tk.ResultURLs[0])
	assert.Equal(t, StatePending, tk.State)
}
