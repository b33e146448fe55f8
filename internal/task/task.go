// Package task provides the GenerationTask aggregate and the canonical state
// machine that every provider's native status vocabulary is mapped onto.
// It also defines the repository port used to persist tasks.
package task

import (
	"encoding/json"
	"sync"
	"time"
)

// State is the canonical lifecycle state of a generation task.
type State string

const (
	// StatePending indicates the provider accepted the task but has not started it.
	StatePending State = "pending"
	// StateProcessing indicates the provider is rendering the task.
	StateProcessing State = "processing"
	// StateSucceeded indicates the task finished and result URLs are available.
	StateSucceeded State = "succeeded"
	// StateFailed indicates the task finished without a result.
	StateFailed State = "failed"
)

// Failure defaults recorded when a provider reports failure without detail.
const (
	DefaultFailCode    = "unknown_error"
	DefaultFailMessage = "unknown error"
)

// IsValid returns true if s is one of the four canonical states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateProcessing, StateSucceeded, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for succeeded and failed. Terminal states are absorbing.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StatePending:    {StateProcessing, StateSucceeded, StateFailed},
	StateProcessing: {StateSucceeded, StateFailed},
	StateSucceeded:  {},
	StateFailed:     {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the states a task must currently be in for a
// transition to next to take effect. Stores use it as the expected-state
// set of a compare-and-set.
func AllowedFrom(next State) []State {
	var from []State
	for _, s := range []State{StatePending, StateProcessing, StateSucceeded, StateFailed} {
		if canTransition(s, next) {
			from = append(from, s)
		}
	}
	return from
}

// Update is a state report coming from either the callback or the polling channel.
type Update struct {
	State       State
	ResultURLs  []string
	FailCode    string
	FailMessage string
}

// Normalize drops fields that do not belong to the reported state and fills
// failure defaults, so result URLs only exist on success and failure detail
// only exists on failure.
func (u Update) Normalize() Update {
	switch u.State {
	case StateSucceeded:
		urls := make([]string, len(u.ResultURLs))
		copy(urls, u.ResultURLs)
		return Update{State: u.State, ResultURLs: urls}
	case StateFailed:
		n := Update{State: u.State, FailCode: u.FailCode, FailMessage: u.FailMessage}
		if n.FailCode == "" {
			n.FailCode = DefaultFailCode
		}
		if n.FailMessage == "" {
			n.FailMessage = DefaultFailMessage
		}
		return n
	default:
		return Update{State: u.State}
	}
}

// Task represents a provider generation job tracked to completion.
type Task struct {
	mu sync.RWMutex

	// ID is the provider-assigned task identifier.
	ID string
	// Provider is the adapter name that created the task.
	Provider string
	// Model is the model name from the originating request.
	Model string
	// State is the canonical task state.
	State State
	// ResultURLs holds the provider result materials (succeeded only).
	ResultURLs []string
	// ArchivedURLs holds mirrored copies of ResultURLs, if archiving is enabled.
	ArchivedURLs []string
	// FailCode is the machine-readable failure class (failed only).
	FailCode string
	// FailMessage is the human-readable failure reason (failed only).
	FailMessage string
	// Credits is the cost computed once at creation time.
	Credits int
	// Request is the immutable JSON snapshot of the generation request.
	Request json.RawMessage
	// CreatedAt is when the task was created.
	CreatedAt time.Time
	// UpdatedAt is when the task state last changed.
	UpdatedAt time.Time
	// LastCheckedAt is when the provider was last consulted about this task.
	LastCheckedAt time.Time
	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time
}

// New creates a pending task for a provider task id.
func New(id, provider, model string, credits int, request json.RawMessage) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:            id,
		Provider:      provider,
		Model:         model,
		State:         StatePending,
		Credits:       credits,
		Request:       request,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastCheckedAt: now,
	}
}

// Apply moves the task to u.State if the transition is allowed and reports
// whether it took effect. Updates aimed at a terminal task, same-state
// reports and backwards moves are ignored.
func (t *Task) Apply(u Update, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.State, u.State) {
		return false
	}

	n := u.Normalize()
	t.State = n.State
	t.ResultURLs = n.ResultURLs
	t.FailCode = n.FailCode
	t.FailMessage = n.FailMessage
	t.UpdatedAt = at
	if n.State.IsTerminal() {
		t.CompletedAt = at
	}
	return true
}

// Touch records that the provider was consulted at the given time.
func (t *Task) Touch(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastCheckedAt = at
}

// SetArchive records the mirrored result locations.
func (t *Task) SetArchive(urls []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ArchivedURLs = append([]string(nil), urls...)
	t.UpdatedAt = time.Now().UTC()
}

// GetState returns the current state (thread-safe).
func (t *Task) GetState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.GetState().IsTerminal()
}

// Clone creates a deep copy of the task for safe reads.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &Task{
		ID:            t.ID,
		Provider:      t.Provider,
		Model:         t.Model,
		State:         t.State,
		ResultURLs:    cloneStrings(t.ResultURLs),
		ArchivedURLs:  cloneStrings(t.ArchivedURLs),
		FailCode:      t.FailCode,
		FailMessage:   t.FailMessage,
		Credits:       t.Credits,
		Request:       append(json.RawMessage(nil), t.Request...),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		LastCheckedAt: t.LastCheckedAt,
		CompletedAt:   t.CompletedAt,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
