package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/maauso/videotask-api/internal/task"
)

// CreateResult is returned by a successful createTask.
type CreateResult struct {
	TaskID string
}

// QueryResult is a provider's report on a task, from a poll or a callback.
type QueryResult struct {
	TaskID string
	// NativeState is the provider's own status string.
	NativeState string
	ResultURLs  []string
	FailCode    string
	FailMessage string
}

// Adapter defines the contract implemented once per provider family.
type Adapter interface {
	// Name returns the provider name used in callback routes and task records.
	Name() string

	// Models returns the model names, or model-name prefixes ending in "-"
	// or "/", served by this adapter.
	Models() []string

	// CreateTask validates req and submits it. It is not idempotent: every
	// success provisions a billable job, so callers must not retry blindly.
	// Returns *ValidationError without any network call when req is invalid.
	CreateTask(ctx context.Context, req GenerationRequest, callbackURL string) (CreateResult, error)

	// QueryTask reads the provider's view of a task. Safe to retry.
	QueryTask(ctx context.Context, taskID string) (QueryResult, error)

	// CalculateCredits returns the internal credit cost of req. Pure; no I/O.
	CalculateCredits(req GenerationRequest) (int, error)

	// CanonicalState maps a native status onto the canonical lifecycle.
	// Unrecognized values map to task.StateProcessing.
	CanonicalState(native string) task.State

	// ParseCallback decodes an asynchronous completion notification.
	ParseCallback(body []byte) (QueryResult, error)
}

// ToUpdate converts a provider report into a canonical task update.
func ToUpdate(a Adapter, r QueryResult) task.Update {
	return task.Update{
		State:       a.CanonicalState(r.NativeState),
		ResultURLs:  r.ResultURLs,
		FailCode:    r.FailCode,
		FailMessage: r.FailMessage,
	}
}

type prefixEntry struct {
	prefix  string
	adapter Adapter
}

// Registry selects an adapter by model name. It is built once at startup
// and read-only afterwards.
type Registry struct {
	byName   map[string]Adapter
	exact    map[string]Adapter
	prefixes []prefixEntry
}

// NewRegistry indexes the given adapters by name and by the models they serve.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		byName: make(map[string]Adapter),
		exact:  make(map[string]Adapter),
	}
	for _, a := range adapters {
		r.byName[strings.ToLower(a.Name())] = a
		for _, m := range a.Models() {
			m = strings.ToLower(m)
			if strings.HasSuffix(m, "-") || strings.HasSuffix(m, "/") {
				r.prefixes = append(r.prefixes, prefixEntry{prefix: m, adapter: a})
				continue
			}
			r.exact[m] = a
		}
	}
	// Longest prefix wins.
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
	return r
}

// Lookup returns the adapter serving model.
func (r *Registry) Lookup(model string) (Adapter, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	if a, ok := r.exact[m]; ok {
		return a, nil
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(m, p.prefix) {
			return p.adapter, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
}

// ByName returns the adapter registered under name.
func (r *Registry) ByName(name string) (Adapter, error) {
	if a, ok := r.byName[strings.ToLower(name)]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
