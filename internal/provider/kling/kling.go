// Package kling implements the provider adapter for the Kling video models
// served through the KIE jobs API. Two families coexist: the legacy
// single-image models, billed in flat duration buckets, and the 3.0 family
// with multi-shot and start/end-frame modes, billed per second.
package kling

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/maauso/videotask-api/internal/billing"
	"github.com/maauso/videotask-api/internal/kie"
	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/task"
)

// Name is the provider name of the adapter.
const Name = "kling"

// Flat legacy prices.
const (
	legacyShortCredits = 210
	legacyLongCredits  = 420
)

// fallbackRates are the per-second rates used when the rate table has no
// entry for a 3.0 model.
var fallbackRates = map[string]billing.AudioRates{
	provider.ModeStd: {Silent: 60, Audio: 90},
	provider.ModePro: {Silent: 85, Audio: 120},
}

// Adapter is the Kling provider.Adapter.
type Adapter struct {
	client kie.Client
	rates  *billing.RateTable
	logger *slog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithRateTable sets the billing rate table. Without one every lookup
// falls back to the built-in rates.
func WithRateTable(t *billing.RateTable) Option {
	return func(a *Adapter) {
		a.rates = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// New creates a Kling adapter backed by client.
func New(client kie.Client, opts ...Option) *Adapter {
	a := &Adapter{client: client}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Name returns "kling".
func (a *Adapter) Name() string {
	return Name
}

// Models returns the model prefix served by the adapter.
func (a *Adapter) Models() []string {
	return []string{"kling-", "kling/"}
}

// CreateTask validates req, maps it to the wire payload and submits it once.
func (a *Adapter) CreateTask(ctx context.Context, req provider.GenerationRequest, callbackURL string) (provider.CreateResult, error) {
	body, err := a.BuildRequest(req, callbackURL)
	if err != nil {
		return provider.CreateResult{}, err
	}

	taskID, err := a.client.CreateTask(ctx, body)
	if err != nil {
		return provider.CreateResult{}, relabel(err)
	}

	a.logger.Debug("kling task created",
		slog.String("task_id", taskID),
		slog.String("wire_model", body.Model),
	)
	return provider.CreateResult{TaskID: taskID}, nil
}

// BuildRequest validates req and returns the createTask body it maps to.
func (a *Adapter) BuildRequest(req provider.GenerationRequest, callbackURL string) (kie.CreateTaskRequest, error) {
	p, err := validate(req)
	if err != nil {
		return kie.CreateTaskRequest{}, err
	}
	return p.createRequest(callbackURL), nil
}

// QueryTask reads the provider's record of taskID.
func (a *Adapter) QueryTask(ctx context.Context, taskID string) (provider.QueryResult, error) {
	rec, err := a.client.RecordInfo(ctx, taskID)
	if err != nil {
		return provider.QueryResult{}, relabel(err)
	}
	if rec.TaskID == "" {
		rec.TaskID = taskID
	}
	return toQueryResult(rec), nil
}

// ParseCallback decodes a completion notification.
func (a *Adapter) ParseCallback(body []byte) (provider.QueryResult, error) {
	rec, err := kie.ParseRecord(body)
	if err != nil {
		return provider.QueryResult{}, provider.Invalid("body", "%v", err)
	}
	if rec.TaskID == "" {
		return provider.QueryResult{}, provider.Invalid("taskId", "is required in callback payload")
	}
	return toQueryResult(rec), nil
}

// CanonicalState maps Kling's native state onto the canonical lifecycle.
func (a *Adapter) CanonicalState(native string) task.State {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case "waiting", "queuing":
		return task.StatePending
	case "generating":
		return task.StateProcessing
	case "success":
		return task.StateSucceeded
	case "fail":
		return task.StateFailed
	default:
		return task.StateProcessing
	}
}

// CalculateCredits returns the credit cost of req. Legacy models cost a
// flat bucket price; 3.0 models cost a per-second rate times the billed
// duration, which is re-validated here.
func (a *Adapter) CalculateCredits(req provider.GenerationRequest) (int, error) {
	model := strings.TrimSpace(req.ModelName)
	if model == "" {
		return 0, provider.Invalid("model_name", "is required")
	}

	if FamilyOf(model) == FamilyLegacy {
		seconds := legacyDuration(req)
		if credits, ok := a.rates.Bucket(model, seconds); ok {
			return credits, nil
		}
		if seconds <= legacyShortSeconds {
			return legacyShortCredits, nil
		}
		return legacyLongCredits, nil
	}

	vm, err := provider.ResolveVideoMode(req)
	if err != nil {
		return 0, err
	}
	seconds, err := resolveDuration(req)
	if err != nil {
		return 0, err
	}
	if vm == provider.VideoModeMultiShot {
		if seconds, err = segmentDurations(req, seconds); err != nil {
			return 0, err
		}
	}

	mode := ResolveMode(req)
	sound := resolveSound(req, vm)
	return a.perSecondRate(model, mode, sound) * seconds, nil
}

func (a *Adapter) perSecondRate(model, mode string, sound bool) int {
	if rate, ok := a.rates.PerSecond(model, mode, sound); ok {
		return rate
	}
	cell := fallbackRates[mode]
	if sound {
		return cell.Audio
	}
	return cell.Silent
}

func toQueryResult(rec kie.Record) provider.QueryResult {
	return provider.QueryResult{
		TaskID:      rec.TaskID,
		NativeState: rec.State,
		ResultURLs:  rec.ResultURLs,
		FailCode:    rec.FailCode,
		FailMessage: rec.FailMsg,
	}
}

// relabel attributes a client ProviderError to this adapter.
func relabel(err error) error {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		pe.Provider = Name
	}
	return err
}
