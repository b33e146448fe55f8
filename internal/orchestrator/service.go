// Package orchestrator tracks generation tasks from creation to a terminal
// state. It reconciles the three sources of truth about a task (the create
// response, provider callbacks and polling) through compare-and-set updates
// on the task repository.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/storage"
	"github.com/maauso/videotask-api/internal/task"
)

// ErrProviderMismatch is returned when a callback names a provider other
// than the one that created the task.
var ErrProviderMismatch = errors.New("orchestrator: callback provider does not own task")

// CallbackSigner issues the callback URL handed to a provider at creation.
type CallbackSigner interface {
	URL(provider string) (string, error)
}

// Quote is the price of a request.
type Quote struct {
	Provider string `json:"provider"`
	Model    string `json:"model_name"`
	Credits  int    `json:"credits"`
}

// Options configures optional Service collaborators.
type Options struct {
	// Archiver mirrors result files of succeeded tasks. Nil disables archiving.
	Archiver storage.Archiver
	// ArchiveTimeout bounds a single archive run. Defaults to 10 minutes.
	ArchiveTimeout time.Duration
	Logger         *slog.Logger
}

// Service is the task orchestrator.
type Service struct {
	registry       *provider.Registry
	repo           task.Repository
	signer         CallbackSigner
	archiver       storage.Archiver
	archiveTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	// archives tracks background archive runs.
	archives sync.WaitGroup
}

// NewService creates a new Service. signer may be nil, in which case
// providers receive no callback URL and tasks are resolved by polling.
func NewService(registry *provider.Registry, repo task.Repository, signer CallbackSigner, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ArchiveTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Service{
		registry:       registry,
		repo:           repo,
		signer:         signer,
		archiver:       opts.Archiver,
		archiveTimeout: timeout,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Providers returns the registered provider names.
func (s *Service) Providers() []string {
	return s.registry.Names()
}

// Quote returns the credit cost of req without contacting the provider.
func (s *Service) Quote(req provider.GenerationRequest) (Quote, error) {
	adapter, err := s.registry.Lookup(req.ModelName)
	if err != nil {
		return Quote{}, err
	}
	credits, err := adapter.CalculateCredits(req)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Provider: adapter.Name(), Model: req.ModelName, Credits: credits}, nil
}

// Submit prices req, creates the provider job and persists a pending task.
// Credits are computed before any network call. Create failures are
// returned unchanged and never retried here: a create that failed in
// transport may still have provisioned a billable job.
func (s *Service) Submit(ctx context.Context, req provider.GenerationRequest) (*task.Task, error) {
	adapter, err := s.registry.Lookup(req.ModelName)
	if err != nil {
		return nil, err
	}

	credits, err := adapter.CalculateCredits(req)
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: snapshot request: %w", err)
	}

	var callbackURL string
	if s.signer != nil {
		if callbackURL, err = s.signer.URL(adapter.Name()); err != nil {
			return nil, fmt.Errorf("orchestrator: callback url: %w", err)
		}
	}

	res, err := adapter.CreateTask(ctx, req, callbackURL)
	if err != nil {
		attrs := []any{
			slog.String("provider", adapter.Name()),
			slog.String("model", req.ModelName),
			slog.String("error", err.Error()),
		}
		var pe *provider.ProviderError
		if errors.As(err, &pe) {
			attrs = append(attrs, slog.Bool("ambiguous", pe.Ambiguous()))
		}
		if provider.IsValidation(err) {
			s.logger.Info("generation request rejected", attrs...)
		} else {
			s.logger.Error("provider create failed", attrs...)
		}
		return nil, err
	}

	t := task.New(res.TaskID, adapter.Name(), req.ModelName, credits, snapshot)
	if err := s.repo.Save(ctx, t); err != nil {
		// The provider job exists but is untracked.
		s.logger.Error("failed to save task",
			slog.String("task_id", res.TaskID),
			slog.String("provider", adapter.Name()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("orchestrator: save task %s: %w", res.TaskID, err)
	}

	s.logger.Info("task created",
		slog.String("task_id", t.ID),
		slog.String("provider", t.Provider),
		slog.String("model", t.Model),
		slog.Int("credits", credits),
		slog.Bool("callback", callbackURL != ""),
	)
	return t, nil
}

// Get returns the stored task.
func (s *Service) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.repo.FindByID(ctx, id)
}

// Refresh queries the provider for a non-terminal task and reconciles the
// answer. Terminal tasks are returned as stored.
func (s *Service) Refresh(ctx context.Context, id string) (*task.Task, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return t, nil
	}

	adapter, err := s.registry.ByName(t.Provider)
	if err != nil {
		return nil, err
	}

	res, queryErr := adapter.QueryTask(ctx, id)
	if err := s.repo.Touch(ctx, id, s.now()); err != nil {
		s.logger.Warn("failed to touch task",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}
	if queryErr != nil {
		s.logger.Warn("provider query failed",
			slog.String("task_id", id),
			slog.String("provider", t.Provider),
			slog.String("error", queryErr.Error()),
		)
		return nil, queryErr
	}

	if _, err := s.reconcile(ctx, adapter, id, res, "poll"); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// HandleCallback applies a provider completion notification. body has
// already been authenticated by the caller.
func (s *Service) HandleCallback(ctx context.Context, providerName string, body []byte) (*task.Task, error) {
	adapter, err := s.registry.ByName(providerName)
	if err != nil {
		return nil, err
	}

	res, err := adapter.ParseCallback(body)
	if err != nil {
		return nil, err
	}

	t, err := s.repo.FindByID(ctx, res.TaskID)
	if err != nil {
		return nil, err
	}
	if t.Provider != adapter.Name() {
		return nil, fmt.Errorf("%w: task %s belongs to %s", ErrProviderMismatch, t.ID, t.Provider)
	}

	if _, err := s.reconcile(ctx, adapter, res.TaskID, res, "callback"); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, res.TaskID)
}

// reconcile maps a provider report onto the canonical lifecycle and applies
// it with compare-and-set. An update that does not take effect (duplicate,
// stale or aimed at a terminal task) is expected and only logged.
func (s *Service) reconcile(ctx context.Context, adapter provider.Adapter, id string, res provider.QueryResult, source string) (bool, error) {
	u := provider.ToUpdate(adapter, res)

	applied, err := s.repo.CompareAndSetState(ctx, id, u)
	if err != nil {
		return false, fmt.Errorf("orchestrator: reconcile %s: %w", id, err)
	}

	if !applied {
		s.logger.Debug("update ignored",
			slog.String("task_id", id),
			slog.String("source", source),
			slog.String("native_state", res.NativeState),
			slog.String("state", string(u.State)),
		)
		return false, nil
	}

	switch u.State {
	case task.StateSucceeded:
		s.logger.Info("task succeeded",
			slog.String("task_id", id),
			slog.String("source", source),
			slog.Int("results", len(u.ResultURLs)),
		)
		s.archive(id, u.ResultURLs)
	case task.StateFailed:
		n := u.Normalize()
		s.logger.Warn("task failed",
			slog.String("task_id", id),
			slog.String("source", source),
			slog.String("fail_code", n.FailCode),
			slog.String("fail_message", n.FailMessage),
		)
	default:
		s.logger.Debug("task advanced",
			slog.String("task_id", id),
			slog.String("source", source),
			slog.String("state", string(u.State)),
		)
	}
	return true, nil
}

// archive mirrors result files in the background. Failures are logged only;
// the provider URLs stay authoritative.
func (s *Service) archive(id string, urls []string) {
	if s.archiver == nil || len(urls) == 0 {
		return
	}

	s.archives.Add(1)
	go func() {
		defer s.archives.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.archiveTimeout)
		defer cancel()

		archived, err := s.archiver.Archive(ctx, id, urls)
		if err != nil {
			s.logger.Error("failed to archive results",
				slog.String("task_id", id),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := s.repo.AttachArchive(ctx, id, archived); err != nil {
			s.logger.Error("failed to record archived results",
				slog.String("task_id", id),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("results archived",
			slog.String("task_id", id),
			slog.Int("files", len(archived)),
		)
	}()
}

// Wait blocks until background archive runs have finished.
func (s *Service) Wait() {
	s.archives.Wait()
}
