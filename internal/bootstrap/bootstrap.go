// Package bootstrap provides dependency initialization for the video task API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/videotask-api/internal/billing"
	"github.com/maauso/videotask-api/internal/callback"
	"github.com/maauso/videotask-api/internal/config"
	"github.com/maauso/videotask-api/internal/kie"
	"github.com/maauso/videotask-api/internal/orchestrator"
	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/provider/kling"
	"github.com/maauso/videotask-api/internal/storage"
	"github.com/maauso/videotask-api/internal/task"
	"github.com/maauso/videotask-api/internal/task/postgres"
)

// Dependencies holds all initialized dependencies for the server and CLI.
type Dependencies struct {
	Service *orchestrator.Service
	Poller  *orchestrator.Poller
	Signer  *callback.Signer

	closers []func()
}

// Close releases resources such as the database pool.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	repo, err := initRepository(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	rates, err := billing.Load(cfg.BillingRatesFile, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("load billing rates: %w", err)
	}
	if rates.Len() > 0 {
		logger.Info("billing rates loaded",
			slog.String("file", cfg.BillingRatesFile),
			slog.Int("models", rates.Len()),
		)
	}

	kieClient, err := kie.NewClient(
		kie.WithAPIKey(cfg.KIEAPIKey),
		kie.WithBaseURL(cfg.KIEBaseURL),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create KIE client: %w", err)
	}

	registry := NewRegistry(kieClient, rates, logger)

	signer, err := callback.NewSigner(cfg.CallbackSecret, cfg.PublicBaseURL, cfg.CallbackTokenTTL)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create callback signer: %w", err)
	}
	if cfg.PublicBaseURL == "" {
		logger.Warn("PUBLIC_BASE_URL not set, tasks will be resolved by polling only")
	}

	archiver, err := initArchiver(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	svc := orchestrator.NewService(registry, repo, signer, orchestrator.Options{
		Archiver: archiver,
		Logger:   logger,
	})

	deps.Service = svc
	deps.Signer = signer
	deps.Poller = orchestrator.NewPoller(svc, orchestrator.PollerConfig{
		Interval:    cfg.PollInterval,
		StaleAfter:  cfg.PollStaleAfter,
		BatchSize:   cfg.PollBatchSize,
		Concurrency: cfg.PollConcurrency,
	}, logger)
	return deps, nil
}

// NewRegistry registers every provider adapter over client.
func NewRegistry(client kie.Client, rates *billing.RateTable, logger *slog.Logger) *provider.Registry {
	return provider.NewRegistry(
		kling.New(client,
			kling.WithRateTable(rates),
			kling.WithLogger(logger),
		),
	)
}

// initRepository selects Postgres when a DSN is configured, else memory.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (task.Repository, error) {
	if !cfg.PostgresEnabled() {
		logger.Warn("DATABASE_URL not set, using in-memory task repository")
		return task.NewMemoryRepository(), nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	deps.closers = append(deps.closers, pool.Close)

	store := postgres.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	logger.Info("postgres task repository configured")
	return store, nil
}

// initArchiver creates the result archive backend, or nil when disabled.
func initArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Archiver, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Archiver, err := storage.NewS3Archiver(ctx, cfg.ArchiveDir, s3Cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("create S3 archiver: %w", err)
		}
		logger.Info("S3 archive configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Archiver, nil
	}

	if cfg.ArchiveDir != "" {
		local, err := storage.NewLocalArchiver(cfg.ArchiveDir, nil)
		if err != nil {
			return nil, fmt.Errorf("create local archiver: %w", err)
		}
		logger.Info("local archive configured",
			slog.String("dir", local.Dir()),
		)
		return local, nil
	}

	return nil, nil
}
