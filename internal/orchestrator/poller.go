package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/videotask-api/internal/task"
)

// PollerConfig configures the fallback poller.
type PollerConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAfter is how long a task may go unchecked before it is polled.
	StaleAfter time.Duration
	// BatchSize caps the tasks polled per sweep.
	BatchSize int
	// Concurrency caps the provider queries in flight.
	Concurrency int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked   int
	Completed int
	Errors    int
}

// Poller resolves tasks whose callback never arrived by querying the
// provider for tasks that have not been checked recently.
type Poller struct {
	svc    *Service
	repo   task.Repository
	cfg    PollerConfig
	logger *slog.Logger
}

// NewPoller creates a Poller over the service's repository.
func NewPoller(svc *Service, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		svc:    svc,
		repo:   svc.repo,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Duration("stale_after", p.cfg.StaleAfter),
		slog.Int("concurrency", p.cfg.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			if _, err := p.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SweepOnce refreshes one batch of stale active tasks.
func (p *Poller) SweepOnce(ctx context.Context) (SweepResult, error) {
	cutoff := p.svc.now().Add(-p.cfg.StaleAfter)
	tasks, err := p.repo.ListActive(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	if len(tasks) == 0 {
		return SweepResult{}, nil
	}

	var completed, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for _, t := range tasks {
		id := t.ID
		g.Go(func() error {
			refreshed, err := p.svc.Refresh(ctx, id)
			if err != nil {
				failed.Add(1)
				return nil
			}
			if refreshed.IsTerminal() {
				completed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{
		Checked:   len(tasks),
		Completed: int(completed.Load()),
		Errors:    int(failed.Load()),
	}
	p.logger.Debug("sweep finished",
		slog.Int("checked", res.Checked),
		slog.Int("completed", res.Completed),
		slog.Int("errors", res.Errors),
	)
	return res, nil
}
