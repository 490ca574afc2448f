// Package worker runs the periodic background tasks: stale job expiry,
// monthly credit resets and housekeeping of quota rows, dedupe keys and
// exported files.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/metrics"
)

// JobExpirer expires claimed jobs that stopped reporting progress.
type JobExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	PruneQuotas(ctx context.Context, now time.Time, retentionDays int) (int64, error)
}

// CreditResetter runs the monthly credit reset for accounts that are due.
type CreditResetter interface {
	ResetDue(ctx context.Context, now time.Time) (int, error)
}

// KeyPruner drops expired estimation idempotency keys.
type KeyPruner interface {
	PruneKeys(ctx context.Context, now time.Time) (int64, error)
}

// ExportCleaner deletes exported files older than maxAge.
type ExportCleaner interface {
	DeleteOldExports(ctx context.Context, maxAge time.Duration) (int, error)
}

// Refresher reloads runtime configuration when its cache is stale.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Scheduler drives the background tasks.
type Scheduler struct {
	jobs       JobExpirer
	credits    CreditResetter
	keys       KeyPruner
	exports    ExportCleaner
	refreshers []Refresher

	sweepInterval   time.Duration
	retentionDays   int
	exportRetention time.Duration
	now             func() time.Time

	running atomic.Int32

	cron   *cron.Cron
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Config holds scheduler configuration.
type Config struct {
	SweepInterval      time.Duration
	ResetSchedule      string
	PruneSchedule      string
	QuotaRetentionDays int
	ExportRetention    time.Duration

	// Refreshers are invoked on every sweep tick.
	Refreshers []Refresher

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Deps are the services the scheduler acts on. Keys and Exports are optional.
type Deps struct {
	Jobs    JobExpirer
	Credits CreditResetter
	Keys    KeyPruner
	Exports ExportCleaner
}

// New creates a scheduler. It fails when a cron expression does not parse.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = constants.DefaultExpirySweepInterval
	}
	if cfg.QuotaRetentionDays <= 0 {
		cfg.QuotaRetentionDays = constants.DefaultQuotaRetentionDays
	}
	if cfg.ExportRetention <= 0 {
		cfg.ExportRetention = constants.DefaultExportRetention
	}
	if cfg.ResetSchedule == "" {
		cfg.ResetSchedule = "5 0 * * *"
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "30 3 * * *"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		jobs:            deps.Jobs,
		credits:         deps.Credits,
		keys:            deps.Keys,
		exports:         deps.Exports,
		refreshers:      cfg.Refreshers,
		sweepInterval:   cfg.SweepInterval,
		retentionDays:   cfg.QuotaRetentionDays,
		exportRetention: cfg.ExportRetention,
		now:             cfg.Now,
		stop:            make(chan struct{}),
		logger:          logger.With("component", "scheduler"),
	}

	// Schedules are evaluated in UTC to line up with quota days and
	// monthly reset boundaries.
	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(cfg.ResetSchedule, s.runReset); err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", cfg.ResetSchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.runPrune); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
	}

	return s, nil
}

// Start runs every task once, then starts the sweep ticker and the cron jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting", "sweep_interval", s.sweepInterval)

	s.Sweep(ctx)
	s.Reset(ctx)
	s.Prune(ctx)

	s.wg.Add(1)
	go s.runSweeper(ctx)
	s.cron.Start()
}

// Stop halts the ticker and waits for any running cron job to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping")
	close(s.stop)
	s.wg.Wait()
	<-s.cron.Stop().Done()
	s.logger.Info("stopped")
}

func (s *Scheduler) runSweeper(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Busy reports whether a task is running.
func (s *Scheduler) Busy() bool {
	return s.running.Load() > 0
}

func (s *Scheduler) enter() func() {
	s.running.Add(1)
	return func() { s.running.Add(-1) }
}

// Sweep expires stale jobs and refreshes runtime configuration.
func (s *Scheduler) Sweep(ctx context.Context) {
	defer s.enter()()

	for _, r := range s.refreshers {
		r.Refresh(ctx)
	}

	if s.jobs == nil {
		return
	}
	n, err := s.jobs.ExpireStale(ctx, s.now())
	s.record("expire_stale", err)
	if err != nil {
		s.logger.Error("failed to expire stale jobs", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired stale jobs", "count", n)
	}
}

// Reset grants the monthly allotment to every account past its boundary.
func (s *Scheduler) Reset(ctx context.Context) {
	defer s.enter()()

	if s.credits == nil {
		return
	}
	_, err := s.credits.ResetDue(ctx, s.now())
	s.record("monthly_reset", err)
	if err != nil {
		s.logger.Error("monthly reset sweep failed", "error", err)
	}
}

// Prune deletes old quota rows, expired dedupe keys and old exports.
func (s *Scheduler) Prune(ctx context.Context) {
	defer s.enter()()

	now := s.now()

	if s.jobs != nil {
		n, err := s.jobs.PruneQuotas(ctx, now, s.retentionDays)
		s.record("prune_quotas", err)
		if err != nil {
			s.logger.Error("failed to prune quota rows", "error", err)
		} else if n > 0 {
			s.logger.Info("pruned quota rows", "count", n)
		}
	}

	if s.keys != nil {
		n, err := s.keys.PruneKeys(ctx, now)
		s.record("prune_keys", err)
		if err != nil {
			s.logger.Error("failed to prune idempotency keys", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned idempotency keys", "count", n)
		}
	}

	if s.exports != nil {
		n, err := s.exports.DeleteOldExports(ctx, s.exportRetention)
		s.record("prune_exports", err)
		if err != nil {
			s.logger.Error("failed to delete old exports", "error", err)
		} else if n > 0 {
			s.logger.Info("deleted old exports", "count", n)
		}
	}
}

// cron callbacks carry no context; they run under a background one that is
// never cancelled, and Stop waits for them.
func (s *Scheduler) runReset() { s.Reset(context.Background()) }
func (s *Scheduler) runPrune() { s.Prune(context.Background()) }

func (s *Scheduler) record(task string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordSchedulerRun(task, outcome)
}
