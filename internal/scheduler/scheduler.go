// Package scheduler runs the ingestion daemon: per-family cron schedules
// plus the run-independent batch reconcile timer.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/pipeline"
)

// Schedules holds one cron expression per run family plus the reconcile
// interval. Empty entries are not registered.
type Schedules struct {
	Core      string
	Search    string
	BigTech   string
	Cleanup   string
	Reconcile string
}

// Scheduler wraps robfig/cron and triggers orchestrator runs on schedule.
type Scheduler struct {
	cron      *cron.Cron
	orch      *pipeline.Orchestrator
	schedules Schedules
	logger    *slog.Logger
}

// New creates a scheduler over the given orchestrator.
func New(orch *pipeline.Orchestrator, schedules Schedules, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		orch:      orch,
		schedules: schedules,
		logger:    logger,
	}
}

// Run registers every configured schedule, starts the cron loop, and blocks
// until ctx is cancelled. Returns nil on graceful shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	entries := []struct {
		spec   string
		family model.RunFamily
	}{
		{s.schedules.Core, model.FamilyCore},
		{s.schedules.Search, model.FamilySearch},
		{s.schedules.BigTech, model.FamilyBigTech},
		{s.schedules.Cleanup, model.FamilyCleanup},
	}

	registered := 0
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		family := e.family
		if _, err := s.cron.AddFunc(e.spec, func() {
			s.trigger(ctx, family)
		}); err != nil {
			return fmt.Errorf("registering %s schedule %q: %w", family, e.spec, err)
		}
		registered++
	}

	if s.schedules.Reconcile != "" {
		if _, err := s.cron.AddFunc(s.schedules.Reconcile, func() {
			s.reconcile(ctx)
		}); err != nil {
			return fmt.Errorf("registering reconcile schedule %q: %w", s.schedules.Reconcile, err)
		}
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("no schedules configured")
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "entries", registered)

	<-ctx.Done()
	stop := s.cron.Stop()
	<-stop.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// trigger fires one run of a family. An already-running family is expected
// on slow cycles and logged at debug, not as a failure.
func (s *Scheduler) trigger(ctx context.Context, family model.RunFamily) {
	summary, err := s.orch.TriggerRun(ctx, family, "scheduled", "")
	if err != nil {
		if err == pipeline.ErrFamilyBusy {
			s.logger.Debug("skipping overlapping run", "family", family)
			return
		}
		s.logger.Error("scheduled run failed", "family", family, "error", err)
		return
	}
	s.logger.Info("scheduled run complete", "family", family, "run_id", summary.RunID, "status", summary.Status)
}

func (s *Scheduler) reconcile(ctx context.Context) {
	stats, err := s.orch.Reconcile(ctx)
	if err != nil {
		s.logger.Error("batch reconcile failed", "error", err)
		return
	}
	if stats.Polled > 0 {
		s.logger.Info("batch reconcile complete",
			"polled", stats.Polled,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"verdicts", stats.VerdictsApplied,
		)
	}
}
