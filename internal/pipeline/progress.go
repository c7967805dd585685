package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/model"
)

// trackProgress registers a live snapshot for the run.
func (o *Orchestrator) trackProgress(runID int64, total int) {
	o.progMu.Lock()
	defer o.progMu.Unlock()
	o.progress[runID] = &model.ProgressSnapshot{RunID: runID, Status: model.RunRunning, Total: total}
}

// stepProgress advances the processed counter and copies the running totals.
func (o *Orchestrator) stepProgress(runID int64, processed int, totals model.RunTotals) {
	o.progMu.Lock()
	defer o.progMu.Unlock()
	if p, ok := o.progress[runID]; ok {
		p.Processed = processed
		p.Totals = totals
	}
}

func (o *Orchestrator) untrackProgress(runID int64) {
	o.progMu.Lock()
	defer o.progMu.Unlock()
	delete(o.progress, runID)
}

// rememberAdmission records a job the run definitively admitted to the
// inbox so end-of-run notification can announce it.
func (o *Orchestrator) rememberAdmission(runID, jobID int64) {
	o.progMu.Lock()
	defer o.progMu.Unlock()
	o.admitted[runID] = append(o.admitted[runID], jobID)
}

func (o *Orchestrator) takeAdmissions(runID int64) []int64 {
	o.progMu.Lock()
	defer o.progMu.Unlock()
	ids := o.admitted[runID]
	delete(o.admitted, runID)
	return ids
}

// notifyAdmitted announces the run's new inbox jobs through every
// configured notifier. Best effort: notifier failures are logged, never
// propagated.
func (o *Orchestrator) notifyAdmitted(ctx context.Context, runID int64) {
	ids := o.takeAdmissions(runID)
	if len(ids) == 0 || len(o.opts.Notifiers) == 0 {
		return
	}

	jobs := make([]*model.JobRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := o.store.GetJob(ctx, id)
		if err != nil {
			o.logger.Warn("loading admitted job failed", "job_id", id, "error", err)
			continue
		}
		if rec.Status == model.StatusInbox {
			jobs = append(jobs, rec)
		}
	}
	if len(jobs) == 0 {
		return
	}

	for _, n := range o.opts.Notifiers {
		if err := n.Notify(ctx, runID, jobs); err != nil {
			o.logger.Warn("notifier failed", "run_id", runID, "error", err)
		}
	}
}

// GetRunProgress returns a point-in-time view of a run: the live snapshot
// while it executes, the persisted summary afterwards.
func (o *Orchestrator) GetRunProgress(ctx context.Context, runID int64) (*model.ProgressSnapshot, error) {
	o.progMu.Lock()
	if p, ok := o.progress[runID]; ok {
		snap := *p
		o.progMu.Unlock()
		return &snap, nil
	}
	o.progMu.Unlock()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", runID, err)
	}
	snap := &model.ProgressSnapshot{RunID: runID, Status: run.Status}
	if run.Summary != "" {
		var summary model.RunSummary
		if err := json.Unmarshal([]byte(run.Summary), &summary); err == nil {
			snap.Totals = summary.Totals
			snap.Processed = summary.Totals.Fetched
			snap.Total = summary.Totals.Fetched
		}
	}
	return snap, nil
}

// ListRuns returns the most recent run summaries, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]*model.RunSummary, error) {
	runs, err := o.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*model.RunSummary, 0, len(runs))
	for _, run := range runs {
		summary := &model.RunSummary{RunID: run.ID, Status: run.Status}
		if run.Summary != "" {
			if err := json.Unmarshal([]byte(run.Summary), summary); err != nil {
				o.logger.Warn("unparseable run summary", "run_id", run.ID, "error", err)
			}
		}
		summary.RunID = run.ID
		summary.Status = run.Status
		out = append(out, summary)
	}
	return out, nil
}
