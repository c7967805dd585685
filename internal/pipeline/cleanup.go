package pipeline

import (
	"context"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/gate"
	"github.com/evanchen57/jobsieve/internal/model"
)

const cleanupBatchSize = 2000

// runCleanup re-evaluates every inbox job against the current profile and
// gate thresholds, demoting the ones that no longer pass. Jobs with an
// outstanding batch review keep their optimistic placement, and jobs the
// classifier already judged are not second-guessed by the rules.
func (o *Orchestrator) runCleanup(ctx context.Context, runID int64) (*model.RunSummary, error) {
	summary := &model.RunSummary{RunID: runID, Family: model.FamilyCleanup}

	jobs, err := o.store.ListJobsByStatus(ctx, model.StatusInbox, cleanupBatchSize)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("listing inbox: %v", err))
		return o.finalize(ctx, runID, summary)
	}

	o.trackProgress(runID, len(jobs))
	defer o.untrackProgress(runID)

	for i, rec := range jobs {
		o.stepProgress(runID, i+1, summary.Totals)

		if rec.LLMReviewState == model.ReviewPending || rec.FitSource == model.FitSourceLLM {
			summary.Totals.Skipped++
			continue
		}

		job := model.NormalizedJob{
			Company:  rec.Company,
			Title:    rec.Title,
			Location: rec.Location,
			PostDate: rec.PostDate,
			Source:   rec.Source,
			URL:      rec.URL,
			JDText:   rec.JDText,
		}.Normalize()

		verdict := gate.Evaluate(job, o.opts.Profile, o.opts.Gate)
		keep := verdict.AdmittedToInbox || verdict.NeedsLLM

		if err := o.store.SetCleanupOutcome(ctx, rec.ID, runID, keep); err != nil {
			summary.Totals.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("cleanup job %d: %v", rec.ID, err))
			continue
		}

		eventType := model.EventCleanupKept
		if keep {
			summary.Quality.High++
		} else {
			eventType = model.EventCleanupFiltered
			summary.Quality.Filtered++
		}
		if err := o.store.AddEvent(ctx, rec.ID, runID, eventType,
			fmt.Sprintf("re-gate score %d (%s)", verdict.FitScore, verdict.FitLabel), nil); err != nil {
			o.logger.Warn("recording cleanup event failed", "job_id", rec.ID, "error", err)
		}
		summary.Totals.Fetched++
	}

	return o.finalize(ctx, runID, summary)
}
