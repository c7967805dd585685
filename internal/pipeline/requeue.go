package pipeline

import (
	"context"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/llmfit"
	"github.com/evanchen57/jobsieve/internal/model"
)

const requeueLimit = 200

// RequeueFailedBatchItems re-evaluates every failed batch item under a new
// run: cache hits apply immediately, the rest are queued and flushed as a
// fresh provider batch. Returns how many items were queued again.
func (o *Orchestrator) RequeueFailedBatchItems(ctx context.Context) (int, error) {
	items, err := o.store.FailedItems(ctx, requeueLimit)
	if err != nil {
		return 0, fmt.Errorf("listing failed items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	runID, err := o.store.CreateRun(ctx, "requeue")
	if err != nil {
		return 0, fmt.Errorf("creating requeue run: %w", err)
	}
	summary := &model.RunSummary{RunID: runID, Family: model.FamilyCore}

	queued := 0
	seen := make(map[int64]bool) // one retry per job, whatever the item count
	for _, item := range items {
		if seen[item.JobID] {
			continue
		}
		seen[item.JobID] = true

		rec, err := o.store.GetJob(ctx, item.JobID)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("loading job %d: %v", item.JobID, err))
			continue
		}
		if rec.Status.Terminal() {
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

		outcome, err := o.classifier.QueueBatch(ctx, runID, rec.ID, job, o.opts.Profile)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("requeue job %d: %v", rec.ID, err))
			continue
		}
		if !outcome.Skipped {
			admitted := outcome.Fit.Admitted(o.classifier.AdmitThreshold())
			if err := o.store.ApplyLLMFit(ctx, rec.ID, runID, outcome.Fit, admitted); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("apply cached fit to job %d: %v", rec.ID, err))
				continue
			}
			summary.LLM.CacheHits++
			continue
		}
		if outcome.SkipReason != llmfit.SkipBatchQueued {
			summary.LLM.Skipped++
			summary.Totals.Skipped++
			continue
		}
		if err := o.store.MarkPendingLLM(ctx, rec.ID, runID, outcome.CustomID); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("pending job %d: %v", rec.ID, err))
			continue
		}
		summary.LLM.BatchQueued++
		queued++
	}

	if queued > 0 {
		_, flushed, err := o.classifier.FlushBatch(ctx, runID)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("batch flush: %v", err))
		}
		summary.LLM.BatchFlushed = flushed
	}

	summary.Totals.Fetched = len(items)
	if _, err := o.finalize(ctx, runID, summary); err != nil {
		return queued, err
	}
	return queued, nil
}
