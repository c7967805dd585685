package llmfit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evanchen57/jobsieve/internal/model"
)

// ReconcileStats summarizes one reconciliation pass over active batches.
type ReconcileStats struct {
	Polled          int `json:"polled"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	StillRunning    int `json:"still_running"`
	VerdictsApplied int `json:"verdicts_applied"`
	ItemsFailed     int `json:"items_failed"`
}

// batchOutputLine is one line of the provider's batch output file.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                           `json:"status_code"`
		Body       openai.ChatCompletionResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const activeBatchPollLimit = 50

// Reconcile polls every batch still awaiting a provider verdict and settles
// the ones that reached a terminal status. Completed batches have their
// output applied per job exactly like a synchronous verdict; dead batches
// fail their items and demote the affected reviews. Errors on one batch do
// not stop the others.
func (c *Classifier) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	batches, err := c.store.ActiveBatches(ctx, activeBatchPollLimit)
	if err != nil {
		return stats, fmt.Errorf("listing active batches: %w", err)
	}

	for _, b := range batches {
		stats.Polled++
		remote, err := c.client.RetrieveBatch(ctx, b.BatchID)
		if err != nil {
			c.logger.Warn("batch poll failed", "batch_id", b.BatchID, "error", err)
			continue
		}

		status := model.BatchStatus(remote.Status)
		switch status {
		case model.BatchCompleted:
			applied, failed, err := c.settleCompleted(ctx, b, remote)
			if err != nil {
				c.logger.Warn("batch settlement failed", "batch_id", b.BatchID, "error", err)
				continue
			}
			stats.Completed++
			stats.VerdictsApplied += applied
			stats.ItemsFailed += failed
		case model.BatchFailed, model.BatchExpired, model.BatchCancelled:
			if err := c.settleDead(ctx, b.BatchID, status); err != nil {
				c.logger.Warn("batch failure settlement failed", "batch_id", b.BatchID, "error", err)
				continue
			}
			stats.Failed++
		default:
			if status != b.Status {
				if err := c.store.UpdateBatchStatus(ctx, b.BatchID, status, deref(remote.OutputFileID), deref(remote.ErrorFileID)); err != nil {
					c.logger.Warn("batch status update failed", "batch_id", b.BatchID, "error", err)
				}
			}
			stats.StillRunning++
		}
	}
	return stats, nil
}

// settleCompleted drains the output file and applies one verdict per item.
// Items absent from the output are failed so the requeue path can retry
// them.
func (c *Classifier) settleCompleted(ctx context.Context, b *model.LLMBatch, remote openai.BatchResponse) (applied, failed int, err error) {
	if remote.OutputFileID == nil || *remote.OutputFileID == "" {
		if err := c.settleDead(ctx, b.BatchID, model.BatchFailed); err != nil {
			return 0, 0, err
		}
		return 0, 0, nil
	}
	outputFileID := *remote.OutputFileID

	items, err := c.store.ItemsForBatch(ctx, b.BatchID)
	if err != nil {
		return 0, 0, err
	}
	byCustomID := make(map[string]*model.LLMBatchItem, len(items))
	for _, it := range items {
		byCustomID[it.CustomID] = it
	}

	content, err := c.client.GetFileContent(ctx, outputFileID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching batch output %s: %w", outputFileID, err)
	}
	defer content.Close()

	tokens := map[int64][2]int{} // run id -> prompt, completion
	calls := map[int64]int{}

	scanner := bufio.NewScanner(content)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line batchOutputLine
		if err := json.Unmarshal(raw, &line); err != nil {
			c.logger.Warn("unparseable batch output line", "batch_id", b.BatchID, "error", err)
			continue
		}
		item, ok := byCustomID[line.CustomID]
		if !ok || item.State != model.ItemQueued {
			continue
		}
		delete(byCustomID, line.CustomID)

		if line.Error != nil || line.Response == nil || line.Response.StatusCode != 200 {
			c.failItem(ctx, item, lineError(line))
			failed++
			continue
		}
		body := line.Response.Body
		if len(body.Choices) == 0 {
			c.failItem(ctx, item, SkipInvalidPayload)
			failed++
			continue
		}
		fit, ok := parseFitContent(body.Choices[0].Message.Content)
		if !ok {
			c.failItem(ctx, item, SkipInvalidPayload)
			failed++
			continue
		}

		admitted := fit.Admitted(c.cfg.AdmitThreshold)
		if item.CacheKey != "" {
			if err := c.store.SetCachedFit(ctx, item.CacheKey, fit); err != nil {
				c.logger.Warn("fit cache write failed", "error", err)
			}
		}
		if err := c.store.ApplyLLMFit(ctx, item.JobID, item.RunID, fit, admitted); err != nil {
			c.logger.Warn("applying batch verdict failed", "job_id", item.JobID, "error", err)
			continue
		}
		if err := c.store.MarkItemCompleted(ctx, item.ID); err != nil {
			c.logger.Warn("completing batch item failed", "custom_id", item.CustomID, "error", err)
		}
		if err := c.store.AddEvent(ctx, item.JobID, item.RunID, model.EventLLMBatchCompleted,
			fmt.Sprintf("batch verdict %s (%d)", fit.FitLabel, fit.FitScore),
			map[string]any{"batch_id": b.BatchID, "admitted": admitted}); err != nil {
			c.logger.Warn("recording batch event failed", "job_id", item.JobID, "error", err)
		}

		t := tokens[item.RunID]
		t[0] += body.Usage.PromptTokens
		t[1] += body.Usage.CompletionTokens
		tokens[item.RunID] = t
		calls[item.RunID]++
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, failed, fmt.Errorf("reading batch output %s: %w", outputFileID, err)
	}

	// Anything the provider never answered.
	for _, item := range byCustomID {
		if item.State != model.ItemQueued {
			continue
		}
		c.failItem(ctx, item, "missing_from_output")
		failed++
	}

	for runID, n := range calls {
		t := tokens[runID]
		if err := c.store.RecordLLMUsage(ctx, runID, n, t[0], t[1]); err != nil {
			c.logger.Warn("recording batch usage failed", "run_id", runID, "error", err)
		}
	}

	if err := c.store.UpdateBatchStatus(ctx, b.BatchID, model.BatchCompleted, outputFileID, deref(remote.ErrorFileID)); err != nil {
		return applied, failed, err
	}
	if err := c.store.CompleteBatch(ctx, b.BatchID); err != nil {
		return applied, failed, err
	}
	c.logger.Info("llm batch reconciled", "batch_id", b.BatchID, "applied", applied, "failed", failed)
	return applied, failed, nil
}

// settleDead records a terminal provider failure and demotes the reviews of
// every job still waiting on the batch. Jobs keep their optimistic inbox
// placement; only the review state reflects the failure.
func (c *Classifier) settleDead(ctx context.Context, batchID string, status model.BatchStatus) error {
	if err := c.store.FailBatch(ctx, batchID, status, "provider status "+string(status)); err != nil {
		return err
	}
	if err := c.store.FailQueuedItemsByBatch(ctx, batchID, string(status)); err != nil {
		return err
	}
	if err := c.store.FailReviewsByBatch(ctx, batchID, string(status)); err != nil {
		return err
	}
	c.logger.Warn("llm batch dead", "batch_id", batchID, "status", status)
	return nil
}

func (c *Classifier) failItem(ctx context.Context, item *model.LLMBatchItem, reason string) {
	if err := c.store.MarkItemFailed(ctx, item.ID, reason); err != nil {
		c.logger.Warn("failing batch item", "custom_id", item.CustomID, "error", err)
	}
	if err := c.store.FailReviewByCustomID(ctx, item.CustomID, reason); err != nil {
		c.logger.Warn("failing job review", "custom_id", item.CustomID, "error", err)
	}
}

func lineError(line batchOutputLine) string {
	if line.Error != nil {
		if line.Error.Message != "" {
			return line.Error.Message
		}
		return line.Error.Code
	}
	if line.Response != nil {
		return fmt.Sprintf("llm_http_%d", line.Response.StatusCode)
	}
	return "empty_response"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
