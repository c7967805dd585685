package llmfit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/evanchen57/jobsieve/internal/model"
)

// runBuffer accumulates requests for one run until the flush at run end.
type runBuffer struct {
	items []bufferedItem
}

type bufferedItem struct {
	jobID    int64
	customID string
	cacheKey string
	body     chatBody
}

// batchRequestLine is one line of the JSONL file submitted to the
// provider's batch endpoint.
type batchRequestLine struct {
	CustomID string   `json:"custom_id"`
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Body     chatBody `json:"body"`
}

// QueueBatch stages one job for asynchronous classification. A disabled or
// keyless classifier skips before anything is persisted, same as the sync
// path. The cache is consulted next so a known verdict never spends a batch
// slot. Queueing is idempotent per run+job: re-escalating a job reuses its
// queued item.
func (c *Classifier) QueueBatch(ctx context.Context, runID, jobID int64, job model.NormalizedJob, profile model.Profile) (Outcome, error) {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return Outcome{Skipped: true, SkipReason: SkipDisabled}, nil
	}

	cacheKey := CacheKey(job, profile)
	if fit, ok, err := c.store.GetCachedFit(ctx, cacheKey); err == nil && ok {
		return Outcome{Fit: fit, CacheKey: cacheKey}, nil
	}

	if item, ok, err := c.store.FindQueuedItem(ctx, runID, jobID); err != nil {
		return Outcome{}, err
	} else if ok {
		c.buffer(runID, jobID, item.CustomID, cacheKey, job, profile)
		return Outcome{Skipped: true, SkipReason: SkipBatchQueued, CustomID: item.CustomID, CacheKey: cacheKey}, nil
	}

	customID := fmt.Sprintf("run_%d_job_%d_%s", runID, jobID, uuid.NewString()[:8])
	if err := c.store.InsertBatchItem(ctx, model.LLMBatchItem{
		RunID:    runID,
		JobID:    jobID,
		CacheKey: cacheKey,
		CustomID: customID,
	}); err != nil {
		return Outcome{}, err
	}
	c.buffer(runID, jobID, customID, cacheKey, job, profile)
	return Outcome{Skipped: true, SkipReason: SkipBatchQueued, CustomID: customID, CacheKey: cacheKey}, nil
}

func (c *Classifier) buffer(runID, jobID int64, customID, cacheKey string, job model.NormalizedJob, profile model.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buffers[runID]
	if buf == nil {
		buf = &runBuffer{}
		c.buffers[runID] = buf
	}
	for _, it := range buf.items {
		if it.customID == customID {
			return
		}
	}
	buf.items = append(buf.items, bufferedItem{
		jobID:    jobID,
		customID: customID,
		cacheKey: cacheKey,
		body:     batchBody(c.cfg.BatchModel, job, profile),
	})
}

func (c *Classifier) takeBuffer(runID int64) []bufferedItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buffers[runID]
	delete(c.buffers, runID)
	if buf == nil {
		return nil
	}
	return buf.items
}

// FlushBatch submits everything queued for the run as one provider batch:
// upload the JSONL input file, create the batch, then stamp the batch id on
// each item and its pending job. An empty buffer is a no-op. On submission
// failure every buffered item is marked failed so the requeue operation can
// retry; the jobs keep their optimistic gate decision.
func (c *Classifier) FlushBatch(ctx context.Context, runID int64) (string, int, error) {
	items := c.takeBuffer(runID)
	if len(items) == 0 {
		return "", 0, nil
	}

	var jsonl bytes.Buffer
	enc := json.NewEncoder(&jsonl)
	for _, it := range items {
		line := batchRequestLine{
			CustomID: it.customID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body:     it.body,
		}
		if err := enc.Encode(line); err != nil {
			c.failBuffered(ctx, runID, items, "encoding batch input: "+err.Error())
			return "", 0, fmt.Errorf("encoding batch input line: %w", err)
		}
	}

	file, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    fmt.Sprintf("run-%d-fit-batch.jsonl", runID),
		Bytes:   jsonl.Bytes(),
		Purpose: openai.PurposeBatch,
	})
	if err != nil {
		c.failBuffered(ctx, runID, items, "uploading batch input: "+err.Error())
		return "", 0, fmt.Errorf("uploading batch input for run %d: %w", runID, err)
	}

	created, err := c.client.CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      file.ID,
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: c.cfg.CompletionWindow,
	})
	if err != nil {
		c.failBuffered(ctx, runID, items, "creating batch: "+err.Error())
		return "", 0, fmt.Errorf("creating batch for run %d: %w", runID, err)
	}

	status := model.BatchStatus(created.Status)
	if status == "" {
		status = model.BatchValidating
	}
	if err := c.store.InsertBatch(ctx, model.LLMBatch{
		RunID:       runID,
		BatchID:     created.ID,
		Status:      status,
		Model:       c.cfg.BatchModel,
		InputFileID: file.ID,
	}); err != nil {
		return created.ID, 0, err
	}

	for _, it := range items {
		if err := c.store.StampItemBatchID(ctx, runID, it.customID, created.ID); err != nil {
			return created.ID, 0, err
		}
		if err := c.store.StampPendingBatchID(ctx, it.jobID, it.customID, created.ID); err != nil {
			return created.ID, 0, err
		}
	}

	c.logger.Info("llm batch submitted", "run_id", runID, "batch_id", created.ID, "items", len(items))
	return created.ID, len(items), nil
}

func (c *Classifier) failBuffered(ctx context.Context, runID int64, items []bufferedItem, reason string) {
	for _, it := range items {
		if err := c.store.FailItemByCustomID(ctx, runID, it.customID, reason); err != nil {
			c.logger.Warn("marking buffered item failed", "custom_id", it.customID, "error", err)
		}
	}
}
