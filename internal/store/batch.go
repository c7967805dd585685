package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/model"
)

// FindQueuedItem returns an existing queued batch item for a run+job pair.
// Queueing is idempotent per run: a second escalation of the same job reuses
// this row instead of duplicating it.
func (s *Store) FindQueuedItem(ctx context.Context, runID, jobID int64) (*model.LLMBatchItem, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(run_id,0), COALESCE(batch_id,''), COALESCE(job_id,0),
			COALESCE(cache_key,''), custom_id, state, COALESCE(error_text,'')
		 FROM llm_batch_items WHERE run_id = ? AND job_id = ? AND state = 'queued' LIMIT 1`,
		runID, jobID)
	item, err := scanBatchItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("finding queued item for job %d: %w", jobID, err)
	}
	return item, true, nil
}

// InsertBatchItem inserts one queued llm_batch_items row.
func (s *Store) InsertBatchItem(ctx context.Context, item model.LLMBatchItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_batch_items (run_id, job_id, cache_key, custom_id, state, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', CURRENT_TIMESTAMP)`,
		nullableID(item.RunID), item.JobID, item.CacheKey, item.CustomID)
	if err != nil {
		return fmt.Errorf("inserting batch item %s: %w", item.CustomID, err)
	}
	return nil
}

// StampItemBatchID records which provider batch a queued item was submitted
// under.
func (s *Store) StampItemBatchID(ctx context.Context, runID int64, customID, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batch_items SET batch_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE run_id = ? AND custom_id = ?`,
		batchID, runID, customID)
	if err != nil {
		return fmt.Errorf("stamping batch id on item %s: %w", customID, err)
	}
	return nil
}

// MarkItemCompleted flips one item to completed and clears its error.
func (s *Store) MarkItemCompleted(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batch_items SET state = 'completed', error_text = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("completing batch item %d: %w", itemID, err)
	}
	return nil
}

// MarkItemFailed flips one item to failed with the given error text.
func (s *Store) MarkItemFailed(ctx context.Context, itemID int64, errorText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batch_items SET state = 'failed', error_text = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, errorText, itemID)
	if err != nil {
		return fmt.Errorf("failing batch item %d: %w", itemID, err)
	}
	return nil
}

// FailItemByCustomID marks one still-unsubmitted item failed; used when a
// flush dies before the provider assigned a batch id.
func (s *Store) FailItemByCustomID(ctx context.Context, runID int64, customID, errorText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batch_items SET state = 'failed', error_text = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE run_id = ? AND custom_id = ?`, errorText, runID, customID)
	if err != nil {
		return fmt.Errorf("failing batch item %s: %w", customID, err)
	}
	return nil
}

// FailQueuedItemsByBatch marks every still-queued item of a dead batch
// failed with the provider status as the error.
func (s *Store) FailQueuedItemsByBatch(ctx context.Context, batchID, errorText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batch_items SET state = 'failed', error_text = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE batch_id = ? AND state = 'queued'`, errorText, batchID)
	if err != nil {
		return fmt.Errorf("failing queued items of batch %s: %w", batchID, err)
	}
	return nil
}

// ItemsForBatch returns all items submitted under one provider batch.
func (s *Store) ItemsForBatch(ctx context.Context, batchID string) ([]*model.LLMBatchItem, error) {
	return s.listItems(ctx,
		`SELECT id, COALESCE(run_id,0), COALESCE(batch_id,''), COALESCE(job_id,0),
			COALESCE(cache_key,''), custom_id, state, COALESCE(error_text,'')
		 FROM llm_batch_items WHERE batch_id = ?`, batchID)
}

// FailedItems returns items whose request never produced a verdict; the
// requeue operation re-evaluates these.
func (s *Store) FailedItems(ctx context.Context, limit int) ([]*model.LLMBatchItem, error) {
	return s.listItems(ctx,
		`SELECT id, COALESCE(run_id,0), COALESCE(batch_id,''), COALESCE(job_id,0),
			COALESCE(cache_key,''), custom_id, state, COALESCE(error_text,'')
		 FROM llm_batch_items WHERE state = 'failed' ORDER BY id DESC LIMIT ?`, limit)
}

func (s *Store) listItems(ctx context.Context, query string, args ...any) ([]*model.LLMBatchItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing batch items: %w", err)
	}
	defer rows.Close()

	var out []*model.LLMBatchItem
	for rows.Next() {
		item, err := scanBatchItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanBatchItem(row rowScanner) (*model.LLMBatchItem, error) {
	var item model.LLMBatchItem
	var state string
	err := row.Scan(&item.ID, &item.RunID, &item.BatchID, &item.JobID,
		&item.CacheKey, &item.CustomID, &state, &item.ErrorText)
	if err != nil {
		return nil, err
	}
	item.State = model.ItemState(state)
	return &item, nil
}

// InsertBatch inserts one llm_batches row for a freshly created provider
// batch.
func (s *Store) InsertBatch(ctx context.Context, batch model.LLMBatch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_batches (run_id, batch_id, status, model, input_file_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		nullableID(batch.RunID), batch.BatchID, string(batch.Status), batch.Model, batch.InputFileID)
	if err != nil {
		return fmt.Errorf("inserting batch %s: %w", batch.BatchID, err)
	}
	return nil
}

// UpdateBatchStatus refreshes the provider-reported status and file ids.
func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, status model.BatchStatus, outputFileID, errorFileID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batches
		 SET status = ?, output_file_id = ?, error_file_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE batch_id = ?`,
		string(status), nullable(outputFileID), nullable(errorFileID), batchID)
	if err != nil {
		return fmt.Errorf("updating batch %s: %w", batchID, err)
	}
	return nil
}

// CompleteBatch stamps a batch as fully reconciled.
func (s *Store) CompleteBatch(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batches
		 SET status = 'completed', completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("completing batch %s: %w", batchID, err)
	}
	return nil
}

// FailBatch records a terminal provider failure on the batch row.
func (s *Store) FailBatch(ctx context.Context, batchID string, status model.BatchStatus, errorText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_batches
		 SET status = ?, error_text = COALESCE(?, error_text), failed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE batch_id = ?`,
		string(status), nullable(errorText), batchID)
	if err != nil {
		return fmt.Errorf("failing batch %s: %w", batchID, err)
	}
	return nil
}

// ActiveBatches returns batches still awaiting a provider verdict.
func (s *Store) ActiveBatches(ctx context.Context, limit int) ([]*model.LLMBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(run_id,0), batch_id, status, COALESCE(model,''),
			COALESCE(input_file_id,''), COALESCE(output_file_id,''), COALESCE(error_file_id,''), COALESCE(error_text,'')
		 FROM llm_batches
		 WHERE status IN ('validating', 'in_progress', 'finalizing')
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active batches: %w", err)
	}
	defer rows.Close()

	var out []*model.LLMBatch
	for rows.Next() {
		var b model.LLMBatch
		var status string
		if err := rows.Scan(&b.ID, &b.RunID, &b.BatchID, &status, &b.Model,
			&b.InputFileID, &b.OutputFileID, &b.ErrorFileID, &b.ErrorText); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		b.Status = model.BatchStatus(status)
		out = append(out, &b)
	}
	return out, rows.Err()
}
