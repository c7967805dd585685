package store

import (
	"context"
	"testing"

	"github.com/evanchen57/jobsieve/internal/model"
)

func TestBatchItemLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	jobID := mustInsert(t, st, testRecord("1"))

	item := model.LLMBatchItem{RunID: 1, JobID: jobID, CacheKey: "ck-1", CustomID: "cid-1"}
	if err := st.InsertBatchItem(ctx, item); err != nil {
		t.Fatalf("inserting item: %v", err)
	}

	got, ok, err := st.FindQueuedItem(ctx, 1, jobID)
	if err != nil || !ok {
		t.Fatalf("finding queued item: ok=%v err=%v", ok, err)
	}
	if got.CustomID != "cid-1" || got.State != model.ItemQueued || got.CacheKey != "ck-1" {
		t.Errorf("queued item = %+v", got)
	}

	if err := st.StampItemBatchID(ctx, 1, "cid-1", "batch_a"); err != nil {
		t.Fatalf("stamping batch id: %v", err)
	}
	items, err := st.ItemsForBatch(ctx, "batch_a")
	if err != nil || len(items) != 1 {
		t.Fatalf("items for batch: %d err=%v", len(items), err)
	}

	if err := st.MarkItemCompleted(ctx, items[0].ID); err != nil {
		t.Fatalf("completing item: %v", err)
	}
	if _, ok, _ := st.FindQueuedItem(ctx, 1, jobID); ok {
		t.Error("completed item still reported as queued")
	}
}

func TestFailQueuedItemsByBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := mustInsert(t, st, testRecord("1"))
	b := mustInsert(t, st, testRecord("2"))

	for i, jobID := range []int64{a, b} {
		cid := []string{"cid-a", "cid-b"}[i]
		if err := st.InsertBatchItem(ctx, model.LLMBatchItem{RunID: 1, JobID: jobID, CustomID: cid}); err != nil {
			t.Fatal(err)
		}
		if err := st.StampItemBatchID(ctx, 1, cid, "batch_dead"); err != nil {
			t.Fatal(err)
		}
	}
	// One already completed before the batch died.
	items, _ := st.ItemsForBatch(ctx, "batch_dead")
	if err := st.MarkItemCompleted(ctx, items[0].ID); err != nil {
		t.Fatal(err)
	}

	if err := st.FailQueuedItemsByBatch(ctx, "batch_dead", "expired"); err != nil {
		t.Fatalf("failing queued items: %v", err)
	}

	items, _ = st.ItemsForBatch(ctx, "batch_dead")
	var completed, failed int
	for _, it := range items {
		switch it.State {
		case model.ItemCompleted:
			completed++
		case model.ItemFailed:
			failed++
			if it.ErrorText != "expired" {
				t.Errorf("failed item error = %q", it.ErrorText)
			}
		}
	}
	if completed != 1 || failed != 1 {
		t.Errorf("completed=%d failed=%d, want 1/1", completed, failed)
	}

	failedItems, err := st.FailedItems(ctx, 10)
	if err != nil || len(failedItems) != 1 {
		t.Errorf("FailedItems = %d err=%v, want 1", len(failedItems), err)
	}
}

func TestBatchLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := model.LLMBatch{
		RunID:       1,
		BatchID:     "batch_a",
		Status:      model.BatchValidating,
		Model:       "gpt-4o-mini",
		InputFileID: "file-in",
	}
	if err := st.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("inserting batch: %v", err)
	}

	active, err := st.ActiveBatches(ctx, 10)
	if err != nil || len(active) != 1 {
		t.Fatalf("active batches = %d err=%v", len(active), err)
	}
	if active[0].BatchID != "batch_a" || active[0].Status != model.BatchValidating {
		t.Errorf("active batch = %+v", active[0])
	}

	if err := st.UpdateBatchStatus(ctx, "batch_a", model.BatchInProgress, "", ""); err != nil {
		t.Fatalf("updating status: %v", err)
	}
	active, _ = st.ActiveBatches(ctx, 10)
	if len(active) != 1 || active[0].Status != model.BatchInProgress {
		t.Errorf("in-progress batch not active: %+v", active)
	}

	if err := st.CompleteBatch(ctx, "batch_a"); err != nil {
		t.Fatalf("completing batch: %v", err)
	}
	active, _ = st.ActiveBatches(ctx, 10)
	if len(active) != 0 {
		t.Errorf("completed batch still active: %+v", active)
	}
}

func TestFailBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertBatch(ctx, model.LLMBatch{RunID: 1, BatchID: "batch_b", Status: model.BatchValidating}); err != nil {
		t.Fatal(err)
	}
	if err := st.FailBatch(ctx, "batch_b", model.BatchExpired, "completion window elapsed"); err != nil {
		t.Fatalf("failing batch: %v", err)
	}
	active, _ := st.ActiveBatches(ctx, 10)
	if len(active) != 0 {
		t.Errorf("expired batch still active: %+v", active)
	}
}
