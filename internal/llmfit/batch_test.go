package llmfit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/store"
)

// fakeBatchProvider implements the provider file + batch endpoints.
type fakeBatchProvider struct {
	mu          sync.Mutex
	uploaded    []byte // last JSONL input file
	batchStatus string // status reported on retrieve
	outputLines []string
	failUploads bool
}

func (f *fakeBatchProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/files":
			if f.failUploads {
				http.Error(w, `{"error":{"message":"upload refused"}}`, http.StatusInternalServerError)
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.uploaded, _ = io.ReadAll(file)
			fmt.Fprint(w, `{"id":"file-in","object":"file","purpose":"batch","filename":"input.jsonl"}`)

		case r.Method == http.MethodPost && r.URL.Path == "/v1/batches":
			fmt.Fprint(w, `{"id":"batch_1","object":"batch","endpoint":"/v1/chat/completions","status":"validating","input_file_id":"file-in"}`)

		case r.Method == http.MethodGet && r.URL.Path == "/v1/batches/batch_1":
			out := `"output_file_id":"file-out",`
			if f.batchStatus != "completed" {
				out = ""
			}
			fmt.Fprintf(w, `{"id":"batch_1","object":"batch","endpoint":"/v1/chat/completions",%s"status":%q,"input_file_id":"file-in"}`, out, f.batchStatus)

		case r.Method == http.MethodGet && r.URL.Path == "/v1/files/file-out/content":
			w.Header().Set("Content-Type", "application/jsonl")
			for _, line := range f.outputLines {
				fmt.Fprintln(w, line)
			}

		default:
			http.NotFound(w, r)
		}
	})
}

// verdictLine builds one batch output line answering customID with content.
func verdictLine(customID, content string) string {
	body := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	}
	line := map[string]any{
		"custom_id": customID,
		"response":  map[string]any{"status_code": 200, "body": body},
	}
	b, _ := json.Marshal(line)
	return string(b)
}

func insertEscalatedJob(t *testing.T, st *store.Store, suffix string) int64 {
	t.Helper()
	id, inserted, err := st.InsertJob(context.Background(), &model.JobRecord{
		Company:              "Acme",
		Title:                "Backend Engineer " + suffix,
		Source:               "greenhouse",
		URL:                  "https://example.com/jobs/" + suffix,
		CompanyKey:           "acme",
		TitleKey:             "backend engineer " + suffix,
		PostDateKey:          "2026-08-28",
		CanonicalFingerprint: "url:example.com/jobs/" + suffix,
		DedupReason:          "url",
		LastRunID:            1,
	})
	if err != nil || !inserted {
		t.Fatalf("inserting job: inserted=%v err=%v", inserted, err)
	}
	return id
}

func TestQueueBatch_IdempotentPerRun(t *testing.T) {
	provider := &fakeBatchProvider{}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k"})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")
	job := borderlineJob()

	first, err := c.QueueBatch(ctx, 1, jobID, job, model.Profile{})
	if err != nil {
		t.Fatalf("first queue: %v", err)
	}
	if !first.Skipped || first.SkipReason != SkipBatchQueued || first.CustomID == "" {
		t.Fatalf("first outcome = %+v", first)
	}

	second, err := c.QueueBatch(ctx, 1, jobID, job, model.Profile{})
	if err != nil {
		t.Fatalf("second queue: %v", err)
	}
	if second.CustomID != first.CustomID {
		t.Errorf("re-queue minted a new custom id: %q vs %q", second.CustomID, first.CustomID)
	}

	if _, n, err := c.FlushBatch(ctx, 1); err != nil || n != 1 {
		t.Fatalf("flush: n=%d err=%v, want 1 item", n, err)
	}
	provider.mu.Lock()
	uploaded := string(provider.uploaded)
	provider.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(uploaded), "\n")
	if len(lines) != 1 {
		t.Errorf("uploaded %d request lines, want 1", len(lines))
	}
	var line batchRequestLine
	if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
		t.Fatalf("parsing uploaded line: %v", err)
	}
	if line.CustomID != first.CustomID || line.Method != "POST" || line.URL != "/v1/chat/completions" {
		t.Errorf("request line = %+v", line)
	}
	if !strings.Contains(lines[0], `"temperature":0`) {
		t.Errorf("request body omits temperature: %s", lines[0])
	}
}

func TestQueueBatch_DisabledSkips(t *testing.T) {
	c, st := newTestClassifier(t, nil, Config{})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")

	out, err := c.QueueBatch(ctx, 1, jobID, borderlineJob(), model.Profile{})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !out.Skipped || out.SkipReason != SkipDisabled {
		t.Fatalf("outcome = %+v, want %s skip", out, SkipDisabled)
	}
	if out.CustomID != "" {
		t.Errorf("disabled queue minted custom id %q", out.CustomID)
	}
	if _, ok, err := st.FindQueuedItem(ctx, 1, jobID); err != nil || ok {
		t.Errorf("disabled queue persisted an item: found=%v err=%v", ok, err)
	}
	if batchID, n, err := c.FlushBatch(ctx, 1); err != nil || n != 0 || batchID != "" {
		t.Errorf("flush after disabled queue: batch=%q n=%d err=%v", batchID, n, err)
	}
}

func TestQueueBatch_CacheShortCircuits(t *testing.T) {
	provider := &fakeBatchProvider{}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k"})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")
	job := borderlineJob()

	cached := model.FitResult{FitLabel: model.FitHigh, FitScore: 88}
	if err := st.SetCachedFit(ctx, CacheKey(job, model.Profile{}), cached); err != nil {
		t.Fatal(err)
	}

	out, err := c.QueueBatch(ctx, 1, jobID, job, model.Profile{})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if out.Skipped {
		t.Fatalf("cached job should return a verdict, got skip %s", out.SkipReason)
	}
	if !out.Fit.Cached || out.Fit.FitScore != 88 {
		t.Errorf("fit = %+v", out.Fit)
	}
	// Nothing buffered, nothing submitted.
	if batchID, n, err := c.FlushBatch(ctx, 1); err != nil || n != 0 || batchID != "" {
		t.Errorf("flush after cache hit: batch=%q n=%d err=%v", batchID, n, err)
	}
}

func TestFlushBatch_SubmissionFailureFailsItems(t *testing.T) {
	provider := &fakeBatchProvider{failUploads: true}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k"})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")

	out, err := c.QueueBatch(ctx, 1, jobID, borderlineJob(), model.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.FlushBatch(ctx, 1); err == nil {
		t.Fatal("expected flush error")
	}

	failed, err := st.FailedItems(ctx, 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed items = %d err=%v, want 1", len(failed), err)
	}
	if failed[0].CustomID != out.CustomID {
		t.Errorf("failed item = %+v", failed[0])
	}
}

func TestReconcile_CompletedBatchAppliesVerdicts(t *testing.T) {
	provider := &fakeBatchProvider{batchStatus: "in_progress"}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k", AdmitThreshold: 65})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")
	job := borderlineJob()

	out, err := c.QueueBatch(ctx, 1, jobID, job, model.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.MarkPendingLLM(ctx, jobID, 1, out.CustomID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.FlushBatch(ctx, 1); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// First pass: provider still working, batch stays active.
	stats, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.StillRunning != 1 || stats.Completed != 0 {
		t.Fatalf("first pass stats = %+v", stats)
	}

	// Provider finishes with an admitting verdict.
	provider.mu.Lock()
	provider.batchStatus = "completed"
	provider.outputLines = []string{
		verdictLine(out.CustomID, `{"fit_label":"high","fit_score":90,"confidence":0.9,"reason_codes":["strong_match"]}`),
	}
	provider.mu.Unlock()

	stats, err = c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Completed != 1 || stats.VerdictsApplied != 1 || stats.ItemsFailed != 0 {
		t.Fatalf("second pass stats = %+v", stats)
	}

	rec, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.FitSource != model.FitSourceLLM || rec.FitScore != 90 {
		t.Errorf("fit fields = %q/%d", rec.FitSource, rec.FitScore)
	}
	if rec.Status != model.StatusInbox || rec.QualityBucket != model.BucketHigh {
		t.Errorf("admission fields = %q/%q", rec.Status, rec.QualityBucket)
	}
	if rec.LLMReviewState != model.ReviewCompleted || rec.LLMPendingBatchID != "" {
		t.Errorf("review fields = %q/%q", rec.LLMReviewState, rec.LLMPendingBatchID)
	}

	// Verdict cached and usage charged to the originating run.
	if _, ok, _ := st.GetCachedFit(ctx, out.CacheKey); !ok {
		t.Error("batch verdict not written through to the cache")
	}
	if used, _ := st.LLMRunUsage(ctx, 1); used != 1 {
		t.Errorf("run usage = %d, want 1", used)
	}

	// No active batches remain and the pass is now a no-op.
	stats, _ = c.Reconcile(ctx)
	if stats.Polled != 0 {
		t.Errorf("settled batch polled again: %+v", stats)
	}
}

func TestReconcile_InvalidLineOnlyFailsItsItem(t *testing.T) {
	provider := &fakeBatchProvider{batchStatus: "in_progress"}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k", AdmitThreshold: 65})
	ctx := context.Background()

	goodID := insertEscalatedJob(t, st, "good")
	badID := insertEscalatedJob(t, st, "bad")
	goodJob := borderlineJob()
	badJob := borderlineJob()
	badJob.Title = "Platform Engineer"
	badJob.URL = "https://example.com/jobs/bad"

	goodOut, err := c.QueueBatch(ctx, 1, goodID, goodJob, model.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	badOut, err := c.QueueBatch(ctx, 1, badID, badJob, model.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	for id, out := range map[int64]Outcome{goodID: goodOut, badID: badOut} {
		if err := st.MarkPendingLLM(ctx, id, 1, out.CustomID); err != nil {
			t.Fatal(err)
		}
	}
	if _, n, err := c.FlushBatch(ctx, 1); err != nil || n != 2 {
		t.Fatalf("flush: n=%d err=%v, want 2 items", n, err)
	}

	provider.mu.Lock()
	provider.batchStatus = "completed"
	provider.outputLines = []string{
		verdictLine(goodOut.CustomID, `{"fit_label":"high","fit_score":90,"confidence":0.9}`),
		verdictLine(badOut.CustomID, "this is not a json verdict"),
	}
	provider.mu.Unlock()

	stats, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Completed != 1 || stats.VerdictsApplied != 1 || stats.ItemsFailed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	// The sibling's verdict landed untouched by the bad line.
	good, err := st.GetJob(ctx, goodID)
	if err != nil {
		t.Fatal(err)
	}
	if good.FitSource != model.FitSourceLLM || good.FitScore != 90 || good.LLMReviewState != model.ReviewCompleted {
		t.Errorf("sibling fields = %q/%d/%q", good.FitSource, good.FitScore, good.LLMReviewState)
	}

	bad, err := st.GetJob(ctx, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.LLMReviewState != model.ReviewFailed || bad.LLMReviewError != SkipInvalidPayload {
		t.Errorf("bad-line review = %q/%q", bad.LLMReviewState, bad.LLMReviewError)
	}

	failed, _ := st.FailedItems(ctx, 10)
	if len(failed) != 1 || failed[0].CustomID != badOut.CustomID {
		t.Errorf("failed items = %+v, want only the bad line's item", failed)
	}
}

func TestReconcile_MissingFromOutputFailsItem(t *testing.T) {
	provider := &fakeBatchProvider{batchStatus: "completed"}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k"})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")

	out, err := c.QueueBatch(ctx, 1, jobID, borderlineJob(), model.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.MarkPendingLLM(ctx, jobID, 1, out.CustomID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.FlushBatch(ctx, 1); err != nil {
		t.Fatal(err)
	}
	// Output file is empty: the provider never answered this item.

	stats, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Completed != 1 || stats.ItemsFailed != 1 || stats.VerdictsApplied != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	rec, _ := st.GetJob(ctx, jobID)
	if rec.LLMReviewState != model.ReviewFailed || rec.LLMReviewError != "missing_from_output" {
		t.Errorf("review fields = %q/%q", rec.LLMReviewState, rec.LLMReviewError)
	}
}

func TestReconcile_DeadBatchDemotesReviews(t *testing.T) {
	provider := &fakeBatchProvider{batchStatus: "expired"}
	c, st := newTestClassifier(t, provider.handler(), Config{Enabled: true, APIKey: "k"})
	ctx := context.Background()
	jobID := insertEscalatedJob(t, st, "1")

	out, err := c.QueueBatch(ctx, 1, jobID, borderlineJob(), model.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.MarkPendingLLM(ctx, jobID, 1, out.CustomID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.FlushBatch(ctx, 1); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	rec, _ := st.GetJob(ctx, jobID)
	if rec.LLMReviewState != model.ReviewFailed || rec.LLMReviewError != "expired" {
		t.Errorf("review fields = %q/%q", rec.LLMReviewState, rec.LLMReviewError)
	}
	// The job keeps its optimistic inbox placement.
	if rec.Status != model.StatusInbox {
		t.Errorf("status = %q, want inbox", rec.Status)
	}

	failed, _ := st.FailedItems(ctx, 10)
	if len(failed) != 1 {
		t.Errorf("failed items = %d, want 1", len(failed))
	}
	if active, _ := st.ActiveBatches(ctx, 10); len(active) != 0 {
		t.Errorf("dead batch still active: %+v", active)
	}
}
