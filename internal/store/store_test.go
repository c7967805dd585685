package store

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/evanchen57/jobsieve/internal/model"
)

func TestFitCache_Upsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.GetCachedFit(ctx, "ck"); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	fit := model.FitResult{
		FitLabel:    model.FitMedium,
		FitScore:    48,
		Confidence:  0.7,
		ReasonCodes: []string{"partial_skill_match"},
	}
	if err := st.SetCachedFit(ctx, "ck", fit); err != nil {
		t.Fatalf("writing cache: %v", err)
	}

	got, ok, err := st.GetCachedFit(ctx, "ck")
	if err != nil || !ok {
		t.Fatalf("reading cache: ok=%v err=%v", ok, err)
	}
	if !got.Cached {
		t.Error("cache hit not flagged")
	}
	got.Cached = false
	if !reflect.DeepEqual(got, fit) {
		t.Errorf("cached fit = %+v, want %+v", got, fit)
	}

	// Upsert replaces in place, never duplicates.
	fit.FitScore = 75
	fit.FitLabel = model.FitHigh
	if err := st.SetCachedFit(ctx, "ck", fit); err != nil {
		t.Fatalf("rewriting cache: %v", err)
	}
	got, _, _ = st.GetCachedFit(ctx, "ck")
	if got.FitScore != 75 || got.FitLabel != model.FitHigh {
		t.Errorf("upsert did not replace: %+v", got)
	}
}

func TestLLMUsageLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.RecordLLMUsage(ctx, 1, 3, 1200, 300); err != nil {
		t.Fatalf("recording usage: %v", err)
	}
	if err := st.RecordLLMUsage(ctx, 2, 2, 800, 200); err != nil {
		t.Fatalf("recording usage: %v", err)
	}
	// Zero calls are not ledger rows.
	if err := st.RecordLLMUsage(ctx, 3, 0, 0, 0); err != nil {
		t.Fatalf("recording zero usage: %v", err)
	}

	daily, err := st.LLMDailyUsage(ctx, now)
	if err != nil {
		t.Fatalf("daily usage: %v", err)
	}
	if daily != 5 {
		t.Errorf("daily calls = %d, want 5", daily)
	}

	run, err := st.LLMRunUsage(ctx, 1)
	if err != nil || run != 3 {
		t.Errorf("run 1 calls = %d err=%v, want 3", run, err)
	}
	if run, _ := st.LLMRunUsage(ctx, 0); run != 0 {
		t.Errorf("run 0 should short-circuit, got %d", run)
	}
}

func TestRunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.CreateRun(ctx, "manual")
	if err != nil {
		t.Fatalf("creating run: %v", err)
	}

	run, err := st.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("loading run: %v", err)
	}
	if run.Status != model.RunRunning || run.TriggerType != "manual" {
		t.Errorf("fresh run = %+v", run)
	}
	if run.FinishedAt != nil {
		t.Error("fresh run should have no finish time")
	}

	summary, _ := json.Marshal(model.RunSummary{RunID: id, Status: model.RunPartial})
	if err := st.FinalizeRun(ctx, id, model.RunPartial, string(summary), "one source failed"); err != nil {
		t.Fatalf("finalizing run: %v", err)
	}
	run, _ = st.GetRun(ctx, id)
	if run.Status != model.RunPartial || run.ErrorText != "one source failed" {
		t.Errorf("finalized run = %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("finalized run missing finish time")
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns = %d err=%v", len(runs), err)
	}
}

func TestEventsAndObservations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	jobID := mustInsert(t, st, testRecord("1"))

	err := st.AddEvent(ctx, jobID, 1, model.EventIngested, "Inserted as new job", map[string]any{"source": "greenhouse"})
	if err != nil {
		t.Fatalf("adding event: %v", err)
	}
	events, err := st.ListEvents(ctx, jobID)
	if err != nil || len(events) != 1 {
		t.Fatalf("listing events: %d err=%v", len(events), err)
	}
	if events[0].Type != model.EventIngested || events[0].Payload["source"] != "greenhouse" {
		t.Errorf("event = %+v", events[0])
	}

	obs := model.SourceObservation{
		JobID:        jobID,
		RunID:        1,
		Source:       "greenhouse",
		SourceJobKey: "greenhouse:https://example.com/1",
		PayloadHash:  "abc",
	}
	if err := st.AddObservation(ctx, obs); err != nil {
		t.Fatalf("adding observation: %v", err)
	}
	if err := st.AddObservation(ctx, obs); err != nil {
		t.Fatalf("adding second observation: %v", err)
	}
	if n, err := st.CountObservations(ctx, jobID); err != nil || n != 2 {
		t.Errorf("observations = %d err=%v, want 2", n, err)
	}
}
