package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(st, logger), st
}

func TestResolve_InsertThenDedup(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	job := model.NormalizedJob{
		Company:  "Acme",
		Title:    "Backend Engineer",
		Location: "Remote, US",
		PostDate: "2026-08-20",
		Source:   "greenhouse",
		URL:      "https://boards.greenhouse.io/acme/jobs/1",
		JDText:   "Build backend services in Go.",
	}

	first, err := r.Resolve(ctx, job, 1)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Deduped {
		t.Error("first sighting should insert, not dedup")
	}
	if first.JobID == 0 {
		t.Fatal("expected a job id")
	}

	// Same posting seen with tracking junk on the URL: must dedup.
	again := job
	again.URL = job.URL + "?utm_source=alert"
	second, err := r.Resolve(ctx, again, 2)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !second.Deduped {
		t.Error("re-sighting should dedup")
	}
	if second.JobID != first.JobID {
		t.Errorf("dedup resolved to job %d, want %d", second.JobID, first.JobID)
	}

	rec, err := st.GetJob(ctx, first.JobID)
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if rec.LastRunID != 2 {
		t.Errorf("last_run_id = %d, want 2", rec.LastRunID)
	}
	if n, err := st.CountObservations(ctx, first.JobID); err != nil || n != 2 {
		t.Errorf("expected 2 provenance observations, got %d (err %v)", n, err)
	}
}

func TestResolve_CompositeMatchWithoutURL(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	job := model.NormalizedJob{
		Company:  "Acme",
		Title:    "Platform Engineer",
		Location: "NYC",
		PostDate: "2026-08-21",
		Source:   "serpapi",
	}
	first, err := r.Resolve(ctx, job, 1)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Same identity, different casing and whitespace.
	again := model.NormalizedJob{
		Company:  " ACME ",
		Title:    "platform engineer",
		Location: "nyc",
		PostDate: "2026-08-21",
		Source:   "lever",
	}
	second, err := r.Resolve(ctx, again, 2)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !second.Deduped || second.JobID != first.JobID {
		t.Errorf("composite dedup failed: got id %d deduped=%v, want id %d", second.JobID, second.Deduped, first.JobID)
	}
}

func TestResolve_TerminalStatusSurvivesDedup(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	job := model.NormalizedJob{
		Company: "Acme",
		Title:   "Backend Engineer",
		Source:  "greenhouse",
		URL:     "https://boards.greenhouse.io/acme/jobs/7",
	}
	res, err := r.Resolve(ctx, job, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := st.SetJobStatus(ctx, res.JobID, model.StatusApplied); err != nil {
		t.Fatalf("setting status: %v", err)
	}

	if _, err := r.Resolve(ctx, job, 2); err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	rec, err := st.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if rec.Status != model.StatusApplied {
		t.Errorf("status = %q after re-ingestion, want applied", rec.Status)
	}
}

func TestResolve_InvalidJob(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve(context.Background(), model.NormalizedJob{Company: "Acme"}, 1)
	if !errors.Is(err, ErrInvalidJob) {
		t.Errorf("expected ErrInvalidJob, got %v", err)
	}
}
