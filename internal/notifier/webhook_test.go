package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/evanchen57/jobsieve/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func admittedJobs() []*model.JobRecord {
	return []*model.JobRecord{
		{
			Company:  "Acme",
			Title:    "Backend Engineer",
			Location: "Remote",
			URL:      "https://example.com/jobs/1",
			FitLabel: model.FitHigh,
			FitScore: 72,
			Source:   "greenhouse",
			PostDate: "2026-08-28",
		},
		{
			Company:  "Globex",
			Title:    "Platform Engineer",
			FitLabel: model.FitHigh,
			FitScore: 68,
			Source:   "lever",
		},
	}
}

func TestWebhookNotify(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), 42, admittedJobs()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if auth != "Bearer s3cret" {
		t.Errorf("authorization = %q", auth)
	}
	if got.Event != "inbox_admissions" || got.RunID != 42 {
		t.Errorf("envelope = %q/%d", got.Event, got.RunID)
	}
	if len(got.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(got.Jobs))
	}
	if got.Jobs[0].Company != "Acme" || got.Jobs[0].FitScore != 72 || got.Jobs[0].FitLabel != "high" {
		t.Errorf("first job = %+v", got.Jobs[0])
	}
}

func TestWebhookNotify_NoURLIsNoop(t *testing.T) {
	n := NewWebhookNotifier("", "", http.DefaultClient, discardLogger())
	if err := n.Notify(context.Background(), 1, admittedJobs()); err != nil {
		t.Errorf("no-op notify returned %v", err)
	}
}

func TestWebhookNotify_EmptyRunIsNoop(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", srv.Client(), discardLogger())
	if err := n.Notify(context.Background(), 1, nil); err != nil {
		t.Errorf("empty notify returned %v", err)
	}
	if hits.Load() != 0 {
		t.Error("webhook called for an empty admission set")
	}
}

func TestWebhookNotify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", srv.Client(), discardLogger())
	err := n.Notify(context.Background(), 1, admittedJobs())
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(discardLogger())
	if err := n.Notify(context.Background(), 1, admittedJobs()); err != nil {
		t.Errorf("log notify returned %v", err)
	}
}
