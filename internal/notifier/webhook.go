package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/evanchen57/jobsieve/internal/model"
)

// Ensure WebhookNotifier implements Notifier.
var _ Notifier = (*WebhookNotifier)(nil)

// WebhookNotifier pushes run results to an external dashboard over a JSON
// POST with optional bearer auth.
type WebhookNotifier struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier returns a notifier posting to the given URL. An empty
// URL disables it; Notify becomes a no-op.
func NewWebhookNotifier(url, token string, httpClient *http.Client, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

type webhookJob struct {
	Company  string `json:"company"`
	Title    string `json:"title"`
	Location string `json:"location"`
	URL      string `json:"url"`
	FitLabel string `json:"fit_label"`
	FitScore int    `json:"fit_score"`
	Source   string `json:"source"`
	PostDate string `json:"post_date,omitempty"`
}

type webhookPayload struct {
	Event string       `json:"event"`
	RunID int64        `json:"run_id"`
	Jobs  []webhookJob `json:"jobs"`
}

// Notify sends one payload covering every admitted job of the run.
func (w *WebhookNotifier) Notify(ctx context.Context, runID int64, jobs []*model.JobRecord) error {
	if w.url == "" || len(jobs) == 0 {
		return nil
	}

	payload := webhookPayload{Event: "inbox_admissions", RunID: runID, Jobs: make([]webhookJob, 0, len(jobs))}
	for _, j := range jobs {
		payload.Jobs = append(payload.Jobs, webhookJob{
			Company:  j.Company,
			Title:    j.Title,
			Location: j.Location,
			URL:      j.URL,
			FitLabel: string(j.FitLabel),
			FitScore: j.FitScore,
			Source:   j.Source,
			PostDate: j.PostDate,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet)
	}

	w.logger.Info("webhook delivered", "run_id", runID, "jobs", len(jobs))
	return nil
}
