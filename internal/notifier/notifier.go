// Package notifier announces newly admitted inbox jobs at the end of a
// run. Notification is best effort: a failing notifier never fails the run.
package notifier

import (
	"context"
	"log/slog"

	"github.com/evanchen57/jobsieve/internal/model"
)

// Notifier receives the jobs a run newly admitted to the inbox.
type Notifier interface {
	Notify(ctx context.Context, runID int64, jobs []*model.JobRecord) error
}

// Ensure LogNotifier implements Notifier.
var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes new inbox admissions to the given logger as
// structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each admitted job via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs each job with company, title, location, fit, and URL.
// Returns nil (stdout logging does not fail).
func (n *LogNotifier) Notify(_ context.Context, runID int64, jobs []*model.JobRecord) error {
	for _, j := range jobs {
		n.logger.Info("new inbox job",
			"run_id", runID,
			"company", j.Company,
			"title", j.Title,
			"location", j.Location,
			"fit_label", j.FitLabel,
			"fit_score", j.FitScore,
			"url", j.URL,
		)
	}
	return nil
}
