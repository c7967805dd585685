package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/model"
)

// CreateRun inserts one ingestion_runs row in the running state and returns
// its id.
func (s *Store) CreateRun(ctx context.Context, triggerType string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (trigger_type, status) VALUES (?, 'running')`, triggerType)
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

// FinalizeRun stamps the terminal status, summary and finish time of a run.
func (s *Store) FinalizeRun(ctx context.Context, runID int64, status model.RunStatus, summaryJSON, errorText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs
		 SET status = ?, summary_json = ?, error_text = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(status), summaryJSON, nullable(errorText), runID)
	if err != nil {
		return fmt.Errorf("finalizing run %d: %w", runID, err)
	}
	return nil
}

// GetRun loads one ingestion run.
func (s *Store) GetRun(ctx context.Context, runID int64) (*model.IngestionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trigger_type, status, COALESCE(summary_json,''), COALESCE(error_text,''), started_at, finished_at
		 FROM ingestion_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*model.IngestionRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_type, status, COALESCE(summary_json,''), COALESCE(error_text,''), started_at, finished_at
		 FROM ingestion_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*model.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*model.IngestionRun, error) {
	var run model.IngestionRun
	var status string
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.TriggerType, &status, &run.Summary, &run.ErrorText, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}
