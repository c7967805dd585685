package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/model"
)

// AddObservation appends one provenance row. Observations are written for
// every resolution, deduped or not, and are never mutated.
func (s *Store) AddObservation(ctx context.Context, obs model.SourceObservation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_sources (job_id, run_id, source, source_job_key, raw_post_date, payload_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		obs.JobID, nullableID(obs.RunID), obs.Source, obs.SourceJobKey,
		nullable(obs.RawPostDate), obs.PayloadHash)
	if err != nil {
		return fmt.Errorf("adding observation for job %d: %w", obs.JobID, err)
	}
	return nil
}

// CountObservations returns the number of sightings recorded for a job.
func (s *Store) CountObservations(ctx context.Context, jobID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_sources WHERE job_id = ?`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting observations for job %d: %w", jobID, err)
	}
	return n, nil
}

// AddEvent appends one audit log row for a job. Payload is serialized to
// JSON at this boundary only.
func (s *Store) AddEvent(ctx context.Context, jobID, runID int64, eventType model.JobEventType, message string, payload map[string]any) error {
	if jobID == 0 || eventType == "" {
		return nil
	}
	var payloadJSON any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling event payload: %w", err)
		}
		payloadJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, run_id, event_type, message, payload_json)
		 VALUES (?, ?, ?, ?, ?)`,
		jobID, nullableID(runID), string(eventType), message, payloadJSON)
	if err != nil {
		return fmt.Errorf("adding %s event for job %d: %w", eventType, jobID, err)
	}
	return nil
}

// ListEvents returns a job's audit trail, newest first.
func (s *Store) ListEvents(ctx context.Context, jobID int64) ([]model.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, COALESCE(run_id,0), event_type, COALESCE(message,''), payload_json, created_at
		 FROM job_events WHERE job_id = ? ORDER BY id DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing events for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var out []model.JobEvent
	for rows.Next() {
		var ev model.JobEvent
		var evType string
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.RunID, &evType, &ev.Message, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Type = model.JobEventType(evType)
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &ev.Payload)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
