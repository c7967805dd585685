package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/model"
)

// terminalStatusCase preserves human decisions: a candidate status only
// applies when the current one was not set by a reviewer.
const terminalStatusCase = `CASE WHEN status IN ('approved','applied','skipped') THEN status ELSE ? END`

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

// JobRef is the identity slice of a job_queue row needed by the dedup engine.
type JobRef struct {
	ID     int64
	Status model.Status
}

// FindJobByFingerprint looks up a job by its canonical fingerprint.
func (s *Store) FindJobByFingerprint(ctx context.Context, fingerprint string) (JobRef, bool, error) {
	return s.findJob(ctx,
		`SELECT id, status FROM job_queue WHERE canonical_fingerprint = ? LIMIT 1`, fingerprint)
}

// FindJobByCompositeKeys looks up a job by its normalized identity keys.
func (s *Store) FindJobByCompositeKeys(ctx context.Context, companyKey, titleKey, locationKey, postDateKey string) (JobRef, bool, error) {
	return s.findJob(ctx,
		`SELECT id, status FROM job_queue
		 WHERE company_key = ? AND title_key = ? AND location_key = ? AND post_date_key = ?
		 LIMIT 1`,
		companyKey, titleKey, locationKey, postDateKey)
}

// FindJobByLegacyKeys looks up a job by the pre-fingerprint unique triple.
func (s *Store) FindJobByLegacyKeys(ctx context.Context, company, title, url string) (JobRef, bool, error) {
	return s.findJob(ctx,
		`SELECT id, status FROM job_queue WHERE company = ? AND title = ? AND url = ? LIMIT 1`,
		company, title, url)
}

func (s *Store) findJob(ctx context.Context, query string, args ...any) (JobRef, bool, error) {
	var ref JobRef
	var status sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&ref.ID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRef{}, false, nil
	}
	if err != nil {
		return JobRef{}, false, fmt.Errorf("looking up job: %w", err)
	}
	ref.Status = model.Status(status.String)
	return ref, true, nil
}

// InsertJob inserts a new job_queue row with status inbox. The insert is
// optimistic: when another writer won the race on any unique index, no row
// is written and inserted=false, and the caller re-resolves.
func (s *Store) InsertJob(ctx context.Context, rec *model.JobRecord) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_queue (
			company, title, location, post_date, source, url, jd_text,
			company_key, title_key, location_key, post_date_key,
			canonical_fingerprint, dedup_reason, years_req, is_bigtech,
			status, last_run_id, first_seen_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'inbox', ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT DO NOTHING`,
		rec.Company, rec.Title, nullable(rec.Location), nullable(rec.PostDate),
		rec.Source, nullable(rec.URL), nullable(rec.JDText),
		rec.CompanyKey, rec.TitleKey, rec.LocationKey, rec.PostDateKey,
		rec.CanonicalFingerprint, rec.DedupReason, nullable(rec.YearsReq), boolInt(rec.IsBigTech),
		rec.LastRunID)
	if err != nil {
		return 0, false, fmt.Errorf("inserting job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("inserting job: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("inserting job: %w", err)
	}
	return id, true, nil
}

// UpdateJobOnDedup refreshes all mutable fields of an existing row. The
// workflow status is left alone when a human already moved it to a terminal
// state; otherwise it is reset to inbox pending the gate verdict.
func (s *Store) UpdateJobOnDedup(ctx context.Context, id int64, rec *model.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
			company = ?, title = ?, location = ?, post_date = ?, source = ?, url = ?, jd_text = ?,
			company_key = ?, title_key = ?, location_key = ?, post_date_key = ?,
			canonical_fingerprint = ?, dedup_reason = ?, years_req = ?, is_bigtech = ?,
			status = `+terminalStatusCase+`,
			last_run_id = ?, last_seen_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		rec.Company, rec.Title, nullable(rec.Location), nullable(rec.PostDate),
		rec.Source, nullable(rec.URL), nullable(rec.JDText),
		rec.CompanyKey, rec.TitleKey, rec.LocationKey, rec.PostDateKey,
		rec.CanonicalFingerprint, rec.DedupReason, nullable(rec.YearsReq), boolInt(rec.IsBigTech),
		string(model.StatusInbox), rec.LastRunID, id)
	if err != nil {
		return fmt.Errorf("updating job %d on dedup: %w", id, err)
	}
	return nil
}

// ApplyGateResult persists the deterministic gate verdict for a job.
func (s *Store) ApplyGateResult(ctx context.Context, jobID, runID int64, fitScore int, label model.FitLabel, bucket model.QualityBucket, admitted bool, reasonCodes []string) error {
	candidate := model.StatusFiltered
	if admitted {
		candidate = model.StatusInbox
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
			fit_score = ?, fit_label = ?, fit_source = 'rules', fit_reason_codes = ?,
			quality_bucket = ?, rejected_by_quality = ?,
			status = `+terminalStatusCase+`,
			last_run_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		fitScore, string(label), marshalList(reasonCodes),
		string(bucket), boolInt(!admitted),
		string(candidate), runID, jobID)
	if err != nil {
		return fmt.Errorf("applying gate result to job %d: %w", jobID, err)
	}
	return nil
}

// ApplyLLMFit persists a classifier verdict (sync or batch) for a job and
// completes its review. The pending batch linkage is cleared.
func (s *Store) ApplyLLMFit(ctx context.Context, jobID, runID int64, fit model.FitResult, admitted bool) error {
	bucket := model.BucketFiltered
	candidate := model.StatusFiltered
	if admitted {
		bucket = model.BucketHigh
		candidate = model.StatusInbox
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
			fit_score = ?, fit_label = ?, fit_source = 'llm', fit_reason_codes = ?,
			quality_bucket = ?, rejected_by_quality = ?,
			llm_confidence = ?, llm_missing_must_have = ?,
			llm_review_state = 'completed', llm_pending_batch_id = NULL, llm_pending_custom_id = NULL,
			llm_review_error = NULL, llm_review_updated_at = CURRENT_TIMESTAMP,
			status = `+terminalStatusCase+`,
			last_run_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		fit.FitScore, string(fit.FitLabel), marshalList(fit.ReasonCodes),
		string(bucket), boolInt(!admitted),
		fit.Confidence, marshalList(fit.MissingMustHave),
		string(candidate), runID, jobID)
	if err != nil {
		return fmt.Errorf("applying llm fit to job %d: %w", jobID, err)
	}
	return nil
}

// MarkPendingLLM admits a job optimistically into the inbox while its batch
// classification is outstanding.
func (s *Store) MarkPendingLLM(ctx context.Context, jobID, runID int64, customID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
			quality_bucket = ?, llm_review_state = 'pending', llm_pending_custom_id = ?,
			llm_review_error = NULL, llm_review_updated_at = CURRENT_TIMESTAMP,
			status = `+terminalStatusCase+`,
			last_run_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(model.BucketPendingLLM), customID, string(model.StatusInbox), runID, jobID)
	if err != nil {
		return fmt.Errorf("marking job %d pending llm: %w", jobID, err)
	}
	return nil
}

// StampPendingBatchID links an optimistically admitted job to the provider
// batch its request was submitted under.
func (s *Store) StampPendingBatchID(ctx context.Context, jobID int64, customID, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET llm_pending_batch_id = ?, llm_review_updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND llm_pending_custom_id = ?`,
		batchID, jobID, customID)
	if err != nil {
		return fmt.Errorf("stamping batch id on job %d: %w", jobID, err)
	}
	return nil
}

// FailReviewsByBatch flips llm_review_state to failed for every job whose
// pending batch terminated without a verdict. The provider status is kept as
// the error. This is the only path demoting a pending_llm review after the
// fact.
func (s *Store) FailReviewsByBatch(ctx context.Context, batchID, providerStatus string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
			llm_review_state = 'failed', llm_review_error = ?, llm_review_updated_at = CURRENT_TIMESTAMP
		 WHERE llm_pending_batch_id = ?`,
		providerStatus, batchID)
	if err != nil {
		return fmt.Errorf("failing reviews for batch %s: %w", batchID, err)
	}
	return nil
}

// FailReviewByCustomID fails the review of the single job whose batch
// request errored while the rest of its batch succeeded.
func (s *Store) FailReviewByCustomID(ctx context.Context, customID, errorText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
			llm_review_state = 'failed', llm_review_error = ?, llm_review_updated_at = CURRENT_TIMESTAMP
		 WHERE llm_pending_custom_id = ?`,
		errorText, customID)
	if err != nil {
		return fmt.Errorf("failing review for item %s: %w", customID, err)
	}
	return nil
}

// SetJobStatus records a human workflow action (approve/apply/skip) and is
// the only writer allowed to enter a terminal status.
func (s *Store) SetJobStatus(ctx context.Context, jobID int64, status model.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), jobID)
	if err != nil {
		return fmt.Errorf("setting status on job %d: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("setting status on job %d: no such job", jobID)
	}
	return nil
}

// SetCleanupOutcome moves an inbox job between inbox and filtered during an
// inbox-cleanup run. Terminal statuses are untouched.
func (s *Store) SetCleanupOutcome(ctx context.Context, jobID, runID int64, keep bool) error {
	candidate := model.StatusFiltered
	if keep {
		candidate = model.StatusInbox
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET status = `+terminalStatusCase+`, last_run_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(candidate), runID, jobID)
	if err != nil {
		return fmt.Errorf("applying cleanup outcome to job %d: %w", jobID, err)
	}
	return nil
}

// GetJob loads one full job_queue row.
func (s *Store) GetJob(ctx context.Context, id int64) (*model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company, title, COALESCE(location,''), COALESCE(post_date,''),
			COALESCE(source,''), COALESCE(url,''), COALESCE(jd_text,''),
			COALESCE(company_key,''), COALESCE(title_key,''), COALESCE(location_key,''), COALESCE(post_date_key,''),
			COALESCE(canonical_fingerprint,''), COALESCE(dedup_reason,''), COALESCE(years_req,''),
			is_bigtech, score, COALESCE(tier,''),
			COALESCE(fit_score,0), COALESCE(fit_label,''), COALESCE(fit_source,''), fit_reason_codes,
			COALESCE(quality_bucket,''), rejected_by_quality, status,
			COALESCE(llm_confidence,0), llm_missing_must_have,
			COALESCE(llm_review_state,'none'), COALESCE(llm_pending_batch_id,''), COALESCE(llm_pending_custom_id,''),
			COALESCE(llm_review_error,''), first_seen_at, last_seen_at, COALESCE(last_run_id,0)
		 FROM job_queue WHERE id = ?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.JobRecord, error) {
	var rec model.JobRecord
	var reasonCodes, missingMustHave sql.NullString
	var bigtech, rejected int
	var fitLabel, fitSource, bucket, status, reviewState string
	err := row.Scan(
		&rec.ID, &rec.Company, &rec.Title, &rec.Location, &rec.PostDate,
		&rec.Source, &rec.URL, &rec.JDText,
		&rec.CompanyKey, &rec.TitleKey, &rec.LocationKey, &rec.PostDateKey,
		&rec.CanonicalFingerprint, &rec.DedupReason, &rec.YearsReq,
		&bigtech, &rec.Score, &rec.Tier,
		&rec.FitScore, &fitLabel, &fitSource, &reasonCodes,
		&bucket, &rejected, &status,
		&rec.LLMConfidence, &missingMustHave,
		&reviewState, &rec.LLMPendingBatchID, &rec.LLMPendingCustomID,
		&rec.LLMReviewError, &rec.FirstSeenAt, &rec.LastSeenAt, &rec.LastRunID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	rec.IsBigTech = bigtech != 0
	rec.RejectedByQuality = rejected != 0
	rec.FitLabel = model.FitLabel(fitLabel)
	rec.FitSource = model.FitSource(fitSource)
	rec.QualityBucket = model.QualityBucket(bucket)
	rec.Status = model.Status(status)
	rec.LLMReviewState = model.ReviewState(reviewState)
	rec.ReasonCodes = unmarshalList(reasonCodes)
	rec.LLMMissingMustHave = unmarshalList(missingMustHave)
	return &rec, nil
}

// ListJobsByStatus returns up to limit jobs in the given workflow status,
// newest post dates first.
func (s *Store) ListJobsByStatus(ctx context.Context, status model.Status, limit int) ([]*model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company, title, COALESCE(location,''), COALESCE(post_date,''),
			COALESCE(source,''), COALESCE(url,''), COALESCE(jd_text,''),
			COALESCE(company_key,''), COALESCE(title_key,''), COALESCE(location_key,''), COALESCE(post_date_key,''),
			COALESCE(canonical_fingerprint,''), COALESCE(dedup_reason,''), COALESCE(years_req,''),
			is_bigtech, score, COALESCE(tier,''),
			COALESCE(fit_score,0), COALESCE(fit_label,''), COALESCE(fit_source,''), fit_reason_codes,
			COALESCE(quality_bucket,''), rejected_by_quality, status,
			COALESCE(llm_confidence,0), llm_missing_must_have,
			COALESCE(llm_review_state,'none'), COALESCE(llm_pending_batch_id,''), COALESCE(llm_pending_custom_id,''),
			COALESCE(llm_review_error,''), first_seen_at, last_seen_at, COALESCE(last_run_id,0)
		 FROM job_queue WHERE status = ? ORDER BY post_date DESC, fit_score DESC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing %s jobs: %w", status, err)
	}
	defer rows.Close()

	var out []*model.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
