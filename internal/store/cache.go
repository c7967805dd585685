package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evanchen57/jobsieve/internal/model"
)

// GetCachedFit returns the memoized classification for a cache key, if any.
// A hit means the (job, profile) pair was already paid for.
func (s *Store) GetCachedFit(ctx context.Context, cacheKey string) (model.FitResult, bool, error) {
	var fit model.FitResult
	var label string
	var reasonCodes, missing sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(fit_label,'low'), COALESCE(fit_score,0), COALESCE(confidence,0),
			reason_codes_json, missing_must_have_json
		 FROM llm_fit_cache WHERE cache_key = ? LIMIT 1`, cacheKey).
		Scan(&label, &fit.FitScore, &fit.Confidence, &reasonCodes, &missing)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FitResult{}, false, nil
	}
	if err != nil {
		return model.FitResult{}, false, fmt.Errorf("reading fit cache: %w", err)
	}
	fit.FitLabel = model.FitLabel(label)
	fit.ReasonCodes = unmarshalList(reasonCodes)
	fit.MissingMustHave = unmarshalList(missing)
	fit.Cached = true
	return fit, true, nil
}

// SetCachedFit writes through a classification result. Upsert keeps the
// invariant of at most one row per (job, profile) pair.
func (s *Store) SetCachedFit(ctx context.Context, cacheKey string, fit model.FitResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_fit_cache (
			cache_key, fit_label, fit_score, confidence, reason_codes_json, missing_must_have_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cache_key) DO UPDATE SET
			fit_label = excluded.fit_label,
			fit_score = excluded.fit_score,
			confidence = excluded.confidence,
			reason_codes_json = excluded.reason_codes_json,
			missing_must_have_json = excluded.missing_must_have_json,
			updated_at = CURRENT_TIMESTAMP`,
		cacheKey, string(fit.FitLabel), fit.FitScore, fit.Confidence,
		marshalList(fit.ReasonCodes), marshalList(fit.MissingMustHave))
	if err != nil {
		return fmt.Errorf("writing fit cache: %w", err)
	}
	return nil
}
