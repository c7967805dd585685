package store

import (
	"context"
	"fmt"
	"time"
)

// Usage ledgers are monotonically increasing counters: rows are only ever
// inserted, and quota checks sum them over a window.

// RecordLLMUsage appends one llm_usage row.
func (s *Store) RecordLLMUsage(ctx context.Context, runID int64, calls, tokensPrompt, tokensCompletion int) error {
	if calls <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_usage (run_id, calls, tokens_prompt, tokens_completion)
		 VALUES (?, ?, ?, ?)`,
		nullableID(runID), calls, tokensPrompt, tokensCompletion)
	if err != nil {
		return fmt.Errorf("recording llm usage: %w", err)
	}
	return nil
}

// LLMDailyUsage sums classification calls over the current UTC day.
func (s *Store) LLMDailyUsage(ctx context.Context, now time.Time) (int, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	start := day.Format(sqliteTimeLayout)
	end := day.Add(24 * time.Hour).Format(sqliteTimeLayout)
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(calls), 0) FROM llm_usage WHERE created_at >= ? AND created_at < ?`,
		start, end).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("summing daily llm usage: %w", err)
	}
	return used, nil
}

// LLMRunUsage sums classification calls charged to one run.
func (s *Store) LLMRunUsage(ctx context.Context, runID int64) (int, error) {
	if runID == 0 {
		return 0, nil
	}
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(calls), 0) FROM llm_usage WHERE run_id = ?`, runID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("summing run llm usage: %w", err)
	}
	return used, nil
}

// RecordSerpUsage appends one serpapi_usage row.
func (s *Store) RecordSerpUsage(ctx context.Context, runID int64, queriesUsed int, notes string) error {
	if queriesUsed <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO serpapi_usage (run_id, queries_used, notes) VALUES (?, ?, ?)`,
		nullableID(runID), queriesUsed, nullable(notes))
	if err != nil {
		return fmt.Errorf("recording serpapi usage: %w", err)
	}
	return nil
}

// SerpUsageThisMonth sums search queries issued in the current UTC month.
func (s *Store) SerpUsageThisMonth(ctx context.Context, now time.Time) (int, error) {
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).Format(sqliteTimeLayout)
	end := time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC).Format(sqliteTimeLayout)
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(queries_used), 0) FROM serpapi_usage WHERE created_at >= ? AND created_at < ?`,
		start, end).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("summing monthly serpapi usage: %w", err)
	}
	return used, nil
}

// sqliteTimeLayout matches CURRENT_TIMESTAMP so window comparisons stay
// lexicographic-safe.
const sqliteTimeLayout = "2006-01-02 15:04:05"
