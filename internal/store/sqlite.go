// Package store persists job records, provenance, runs, batches and usage
// ledgers in a SQLite database.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database shared by the whole pipeline.
type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company TEXT NOT NULL,
		title TEXT NOT NULL,
		location TEXT,
		post_date TEXT,
		source TEXT,
		url TEXT,
		jd_text TEXT,
		score INTEGER DEFAULT 0,
		tier TEXT DEFAULT 'B',
		status TEXT DEFAULT 'inbox',
		company_key TEXT,
		title_key TEXT,
		location_key TEXT,
		post_date_key TEXT,
		canonical_fingerprint TEXT,
		dedup_reason TEXT,
		years_req TEXT,
		is_bigtech INTEGER DEFAULT 0,
		fit_score INTEGER,
		fit_label TEXT,
		fit_source TEXT,
		fit_reason_codes TEXT,
		quality_bucket TEXT,
		rejected_by_quality INTEGER DEFAULT 0,
		llm_confidence REAL,
		llm_missing_must_have TEXT,
		llm_review_state TEXT DEFAULT 'none',
		llm_pending_batch_id TEXT,
		llm_pending_custom_id TEXT,
		llm_review_error TEXT,
		llm_review_updated_at DATETIME,
		first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_run_id INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(company, title, url)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_queue_fingerprint
		ON job_queue(canonical_fingerprint) WHERE canonical_fingerprint IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_queue_composite
		ON job_queue(company_key, title_key, location_key, post_date_key)`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_status ON job_queue(status)`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_quality_bucket ON job_queue(quality_bucket)`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_post_date ON job_queue(post_date DESC)`,

	`CREATE TABLE IF NOT EXISTS job_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL,
		run_id INTEGER,
		source TEXT,
		source_job_key TEXT,
		raw_post_date TEXT,
		payload_hash TEXT,
		ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(job_id) REFERENCES job_queue(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_sources_job_id ON job_sources(job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_job_sources_key ON job_sources(source, source_job_key)`,

	`CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL,
		run_id INTEGER,
		event_type TEXT NOT NULL,
		message TEXT,
		payload_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(job_id) REFERENCES job_queue(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS ingestion_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trigger_type TEXT NOT NULL,
		status TEXT DEFAULT 'running',
		summary_json TEXT,
		error_text TEXT,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at ON ingestion_runs(started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS serpapi_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER,
		queries_used INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_serpapi_usage_created_at ON serpapi_usage(created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS llm_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER,
		calls INTEGER NOT NULL DEFAULT 0,
		tokens_prompt INTEGER NOT NULL DEFAULT 0,
		tokens_completion INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_usage_created_at ON llm_usage(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_usage_run_id ON llm_usage(run_id)`,

	`CREATE TABLE IF NOT EXISTS llm_fit_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cache_key TEXT NOT NULL UNIQUE,
		fit_label TEXT,
		fit_score INTEGER DEFAULT 0,
		confidence REAL DEFAULT 0,
		reason_codes_json TEXT,
		missing_must_have_json TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS llm_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER,
		batch_id TEXT NOT NULL UNIQUE,
		status TEXT DEFAULT 'validating',
		model TEXT,
		input_file_id TEXT,
		output_file_id TEXT,
		error_file_id TEXT,
		error_text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		failed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_batches_status ON llm_batches(status)`,

	`CREATE TABLE IF NOT EXISTS llm_batch_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER,
		batch_id TEXT,
		job_id INTEGER,
		cache_key TEXT,
		custom_id TEXT NOT NULL UNIQUE,
		state TEXT DEFAULT 'queued',
		error_text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_batch_items_batch_id ON llm_batch_items(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_batch_items_job_id ON llm_batch_items(job_id)`,
}

// Open opens (or creates) the SQLite database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	// The store is the single shared mutable resource; serialize writers at
	// the connection level so overlapping run families never trip SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
