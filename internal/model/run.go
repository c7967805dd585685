package model

import "time"

// RunFamily is one logical job group. Two runs of the same family never
// overlap; different families may run concurrently.
type RunFamily string

const (
	FamilyCore    RunFamily = "core"
	FamilySearch  RunFamily = "search"
	FamilyBigTech RunFamily = "bigtech"
	FamilyCleanup RunFamily = "cleanup"
)

// RunStatus is the final state of an IngestionRun.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// LLMMode selects how escalated jobs reach the classifier.
type LLMMode string

const (
	ModeRealtime LLMMode = "realtime"
	ModeBatch    LLMMode = "batch"
	ModeAuto     LLMMode = "auto"
)

// RunTotals are the per-run ingestion counters.
type RunTotals struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Deduped  int `json:"deduped"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// SourceBreakdown reports one source's contribution to a run.
type SourceBreakdown struct {
	Source  string `json:"source"`
	Fetched int    `json:"fetched"`
	Error   string `json:"error,omitempty"`
}

// QualityCounts summarizes gate outcomes within a run.
type QualityCounts struct {
	High       int `json:"high"`
	Borderline int `json:"borderline"`
	Filtered   int `json:"filtered"`
	PendingLLM int `json:"pending_llm"`
}

// LLMCounts summarizes classifier activity within a run.
type LLMCounts struct {
	SyncCalls    int `json:"sync_calls"`
	CacheHits    int `json:"cache_hits"`
	Skipped      int `json:"skipped"`
	BatchQueued  int `json:"batch_queued"`
	BatchFlushed int `json:"batch_flushed"`
}

// RunSummary is the JSON summary persisted on an IngestionRun and returned
// to callers of TriggerRun.
type RunSummary struct {
	RunID       int64             `json:"run_id"`
	Family      RunFamily         `json:"family"`
	Status      RunStatus         `json:"status"`
	Totals      RunTotals         `json:"totals"`
	Sources     []SourceBreakdown `json:"sources"`
	Quality     QualityCounts     `json:"quality"`
	LLM         LLMCounts         `json:"llm"`
	Errors      []string          `json:"errors,omitempty"`
	DroppedOld  int               `json:"dropped_old,omitempty"`
	DroppedDate int               `json:"dropped_unknown_date,omitempty"`
}

// IngestionRun is one orchestrator invocation.
type IngestionRun struct {
	ID          int64
	TriggerType string
	Status      RunStatus
	Summary     string // serialized RunSummary
	ErrorText   string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// ProgressSnapshot is a point-in-time view of a running (or finished) run.
type ProgressSnapshot struct {
	RunID     int64     `json:"run_id"`
	Status    RunStatus `json:"status"`
	Totals    RunTotals `json:"totals"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
}
