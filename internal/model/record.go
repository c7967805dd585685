package model

import "time"

// Status is the reviewer-facing workflow state of a JobRecord.
type Status string

const (
	StatusInbox    Status = "inbox"
	StatusApproved Status = "approved"
	StatusApplied  Status = "applied"
	StatusSkipped  Status = "skipped"
	StatusFiltered Status = "filtered"
)

// Terminal reports whether the status was set by a human action. Terminal
// statuses are never overwritten by re-ingestion, batch results or cleanup.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusApplied || s == StatusSkipped
}

// QualityBucket is the quality gate's verdict for a JobRecord.
type QualityBucket string

const (
	BucketHigh       QualityBucket = "high"
	BucketBorderline QualityBucket = "borderline"
	BucketFiltered   QualityBucket = "filtered"
	BucketPendingLLM QualityBucket = "pending_llm"
)

// FitLabel is the coarse classification of job fit.
type FitLabel string

const (
	FitHigh   FitLabel = "high"
	FitMedium FitLabel = "medium"
	FitLow    FitLabel = "low"
)

// FitSource records which engine produced the persisted fit fields.
type FitSource string

const (
	FitSourceRules FitSource = "rules"
	FitSourceLLM   FitSource = "llm"
)

// ReviewState tracks the asynchronous LLM review of a JobRecord.
type ReviewState string

const (
	ReviewNone      ReviewState = "none"
	ReviewPending   ReviewState = "pending"
	ReviewCompleted ReviewState = "completed"
	ReviewFailed    ReviewState = "failed"
)

// JobRecord is one persisted row per distinct real-world posting.
type JobRecord struct {
	ID       int64
	Company  string
	Title    string
	Location string
	PostDate string
	Source   string
	URL      string
	JDText   string

	// Normalized identity keys backing the composite unique index.
	CompanyKey  string
	TitleKey    string
	LocationKey string
	PostDateKey string

	CanonicalFingerprint string
	DedupReason          string

	// Legacy keyword score, display sorting only.
	Score int
	Tier  string

	FitScore    int
	FitLabel    FitLabel
	FitSource   FitSource
	ReasonCodes []string

	QualityBucket     QualityBucket
	RejectedByQuality bool
	Status            Status

	LLMConfidence      float64
	LLMMissingMustHave []string
	LLMReviewState     ReviewState
	LLMPendingBatchID  string
	LLMPendingCustomID string
	LLMReviewError     string

	IsBigTech bool
	YearsReq  string

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	LastRunID   int64
}

// JobEventType enumerates audit log entries for a JobRecord.
type JobEventType string

const (
	EventIngested          JobEventType = "ingested"
	EventDeduped           JobEventType = "deduped"
	EventStatusChanged     JobEventType = "status_changed"
	EventCleanupKept       JobEventType = "cleanup_kept"
	EventCleanupFiltered   JobEventType = "cleanup_filtered"
	EventLLMBatchCompleted JobEventType = "llm_batch_completed"
	EventSyncFailed        JobEventType = "sync_failed"
)

// JobEvent is one append-only audit log row.
type JobEvent struct {
	ID        int64
	JobID     int64
	RunID     int64
	Type      JobEventType
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

// BatchStatus mirrors the provider-side batch lifecycle.
type BatchStatus string

const (
	BatchValidating BatchStatus = "validating"
	BatchInProgress BatchStatus = "in_progress"
	BatchFinalizing BatchStatus = "finalizing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
	BatchCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether the provider will never change this status again.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// LLMBatch is one submitted provider batch job.
type LLMBatch struct {
	ID           int64
	RunID        int64
	BatchID      string
	Status       BatchStatus
	Model        string
	InputFileID  string
	OutputFileID string
	ErrorFileID  string
	ErrorText    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ItemState is the lifecycle of one job's request inside a batch.
type ItemState string

const (
	ItemQueued    ItemState = "queued"
	ItemCompleted ItemState = "completed"
	ItemFailed    ItemState = "failed"
)

// LLMBatchItem links a JobRecord to its pending request within an LLMBatch.
type LLMBatchItem struct {
	ID        int64
	RunID     int64
	BatchID   string
	JobID     int64
	CacheKey  string
	CustomID  string
	State     ItemState
	ErrorText string
}

// FitResult is a normalized LLM classification payload.
type FitResult struct {
	FitLabel        FitLabel
	FitScore        int
	Confidence      float64
	ReasonCodes     []string
	MissingMustHave []string
	Cached          bool
}

// Admitted applies the final admission rule to an LLM verdict.
func (f FitResult) Admitted(admitThreshold int) bool {
	return f.FitLabel == FitHigh || f.FitScore >= admitThreshold
}
