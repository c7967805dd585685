// Package llmfit classifies borderline jobs with an LLM, synchronously or
// through the provider's asynchronous batch API, under daily and per-run
// call caps. Results are memoized so a (job, profile) pair never pays twice.
package llmfit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/store"
)

// Config controls the classifier and the batch subsystem.
type Config struct {
	Enabled          bool
	APIKey           string
	BaseURL          string
	Model            string
	BatchModel       string
	Timeout          time.Duration
	DailyCap         int
	MaxPerRun        int
	AdmitThreshold   int
	BatchThreshold   int
	BatchFallback    int
	CompletionWindow string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.BatchModel == "" {
		c.BatchModel = c.Model
	}
	if c.Timeout < 3*time.Second {
		c.Timeout = 15 * time.Second
	}
	if c.DailyCap < 1 {
		c.DailyCap = 120
	}
	if c.MaxPerRun < 1 {
		c.MaxPerRun = 30
	}
	if c.AdmitThreshold < 1 {
		c.AdmitThreshold = 65
	}
	if c.BatchThreshold < 1 {
		c.BatchThreshold = 8
	}
	if c.BatchFallback < 0 {
		c.BatchFallback = 3
	}
	if c.CompletionWindow == "" {
		c.CompletionWindow = "24h"
	}
	return c
}

// Classifier owns the sync classification path, the per-run batch buffers,
// and batch reconciliation.
type Classifier struct {
	store  *store.Store
	client *openai.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buffers map[int64]*runBuffer // keyed by run id
}

// New creates a classifier. The OpenAI client targets cfg.BaseURL so tests
// can point it at a fake provider.
func New(st *store.Store, cfg Config, logger *slog.Logger) *Classifier {
	cfg = cfg.withDefaults()
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	return &Classifier{
		store:   st,
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		buffers: make(map[int64]*runBuffer),
	}
}

// AdmitThreshold exposes the configured LLM admission cutoff.
func (c *Classifier) AdmitThreshold() int { return c.cfg.AdmitThreshold }

// Skip reasons returned on the degraded paths. A skip always means "keep
// the deterministic-gate decision", never an admission.
const (
	SkipDisabled       = "disabled_or_missing_key"
	SkipDailyCap       = "daily_cap_reached"
	SkipRunCap         = "run_cap_reached"
	SkipRequestFailed  = "llm_request_failed"
	SkipInvalidPayload = "llm_invalid_payload"
	SkipBatchQueued    = "batch_queued"
)

// Outcome is the result of one classification attempt.
type Outcome struct {
	Skipped    bool
	SkipReason string
	CustomID   string // set when the job was queued for batch
	Fit        model.FitResult
	CacheKey   string
}

// Classify runs the synchronous path: cache, enablement, daily cap, run
// cap, then one temperature-0 JSON-object call. Failures downgrade to a
// skip; they never raise.
func (c *Classifier) Classify(ctx context.Context, job model.NormalizedJob, profile model.Profile, runID int64) Outcome {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return Outcome{Skipped: true, SkipReason: SkipDisabled}
	}

	cacheKey := CacheKey(job, profile)
	if fit, ok, err := c.store.GetCachedFit(ctx, cacheKey); err == nil && ok {
		return Outcome{Fit: fit, CacheKey: cacheKey}
	}

	if used, err := c.store.LLMDailyUsage(ctx, c.now()); err != nil || used >= c.cfg.DailyCap {
		if err != nil {
			c.logger.Warn("llm daily usage lookup failed", "error", err)
			return Outcome{Skipped: true, SkipReason: SkipRequestFailed, CacheKey: cacheKey}
		}
		return Outcome{Skipped: true, SkipReason: SkipDailyCap, CacheKey: cacheKey}
	}
	if used, err := c.store.LLMRunUsage(ctx, runID); err != nil || used >= c.cfg.MaxPerRun {
		if err != nil {
			c.logger.Warn("llm run usage lookup failed", "error", err)
			return Outcome{Skipped: true, SkipReason: SkipRequestFailed, CacheKey: cacheKey}
		}
		return Outcome{Skipped: true, SkipReason: SkipRunCap, CacheKey: cacheKey}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, chatRequest(c.cfg.Model, job, profile))
	if err != nil {
		c.logger.Warn("llm classify call failed", "error", err, "title", job.Title)
		return Outcome{Skipped: true, SkipReason: SkipRequestFailed, CacheKey: cacheKey}
	}
	if len(resp.Choices) == 0 {
		return Outcome{Skipped: true, SkipReason: SkipInvalidPayload, CacheKey: cacheKey}
	}

	fit, ok := parseFitContent(resp.Choices[0].Message.Content)
	if !ok {
		return Outcome{Skipped: true, SkipReason: SkipInvalidPayload, CacheKey: cacheKey}
	}

	if err := c.store.SetCachedFit(ctx, cacheKey, fit); err != nil {
		c.logger.Warn("fit cache write failed", "error", err)
	}
	if err := c.store.RecordLLMUsage(ctx, runID, 1, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); err != nil {
		c.logger.Warn("llm usage write failed", "error", err)
	}

	return Outcome{Fit: fit, CacheKey: cacheKey}
}

// parseFitContent parses and normalizes the model's JSON verdict.
func parseFitContent(content string) (model.FitResult, bool) {
	var raw rawFitPayload
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return model.FitResult{}, false
	}
	return raw.normalize(), true
}
