// Package config loads the YAML configuration, expands ${ENV} references,
// and validates the result before the rest of the system sees it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evanchen57/jobsieve/internal/budget"
	"github.com/evanchen57/jobsieve/internal/gate"
	"github.com/evanchen57/jobsieve/internal/llmfit"
	"github.com/evanchen57/jobsieve/internal/model"
)

// Config is the root configuration for the ingestion pipeline.
type Config struct {
	DBPath    string
	Profile   model.Profile
	Gate      gate.Options
	LLM       llmfit.Config
	LLMMode   model.LLMMode
	Serp      SerpConfig
	Sources   []SourceConfig
	Freshness FreshnessConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Notify    NotifyConfig
	Schedules ScheduleConfig
}

// SourceConfig describes a single board to ingest.
type SourceConfig struct {
	Name       string `yaml:"name"`        // company display name
	Kind       string `yaml:"kind"`        // greenhouse | lever | ashby
	BoardToken string `yaml:"board_token"` // board token or company slug
	Family     string `yaml:"family"`      // core (default) or bigtech
	Enabled    bool   `yaml:"enabled"`
}

// SerpConfig wires the search family: the google_jobs queries and the
// monthly quota parameters feeding the budget allocator.
type SerpConfig struct {
	APIKey        string
	Location      string
	Queries       []string
	MonthlyCap    int
	Reserve       int
	FetchInterval time.Duration
}

// Budget converts the quota parameters to the allocator's shape.
func (s SerpConfig) Budget() budget.SerpConfig {
	return budget.SerpConfig{
		MonthlyCap:    s.MonthlyCap,
		Reserve:       s.Reserve,
		FetchInterval: s.FetchInterval,
	}
}

// FreshnessConfig controls the pre-gate freshness window.
type FreshnessConfig struct {
	Hours            int  `yaml:"hours"`
	AllowUnknownDate bool `yaml:"allow_unknown_date"`
}

// RateLimitConfig controls backend-level request spacing.
type RateLimitConfig struct {
	MinDelay         time.Duration
	BackendOverrides map[string]time.Duration
}

// MinDelayFor returns the configured delay for the given backend, falling
// back to MinDelay.
func (r RateLimitConfig) MinDelayFor(backend string) time.Duration {
	if d, ok := r.BackendOverrides[backend]; ok {
		return d
	}
	return r.MinDelay
}

// RetryConfig controls the fetch retry decorator.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// NotifyConfig selects the notifier and its webhook target.
type NotifyConfig struct {
	Type         string `yaml:"type"` // "log" or "webhook"
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
}

// ScheduleConfig holds the cron expressions the daemon registers, one per
// run family plus the batch reconcile interval.
type ScheduleConfig struct {
	Core      string `yaml:"core"`
	Search    string `yaml:"search"`
	BigTech   string `yaml:"bigtech"`
	Cleanup   string `yaml:"cleanup"`
	Reconcile string `yaml:"reconcile"`
}

// rawConfig is used for YAML unmarshaling (snake_case fields and durations
// as strings).
type rawConfig struct {
	DBPath    string          `yaml:"db_path"`
	Profile   model.Profile   `yaml:"profile"`
	Gate      gate.Options    `yaml:"gate"`
	LLM       rawLLMConfig    `yaml:"llm"`
	Serp      rawSerpConfig   `yaml:"serpapi"`
	Sources   []SourceConfig  `yaml:"sources"`
	Freshness FreshnessConfig `yaml:"freshness"`
	RateLimit rawRateLimit    `yaml:"rate_limit"`
	Retry     rawRetry        `yaml:"retry"`
	Notify    NotifyConfig    `yaml:"notification"`
	Schedules ScheduleConfig  `yaml:"schedules"`
}

type rawLLMConfig struct {
	Enabled          bool   `yaml:"enabled"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	BatchModel       string `yaml:"batch_model"`
	Mode             string `yaml:"mode"`
	Timeout          string `yaml:"timeout"`
	DailyCap         int    `yaml:"daily_cap"`
	MaxPerRun        int    `yaml:"max_per_run"`
	AdmitThreshold   int    `yaml:"admit_threshold"`
	BatchThreshold   int    `yaml:"batch_threshold"`
	BatchFallback    int    `yaml:"batch_realtime_fallback"`
	CompletionWindow string `yaml:"completion_window"`
}

type rawSerpConfig struct {
	APIKey        string   `yaml:"api_key"`
	Location      string   `yaml:"location"`
	Queries       []string `yaml:"queries"`
	MonthlyCap    int      `yaml:"monthly_cap"`
	Reserve       int      `yaml:"reserve"`
	FetchInterval string   `yaml:"fetch_interval"`
}

type rawRateLimit struct {
	MinDelay         string            `yaml:"min_delay"`
	BackendOverrides map[string]string `yaml:"backend_overrides"`
}

type rawRetry struct {
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
}

// Load reads and parses the YAML config file at path, validates it, and
// returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	llmTimeout := 15 * time.Second
	if raw.LLM.Timeout != "" {
		llmTimeout, err = time.ParseDuration(raw.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse llm.timeout %q: %w", raw.LLM.Timeout, err)
		}
	}

	fetchInterval := 24 * time.Hour
	if raw.Serp.FetchInterval != "" {
		fetchInterval, err = time.ParseDuration(raw.Serp.FetchInterval)
		if err != nil {
			return nil, fmt.Errorf("parse serpapi.fetch_interval %q: %w", raw.Serp.FetchInterval, err)
		}
	}

	minDelay := 2 * time.Second
	if raw.RateLimit.MinDelay != "" {
		minDelay, err = time.ParseDuration(raw.RateLimit.MinDelay)
		if err != nil {
			return nil, fmt.Errorf("parse rate_limit.min_delay %q: %w", raw.RateLimit.MinDelay, err)
		}
	}
	overrides := make(map[string]time.Duration)
	for backend, v := range raw.RateLimit.BackendOverrides {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse rate_limit.backend_overrides[%q]: %w", backend, err)
		}
		overrides[backend] = d
	}

	retryBase := 5 * time.Second
	if raw.Retry.BaseDelay != "" {
		retryBase, err = time.ParseDuration(raw.Retry.BaseDelay)
		if err != nil {
			return nil, fmt.Errorf("parse retry.base_delay %q: %w", raw.Retry.BaseDelay, err)
		}
	}
	retries := raw.Retry.MaxRetries
	if retries == 0 {
		retries = 2
	}

	mode := model.LLMMode(strings.ToLower(strings.TrimSpace(raw.LLM.Mode)))
	if mode == "" {
		mode = model.ModeAuto
	}

	dbPath := raw.DBPath
	if dbPath == "" {
		dbPath = "jobsieve.db"
	}

	cfg := &Config{
		DBPath:  dbPath,
		Profile: raw.Profile,
		Gate:    raw.Gate,
		LLM: llmfit.Config{
			Enabled:          raw.LLM.Enabled,
			APIKey:           raw.LLM.APIKey,
			BaseURL:          raw.LLM.BaseURL,
			Model:            raw.LLM.Model,
			BatchModel:       raw.LLM.BatchModel,
			Timeout:          llmTimeout,
			DailyCap:         raw.LLM.DailyCap,
			MaxPerRun:        raw.LLM.MaxPerRun,
			AdmitThreshold:   raw.LLM.AdmitThreshold,
			BatchThreshold:   raw.LLM.BatchThreshold,
			BatchFallback:    raw.LLM.BatchFallback,
			CompletionWindow: raw.LLM.CompletionWindow,
		},
		LLMMode: mode,
		Serp: SerpConfig{
			APIKey:        raw.Serp.APIKey,
			Location:      raw.Serp.Location,
			Queries:       raw.Serp.Queries,
			MonthlyCap:    raw.Serp.MonthlyCap,
			Reserve:       raw.Serp.Reserve,
			FetchInterval: fetchInterval,
		},
		Sources:   raw.Sources,
		Freshness: raw.Freshness,
		RateLimit: RateLimitConfig{MinDelay: minDelay, BackendOverrides: overrides},
		Retry:     RetryConfig{MaxRetries: retries, BaseDelay: retryBase},
		Notify:    raw.Notify,
		Schedules: raw.Schedules,
	}

	if cfg.Gate == (gate.Options{}) {
		cfg.Gate = gate.Defaults()
	}
	if cfg.Freshness.Hours == 0 {
		cfg.Freshness.Hours = 24
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Profile.TargetRoles) == 0 {
		return fmt.Errorf("profile.target_roles must not be empty")
	}

	switch cfg.LLMMode {
	case model.ModeRealtime, model.ModeBatch, model.ModeAuto:
	default:
		return fmt.Errorf("llm.mode must be realtime, batch, or auto, got %q", cfg.LLMMode)
	}

	if cfg.LLM.Enabled && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm.enabled is true")
	}

	for i, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		switch src.Kind {
		case "greenhouse", "lever", "ashby":
		default:
			return fmt.Errorf("sources[%d].kind must be greenhouse, lever, or ashby, got %q", i, src.Kind)
		}
		if src.BoardToken == "" {
			return fmt.Errorf("sources[%d].board_token is required", i)
		}
		switch src.Family {
		case "", "core", "bigtech":
		default:
			return fmt.Errorf("sources[%d].family must be core or bigtech, got %q", i, src.Family)
		}
	}

	if cfg.Freshness.Hours < 1 || cfg.Freshness.Hours > 24*14 {
		return fmt.Errorf("freshness.hours must be between 1 and %d, got %d", 24*14, cfg.Freshness.Hours)
	}

	if cfg.Notify.Type == "webhook" && cfg.Notify.WebhookURL == "" {
		return fmt.Errorf("notification.webhook_url is required when type is \"webhook\"")
	}

	return nil
}
