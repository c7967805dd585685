package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanchen57/jobsieve/internal/adapter"
	"github.com/evanchen57/jobsieve/internal/budget"
	"github.com/evanchen57/jobsieve/internal/config"
	"github.com/evanchen57/jobsieve/internal/ingest"
	"github.com/evanchen57/jobsieve/internal/llmfit"
	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/notifier"
	"github.com/evanchen57/jobsieve/internal/pipeline"
	"github.com/evanchen57/jobsieve/internal/ratelimit"
	"github.com/evanchen57/jobsieve/internal/retry"
	"github.com/evanchen57/jobsieve/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobsieve",
	Short: "Job posting ingestion and triage pipeline",
	Long:  "Jobsieve aggregates postings from job boards, deduplicates them, and gates them into a review inbox with rule and LLM classification.",
	// Default to `start` so the bare binary runs the daemon.
	RunE: runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBSIEVE_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > JOBSIEVE_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("JOBSIEVE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func setupNotifiers(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) []notifier.Notifier {
	notifiers := []notifier.Notifier{notifier.NewLogNotifier(logger)}
	if cfg.Notify.Type == "webhook" {
		logger.Info("using webhook notifier")
		notifiers = append(notifiers, notifier.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken, httpClient, logger))
	}
	return notifiers
}

func createAdapter(src config.SourceConfig, httpClient *http.Client, logger *slog.Logger) (model.SourceAdapter, bool) {
	switch src.Kind {
	case "greenhouse":
		return adapter.NewGreenhouseAdapter(src.BoardToken, src.Name, httpClient), true
	case "lever":
		return adapter.NewLeverAdapter(src.BoardToken, src.Name, httpClient), true
	case "ashby":
		return adapter.NewAshbyAdapter(src.BoardToken, src.Name, httpClient), true
	default:
		logger.Warn("unsupported board kind, skipping", "name", src.Name, "kind", src.Kind)
		return nil, false
	}
}

// buildOrchestrator assembles the full pipeline from config. The caller
// owns closing the returned store.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, *store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	limiter := ratelimit.NewBackendLimiter(cfg.RateLimit.MinDelay)

	var core, bigtech []model.SourceAdapter
	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		a, ok := createAdapter(src, httpClient, logger)
		if !ok {
			continue
		}
		wrapped := retry.Wrap(
			ratelimit.Wrap(a, limiter, src.Kind),
			cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, logger,
		)
		if src.Family == "bigtech" {
			bigtech = append(bigtech, wrapped)
		} else {
			core = append(core, wrapped)
		}
		logger.Info("registered source", "name", src.Name, "kind", src.Kind, "family", src.Family)
	}

	var serpAlloc *budget.SerpAllocator
	var newSearch func(runBudget int) pipeline.SearchSource
	if cfg.Serp.APIKey != "" && len(cfg.Serp.Queries) > 0 {
		serpAlloc = budget.NewSerpAllocator(st, cfg.Serp.Budget())
		serpCfg := cfg.Serp
		newSearch = func(runBudget int) pipeline.SearchSource {
			return adapter.NewSerpAPIAdapter(serpCfg.APIKey, serpCfg.Location, serpCfg.Queries, runBudget, httpClient)
		}
	}

	classifier := llmfit.New(st, cfg.LLM, logger)
	resolver := ingest.NewResolver(st, logger)

	orch := pipeline.New(st, resolver, classifier, serpAlloc, pipeline.Options{
		Profile:          cfg.Profile,
		Gate:             cfg.Gate,
		Mode:             cfg.LLMMode,
		FreshnessHours:   cfg.Freshness.Hours,
		AllowUnknownDate: cfg.Freshness.AllowUnknownDate,
		CoreSources:      core,
		BigTechSources:   bigtech,
		NewSearchSource:  newSearch,
		Notifiers:        setupNotifiers(cfg, httpClient, logger),
	}, logger)

	return orch, st, nil
}
