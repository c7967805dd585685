package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evanchen57/jobsieve/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ingestion daemon",
	Long:  "Start the cron scheduler for all configured run families; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("config loaded",
		"db", cfg.DBPath,
		"sources", len(cfg.Sources),
		"llm_enabled", cfg.LLM.Enabled,
		"llm_mode", cfg.LLMMode,
	)

	orch, st, err := buildOrchestrator(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(orch, scheduler.Schedules{
		Core:      cfg.Schedules.Core,
		Search:    cfg.Schedules.Search,
		BigTech:   cfg.Schedules.BigTech,
		Cleanup:   cfg.Schedules.Cleanup,
		Reconcile: cfg.Schedules.Reconcile,
	}, logger)
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}
