package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll outstanding LLM batches and apply their results",
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	orch, st, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer st.Close()

	stats, err := orch.Reconcile(context.Background())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	fmt.Printf("polled %d, completed %d, failed %d, still running %d, verdicts %d, items failed %d\n",
		stats.Polled, stats.Completed, stats.Failed, stats.StillRunning, stats.VerdictsApplied, stats.ItemsFailed)
	return nil
}
