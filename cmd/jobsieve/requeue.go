package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Re-queue failed LLM batch items as a fresh batch",
	RunE:  runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
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

	queued, err := orch.RequeueFailedBatchItems(context.Background())
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	fmt.Printf("queued %d\n", queued)
	return nil
}
