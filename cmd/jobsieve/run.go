package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evanchen57/jobsieve/internal/model"
)

var (
	runFamily string
	runMode   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger one ingestion run and print its summary",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runFamily, "family", "core", "run family: core, search, bigtech, or cleanup")
	runCmd.Flags().StringVar(&runMode, "mode", "", "llm routing override: realtime, batch, or auto")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := orch.TriggerRun(ctx, model.RunFamily(runFamily), "manual", model.LLMMode(runMode))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
