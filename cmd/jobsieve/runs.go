package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	RunE:  listRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
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

	summaries, err := orch.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tFAMILY\tSTATUS\tFETCHED\tINSERTED\tDEDUPED\tFAILED\tERRORS")
	for _, s := range summaries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			s.RunID, s.Family, s.Status,
			s.Totals.Fetched, s.Totals.Inserted, s.Totals.Deduped, s.Totals.Failed,
			len(s.Errors))
	}
	return w.Flush()
}
