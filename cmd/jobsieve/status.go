package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/notifier"
	"github.com/evanchen57/jobsieve/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [job-id new-status]",
	Short: "List inbox jobs, or move one job to a new workflow status",
	Long: "With no arguments, lists the current inbox. With a job id and a status\n" +
		"(approved, applied, skipped, or inbox), records the reviewer decision.",
	Args: cobra.RangeArgs(0, 2),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "maximum inbox jobs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if len(args) == 0 {
		return printInbox(ctx, st)
	}
	if len(args) != 2 {
		return fmt.Errorf("expected a job id and a status")
	}

	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}
	status := model.Status(args[1])
	switch status {
	case model.StatusApproved, model.StatusApplied, model.StatusSkipped, model.StatusInbox:
	default:
		return fmt.Errorf("status must be approved, applied, skipped, or inbox, got %q", args[1])
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if err := setReviewerStatus(ctx, st, setupNotifiers(cfg, httpClient, logger), logger, jobID, status); err != nil {
		return err
	}
	fmt.Printf("job %d -> %s\n", jobID, status)
	return nil
}

// setReviewerStatus records a human decision. Approvals are announced
// through the configured notifiers so the dashboard stays in sync;
// notification is best effort and never fails the command.
func setReviewerStatus(ctx context.Context, st *store.Store, notifiers []notifier.Notifier, logger *slog.Logger, jobID int64, status model.Status) error {
	if err := st.SetJobStatus(ctx, jobID, status); err != nil {
		return err
	}
	if err := st.AddEvent(ctx, jobID, 0, model.EventStatusChanged, "reviewer set "+string(status), nil); err != nil {
		return err
	}
	if status != model.StatusApproved {
		return nil
	}

	rec, err := st.GetJob(ctx, jobID)
	if err != nil {
		logger.Warn("loading approved job failed", "job_id", jobID, "error", err)
		return nil
	}
	for _, n := range notifiers {
		if err := n.Notify(ctx, 0, []*model.JobRecord{rec}); err != nil {
			logger.Warn("notifier failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

func printInbox(ctx context.Context, st *store.Store) error {
	jobs, err := st.ListJobsByStatus(ctx, model.StatusInbox, statusLimit)
	if err != nil {
		return fmt.Errorf("list inbox: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMPANY\tTITLE\tLOCATION\tFIT\tSCORE\tBUCKET\tPOSTED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Company, j.Title, j.Location, j.FitLabel, j.FitScore, j.QualityBucket, j.PostDate)
	}
	return w.Flush()
}
