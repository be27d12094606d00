package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/dashsync/internal/store"
	"github.com/hyperengineering/dashsync/internal/types"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica contents, watermark and recent sync runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10,
		"Number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	useCommandLogger(cfg.Log, cmd)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	runs, err := db.RecentRuns(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("read sync runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if runs == nil {
			runs = []types.SyncRun{}
		}
		return printJSON(out, types.SyncStatusResponse{Stats: *stats, RecentRuns: runs})
	}

	fmt.Fprintf(out, "Database:        %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Watermark:       %s\n", formatWatermark(stats.Watermark))
	fmt.Fprintf(out, "Dashboards:      %d\n", stats.Dashboards)
	fmt.Fprintf(out, "Dashboard items: %d\n", stats.DashboardItems)
	fmt.Fprintf(out, "Contents:        %d\n", stats.Contents)
	fmt.Fprintf(out, "Elements:        %d\n", stats.Elements)

	if len(runs) == 0 {
		fmt.Fprintln(out, "\nNo sync runs recorded.")
		return nil
	}

	fmt.Fprintln(out)
	w := newTabWriter(out)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tINSERTED\tUPDATED\tDELETED\tERROR")
	for _, r := range runs {
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.Inserted,
			r.Updated,
			r.Deleted,
			errText,
		)
	}
	return w.Flush()
}
