package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/dashsync/internal/store"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the sync watermark so the next cycle downloads everything",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
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

	if err := db.ResetWatermark(ctx); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Watermark cleared. The next sync will be a full download.")
	return nil
}
