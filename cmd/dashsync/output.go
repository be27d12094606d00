package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/dashsync/internal/config"
)

// watermarkLayout renders watermarks with their server offset.
const watermarkLayout = "2006-01-02 15:04:05 -07:00"

// useCommandLogger sends logs to the command's stderr so stdout stays
// parseable.
func useCommandLogger(cfg config.LogConfig, cmd *cobra.Command) {
	slog.SetDefault(newLogger(cfg, cmd.ErrOrStderr()))
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatWatermark renders a possibly-unset watermark.
func formatWatermark(t *time.Time) string {
	if t == nil {
		return "never synced"
	}
	return t.Format(watermarkLayout)
}
