package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/hyperengineering/dashsync/internal/snapshot"
	dashsync "github.com/hyperengineering/dashsync/internal/sync"
	"github.com/hyperengineering/dashsync/internal/types"
)

const (
	// DefaultRunLimit is the number of runs returned by the status endpoint.
	DefaultRunLimit = 10
	// MaxRunLimit caps the ?limit query parameter.
	MaxRunLimit = 100
)

// StatusStore is the read side of the local store used by the API.
type StatusStore interface {
	Stats(ctx context.Context) (*types.StoreStats, error)
	RecentRuns(ctx context.Context, limit int) ([]types.SyncRun, error)
}

// SyncRunner runs one sync cycle on demand.
type SyncRunner interface {
	SyncNow(ctx context.Context) (*dashsync.Result, error)
}

// Handler implements the API handlers
type Handler struct {
	store        StatusStore
	runner       SyncRunner
	uploader     snapshot.Uploader
	snapshotPath string
	apiKey       string
	version      string
}

// NewHandler creates a new Handler. snapshotPath is the local snapshot file
// served when no uploader is configured; empty disables the endpoint.
func NewHandler(s StatusStore, runner SyncRunner, uploader snapshot.Uploader, snapshotPath, apiKey, version string) *Handler {
	if uploader == nil {
		uploader = &snapshot.NoopUploader{}
	}
	return &Handler{
		store:        s,
		runner:       runner,
		uploader:     uploader,
		snapshotPath: snapshotPath,
		apiKey:       apiKey,
		version:      version,
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		slog.Error("health check failed",
			"component", "api",
			"action", "health_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Local store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Watermark: stats.Watermark,
	})
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxRunLimit)
	}

	ctx := r.Context()
	stats, err := h.store.Stats(ctx)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	runs, err := h.store.RecentRuns(ctx, limit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.SyncRun{}
	}

	writeJSON(w, http.StatusOK, types.SyncStatusResponse{
		Stats:      *stats,
		RecentRuns: runs,
	})
}

// TriggerSync handles POST /api/v1/sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.SyncNow(r.Context())
	if err != nil {
		MapSyncError(w, r, err)
		return
	}

	slog.Info("sync triggered",
		"component", "api",
		"action", "sync_triggered",
		"run_id", result.RunID,
	)

	writeJSON(w, http.StatusOK, types.SyncTriggerResponse{
		RunID:       result.RunID,
		StartedAt:   result.StartedAt,
		DurationMS:  result.Duration.Milliseconds(),
		Watermark:   result.Watermark,
		Incremental: result.Incremental,
		Inserted:    result.Inserted,
		Updated:     result.Updated,
		Deleted:     result.Deleted,
	})
}

// Snapshot handles GET /api/v1/snapshot. It redirects to a pre-signed URL
// when S3 is configured and serves the local file otherwise.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	url, _, err := h.uploader.PresignedURL(r.Context())
	switch {
	case err == nil:
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	case !errors.Is(err, snapshot.ErrNotConfigured):
		slog.Error("presign snapshot failed",
			"component", "api",
			"action", "snapshot_presign_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusBadGateway, "Snapshot storage unavailable")
		return
	}

	if h.snapshotPath == "" {
		WriteProblem(w, r, http.StatusNotFound, "Snapshots are not enabled")
		return
	}
	f, err := os.Open(h.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			WriteProblem(w, r, http.StatusServiceUnavailable, "No snapshot available yet")
			return
		}
		MapStoreError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", `attachment; filename="dashsync.db"`)
	http.ServeContent(w, r, "dashsync.db", info.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
