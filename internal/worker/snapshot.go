package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hyperengineering/dashsync/internal/snapshot"
	dashsync "github.com/hyperengineering/dashsync/internal/sync"
)

// SnapshotStore defines the store operations needed to publish snapshots.
type SnapshotStore interface {
	GenerateSnapshot(ctx context.Context, path string) error
}

// SnapshotPublisher writes the replica to {dir}/current.db after a committed
// cycle and hands the file to an uploader.
type SnapshotPublisher struct {
	store    SnapshotStore
	dir      string
	uploader snapshot.Uploader
}

// NewSnapshotPublisher creates a publisher. A nil uploader keeps snapshots
// local.
func NewSnapshotPublisher(store SnapshotStore, dir string, uploader snapshot.Uploader) *SnapshotPublisher {
	if uploader == nil {
		uploader = &snapshot.NoopUploader{}
	}
	return &SnapshotPublisher{
		store:    store,
		dir:      dir,
		uploader: uploader,
	}
}

// Path returns the location of the current local snapshot.
func (p *SnapshotPublisher) Path() string {
	return filepath.Join(p.dir, "current.db")
}

// Publish generates a snapshot for the given run and uploads it. An upload
// failure is logged and not returned; the local snapshot stays valid.
func (p *SnapshotPublisher) Publish(ctx context.Context, result *dashsync.Result) error {
	path := p.Path()
	if err := p.store.GenerateSnapshot(ctx, path); err != nil {
		return fmt.Errorf("generate snapshot: %w", err)
	}

	slog.Info("snapshot generated",
		"component", "worker",
		"action", "snapshot_generated",
		"run_id", result.RunID,
		"path", path,
	)

	err := p.uploader.Publish(ctx, snapshot.Snapshot{
		RunID:     result.RunID,
		Path:      path,
		Watermark: result.Watermark,
	})
	if err != nil && ctx.Err() == nil {
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"run_id", result.RunID,
			"error", err,
		)
	}
	return nil
}
