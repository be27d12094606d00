package store

import (
	"context"

	dashsync "github.com/hyperengineering/dashsync/internal/sync"
	"github.com/hyperengineering/dashsync/internal/types"
)

// Store is the local replica of the server's dashboards.
type Store interface {
	dashsync.LocalStore
	dashsync.RunRecorder
	ResetWatermark(ctx context.Context) error
	RecentRuns(ctx context.Context, limit int) ([]types.SyncRun, error)
	Stats(ctx context.Context) (*types.StoreStats, error)
	GenerateSnapshot(ctx context.Context, path string) error
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
