package sync

import (
	"context"
	"time"

	"github.com/hyperengineering/dashsync/internal/types"
)

// ContentSource fetches content of a single kind from the server.
type ContentSource interface {
	// ContentIDs returns the ids of every content of the kind on the server.
	ContentIDs(ctx context.Context, kind types.ContentKind) ([]string, error)
	// Contents returns contents changed after since; nil since means all.
	Contents(ctx context.Context, kind types.ContentKind, since *time.Time) ([]types.Content, error)
}

// RemoteDataSource is the server API the sync engine reads from.
type RemoteDataSource interface {
	ContentSource
	DashboardIDs(ctx context.Context) ([]string, error)
	Dashboards(ctx context.Context, since *time.Time) ([]types.Dashboard, error)
	DashboardItemIDs(ctx context.Context) ([]string, error)
	DashboardItems(ctx context.Context, since *time.Time) ([]types.DashboardItem, error)
}

// ContentStore reads persisted content of a single kind.
type ContentStore interface {
	Contents(ctx context.Context, kind types.ContentKind) ([]types.Content, error)
}

// ElementStore reads the element rows owned by an item.
type ElementStore interface {
	ElementsByItem(ctx context.Context, itemID string) ([]types.DashboardElement, error)
}

// WatermarkStore persists the time of the last successful cycle.
type WatermarkStore interface {
	// Watermark returns nil when no cycle has succeeded yet.
	Watermark(ctx context.Context) (*time.Time, error)
	SetWatermark(ctx context.Context, t time.Time) error
}

// LocalStore is the local database the sync engine writes to.
type LocalStore interface {
	ContentStore
	ElementStore
	WatermarkStore
	Dashboards(ctx context.Context) ([]types.Dashboard, error)
	DashboardItems(ctx context.Context) ([]types.DashboardItem, error)
	// ApplyBatch applies every operation in one transaction or none of them.
	ApplyBatch(ctx context.Context, ops []types.Operation) error
	// CommitBatch is ApplyBatch plus SetWatermark in the same transaction.
	CommitBatch(ctx context.Context, ops []types.Operation, watermark time.Time) error
}

// RunRecorder stores the history record of a finished cycle.
type RunRecorder interface {
	RecordRun(ctx context.Context, run types.SyncRun) error
}

// Result summarizes a successful cycle.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	// Watermark is the value written at the end of the cycle.
	Watermark time.Time
	// Incremental is false for a full download (no previous watermark).
	Incremental bool
	Inserted    int
	Updated     int
	Deleted     int
}
