package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	dashsync "github.com/hyperengineering/dashsync/internal/sync"
)

// Syncer runs one sync cycle.
type Syncer interface {
	Sync(ctx context.Context) (*dashsync.Result, error)
}

// Publisher receives the result of every committed cycle.
type Publisher interface {
	Publish(ctx context.Context, result *dashsync.Result) error
}

// ParseSchedule parses a standard five-field cron spec or a descriptor such
// as "@hourly" or "@every 15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// SyncCoordinator triggers sync cycles on a cron schedule.
type SyncCoordinator struct {
	syncer     Syncer
	schedule   cron.Schedule
	runOnStart bool
	publisher  Publisher
	now        func() time.Time
}

// NewSyncCoordinator creates a coordinator. The publisher is optional; if
// nil, committed cycles are not snapshotted.
func NewSyncCoordinator(syncer Syncer, schedule cron.Schedule, runOnStart bool, publisher Publisher) *SyncCoordinator {
	return &SyncCoordinator{
		syncer:     syncer,
		schedule:   schedule,
		runOnStart: runOnStart,
		publisher:  publisher,
		now:        time.Now,
	}
}

// Run starts the coordinator loop and blocks until ctx is cancelled.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-coordinator",
		"action", "worker_started",
		"run_on_start", c.runOnStart,
	)

	if c.runOnStart {
		c.runCycle(ctx)
	}

	for {
		now := c.now()
		timer := time.NewTimer(c.schedule.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-timer.C:
			c.runCycle(ctx)
		}
	}
}

// runCycle runs one scheduled cycle and logs its outcome.
func (c *SyncCoordinator) runCycle(ctx context.Context) {
	_, err := c.SyncNow(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case dashsync.IsInProgress(err):
		slog.Info("sync skipped",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "sync_skipped",
			"reason", "in_progress",
		)
	default:
		slog.Warn("scheduled sync failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "sync_failed",
			"error", err,
		)
	}
}

// SyncNow runs one cycle outside the schedule and publishes a snapshot when
// it commits. Publish failures are logged, not returned.
func (c *SyncCoordinator) SyncNow(ctx context.Context) (*dashsync.Result, error) {
	result, err := c.syncer.Sync(ctx)
	if err != nil {
		return nil, err
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, result); err != nil && ctx.Err() == nil {
			slog.Warn("snapshot publish failed",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "snapshot_failed",
				"run_id", result.RunID,
				"error", err,
			)
		}
	}
	return result, nil
}
