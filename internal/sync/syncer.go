package sync

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/dashsync/internal/types"
)

// Options tunes a Syncer.
type Options struct {
	// ProtectPending keeps rows with unacknowledged local changes when the
	// server no longer lists them.
	ProtectPending bool
	// Location is the server timezone the watermark is expressed in.
	// Defaults to UTC.
	Location *time.Location
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Recorder, when set, receives a history record after every cycle.
	Recorder RunRecorder
}

// Syncer runs download cycles: fetch, reconcile, commit, advance watermark.
// At most one cycle runs at a time.
type Syncer struct {
	remote RemoteDataSource
	store  LocalStore
	opts   Options

	mu gosync.Mutex
}

// NewSyncer creates a syncer over the given remote and local store.
func NewSyncer(remote RemoteDataSource, store LocalStore, opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Syncer{
		remote: remote,
		store:  store,
		opts:   opts,
	}
}

// Sync runs one cycle. It returns ErrSyncInProgress without side effects when
// another cycle is running. On any failure nothing is committed and the
// watermark is left unchanged; the error is a *SyncError naming the phase.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	start := s.opts.Clock().In(s.opts.Location)
	runID := ulid.MustNew(ulid.Timestamp(start), rand.Reader).String()

	result, err := s.run(ctx, runID, start)
	s.record(ctx, runID, start, result, err)
	if err != nil {
		slog.Error("sync failed",
			"component", "sync",
			"action", "sync_failed",
			"run_id", runID,
			"phase", PhaseOf(err),
			"error", err,
		)
		return nil, err
	}

	slog.Info("sync completed",
		"component", "sync",
		"action", "sync_completed",
		"run_id", runID,
		"incremental", result.Incremental,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *Syncer) run(ctx context.Context, runID string, start time.Time) (*Result, error) {
	previous, err := s.store.Watermark(ctx)
	if err != nil {
		return nil, &SyncError{Phase: PhaseWatermark, Err: err}
	}

	slog.Info("sync started",
		"component", "sync",
		"action", "sync_started",
		"run_id", runID,
		"incremental", previous != nil,
	)

	ops, err := s.plan(ctx, previous)
	if err != nil {
		return nil, &SyncError{Phase: PhaseFetch, Err: err}
	}

	watermark := start
	if previous != nil && previous.After(watermark) {
		watermark = previous.In(s.opts.Location)
	}
	if err := s.store.CommitBatch(ctx, ops, watermark); err != nil {
		return nil, &SyncError{Phase: PhaseCommit, Err: &StorageCommitError{Err: err}}
	}

	inserted, updated, deleted := countOperations(ops)
	return &Result{
		RunID:       runID,
		StartedAt:   start,
		Duration:    s.opts.Clock().Sub(start),
		Watermark:   watermark,
		Incremental: previous != nil,
		Inserted:    inserted,
		Updated:     updated,
		Deleted:     deleted,
	}, nil
}

// plan runs every strategy concurrently, links the reconciled collections and
// builds the batch. The first failure cancels the remaining fetches.
func (s *Syncer) plan(ctx context.Context, since *time.Time) ([]types.Operation, error) {
	var (
		dashboards Reconciled[types.Dashboard]
		items      Reconciled[types.DashboardItem]
		contents   Reconciled[types.Content]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dashboards, err = s.dashboardStrategy(since).Run(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.itemStrategy(since).Run(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		contents, err = NewContentAggregator(s.remote, s.store, s.opts.ProtectPending).Run(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	linkedItems := LinkDashboardItems(dashboards.Result, items.Result)
	elementOps, err := PlanElementOperations(ctx, s.store, linkedItems, s.opts.ProtectPending)
	if err != nil {
		return nil, err
	}

	var ops []types.Operation
	ops = append(ops, ReplaceOperations(contents.Persisted, contents.Result, contentKey, sameContent)...)
	ops = append(ops, ReplaceOperations(dashboards.Persisted, dashboards.Result, entityKey[types.Dashboard], sameDashboard)...)
	ops = append(ops, ReplaceOperations(items.Persisted, linkedItems, entityKey[types.DashboardItem], sameDashboardItem)...)
	ops = append(ops, elementOps...)
	return ops, nil
}

func (s *Syncer) dashboardStrategy(since *time.Time) Strategy[types.Dashboard] {
	return Strategy[types.Dashboard]{
		EntityType: string(types.EntityDashboard),
		Existing:   s.remote.DashboardIDs,
		Updated: func(ctx context.Context) ([]types.Dashboard, error) {
			dashboards, err := s.remote.Dashboards(ctx, since)
			if err != nil {
				return nil, err
			}
			for i := range dashboards {
				dashboards[i].State = types.StateSynced
			}
			return dashboards, nil
		},
		Persisted: s.store.Dashboards,
		Retain:    retainPending(s.opts.ProtectPending, func(d types.Dashboard) types.State { return d.State }),
	}
}

func (s *Syncer) itemStrategy(since *time.Time) Strategy[types.DashboardItem] {
	return Strategy[types.DashboardItem]{
		EntityType: string(types.EntityDashboardItem),
		Existing:   s.remote.DashboardItemIDs,
		Updated: func(ctx context.Context) ([]types.DashboardItem, error) {
			items, err := s.remote.DashboardItems(ctx, since)
			if err != nil {
				return nil, err
			}
			for i := range items {
				items[i].State = types.StateSynced
			}
			return items, nil
		},
		Persisted: s.store.DashboardItems,
		Retain:    retainPending(s.opts.ProtectPending, func(i types.DashboardItem) types.State { return i.State }),
	}
}

// record writes the run history. Recording failures are logged, never
// surfaced, so they cannot change the outcome of the cycle.
func (s *Syncer) record(ctx context.Context, runID string, start time.Time, result *Result, runErr error) {
	if s.opts.Recorder == nil {
		return
	}

	run := types.SyncRun{
		ID:         runID,
		StartedAt:  start,
		FinishedAt: s.opts.Clock().In(s.opts.Location),
		Status:     types.RunSucceeded,
	}
	if runErr != nil {
		run.Status = types.RunFailed
		run.Phase = string(PhaseOf(runErr))
		run.Error = runErr.Error()
	} else {
		wm := result.Watermark
		run.Watermark = &wm
		run.Inserted = result.Inserted
		run.Updated = result.Updated
		run.Deleted = result.Deleted
	}

	// The cycle context may already be cancelled; the record is still written.
	recordCtx := context.WithoutCancel(ctx)
	if err := s.opts.Recorder.RecordRun(recordCtx, run); err != nil {
		slog.Warn("failed to record sync run",
			"component", "sync",
			"action", "record_run_failed",
			"run_id", runID,
			"error", err,
		)
	}
}

// IsInProgress reports whether err signals a rejected concurrent cycle.
func IsInProgress(err error) bool {
	return errors.Is(err, ErrSyncInProgress)
}
