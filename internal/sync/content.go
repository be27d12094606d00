package sync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/dashsync/internal/types"
)

// ContentAggregator reconciles every content kind and unions the results
// into one collection tagged by kind.
type ContentAggregator struct {
	remote         ContentSource
	store          ContentStore
	kinds          []types.ContentKind
	protectPending bool
}

// NewContentAggregator creates an aggregator over all known content kinds.
func NewContentAggregator(remote ContentSource, store ContentStore, protectPending bool) *ContentAggregator {
	return &ContentAggregator{
		remote:         remote,
		store:          store,
		kinds:          types.ContentKinds,
		protectPending: protectPending,
	}
}

// Run reconciles each kind concurrently. The first failing kind cancels the
// others and fails the aggregation; no partial aggregate is returned.
// Results are concatenated in kind order, each kind in remote order.
func (a *ContentAggregator) Run(ctx context.Context, since *time.Time) (Reconciled[types.Content], error) {
	for _, kind := range a.kinds {
		if _, err := kind.Endpoint(); err != nil {
			return Reconciled[types.Content]{}, err
		}
	}

	perKind := make([]Reconciled[types.Content], len(a.kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range a.kinds {
		g.Go(func() error {
			reconciled, err := a.strategy(kind, since).Run(gctx)
			if err != nil {
				return err
			}
			perKind[i] = reconciled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Reconciled[types.Content]{}, err
	}

	var out Reconciled[types.Content]
	for _, r := range perKind {
		out.Persisted = append(out.Persisted, r.Persisted...)
		out.Result = append(out.Result, r.Result...)
	}
	return out, nil
}

func (a *ContentAggregator) strategy(kind types.ContentKind, since *time.Time) Strategy[types.Content] {
	return Strategy[types.Content]{
		EntityType: string(kind),
		Existing: func(ctx context.Context) ([]string, error) {
			return a.remote.ContentIDs(ctx, kind)
		},
		Updated: func(ctx context.Context) ([]types.Content, error) {
			contents, err := a.remote.Contents(ctx, kind, since)
			if err != nil {
				return nil, err
			}
			for i := range contents {
				contents[i].Kind = kind
				contents[i].State = types.StateSynced
			}
			return contents, nil
		},
		Persisted: func(ctx context.Context) ([]types.Content, error) {
			return a.store.Contents(ctx, kind)
		},
		Retain: retainPending[types.Content](a.protectPending, func(c types.Content) types.State { return c.State }),
	}
}

// retainPending returns the Retain policy for a strategy: nil when pending
// protection is disabled, otherwise a predicate keeping locally pending rows.
func retainPending[T any](enabled bool, state func(T) types.State) func(T) bool {
	if !enabled {
		return nil
	}
	return func(entity T) bool {
		return state(entity).IsPending()
	}
}
