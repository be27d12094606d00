package sync

import (
	"context"
	"fmt"
)

// Identifiable is satisfied by every entity a Strategy reconciles.
type Identifiable interface {
	EntityID() string
}

// Strategy reconciles one entity type from three sources: the ids the server
// still has, the full representations changed since the watermark, and what
// is persisted locally.
type Strategy[T Identifiable] struct {
	// EntityType names the type in errors and logs.
	EntityType string
	// Existing fetches the ids of every entity currently on the server.
	Existing func(ctx context.Context) ([]string, error)
	// Updated fetches entities created or changed since the watermark.
	Updated func(ctx context.Context) ([]T, error)
	// Persisted queries the local collection.
	Persisted func(ctx context.Context) ([]T, error)
	// Retain, when set, keeps persisted entities the server no longer lists.
	Retain func(T) bool
}

// Reconciled carries the persisted snapshot a strategy read alongside its
// result so callers can plan replacement operations against the same snapshot.
type Reconciled[T Identifiable] struct {
	Persisted []T
	Result    []T
}

// Run fetches the three sources and reconciles them. Remote failures are
// reported as RemoteFetchError; nothing is returned on failure.
func (s Strategy[T]) Run(ctx context.Context) (Reconciled[T], error) {
	existing, err := s.Existing(ctx)
	if err != nil {
		return Reconciled[T]{}, &RemoteFetchError{EntityType: s.EntityType, Err: err}
	}

	updated, err := s.Updated(ctx)
	if err != nil {
		return Reconciled[T]{}, &RemoteFetchError{EntityType: s.EntityType, Err: err}
	}

	persisted, err := s.Persisted(ctx)
	if err != nil {
		return Reconciled[T]{}, fmt.Errorf("query persisted %s: %w", s.EntityType, err)
	}

	return Reconciled[T]{
		Persisted: persisted,
		Result:    Reconcile(existing, updated, persisted, s.Retain),
	}, nil
}

// Reconcile computes the collection that should exist locally:
// persisted entities still listed in existing are kept (replaced by their
// updated version when one was fetched), persisted entities missing from
// existing are dropped unless retain keeps them, and every updated entity not
// yet persisted is appended in remote order. No id appears twice.
func Reconcile[T Identifiable](existing []string, updated, persisted []T, retain func(T) bool) []T {
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	// Last occurrence wins when the server repeats an id.
	updatedByID := make(map[string]T, len(updated))
	for _, entity := range updated {
		updatedByID[entity.EntityID()] = entity
	}

	result := make([]T, 0, len(persisted)+len(updated))
	seen := make(map[string]struct{}, len(persisted)+len(updated))

	for _, entity := range persisted {
		id := entity.EntityID()
		if _, dup := seen[id]; dup {
			continue
		}
		if fresh, ok := updatedByID[id]; ok {
			result = append(result, fresh)
			seen[id] = struct{}{}
			continue
		}
		_, stillExists := existingSet[id]
		if stillExists || (retain != nil && retain(entity)) {
			result = append(result, entity)
			seen[id] = struct{}{}
		}
	}

	for _, entity := range updated {
		id := entity.EntityID()
		if _, dup := seen[id]; dup {
			continue
		}
		result = append(result, updatedByID[id])
		seen[id] = struct{}{}
	}

	return result
}
