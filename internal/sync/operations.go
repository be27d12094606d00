package sync

import (
	"slices"

	"github.com/hyperengineering/dashsync/internal/types"
)

// ReplaceOperations turns a persisted collection and its reconciled successor
// into whole-row mutations: deletes for persisted rows no longer present,
// then, in reconciled order, updates for rows whose revision changed and
// inserts for new rows. Rows identical on both sides yield nothing.
func ReplaceOperations[T types.Entity](persisted, reconciled []T, key func(T) string, same func(a, b T) bool) []types.Operation {
	persistedByKey := make(map[string]T, len(persisted))
	for _, entity := range persisted {
		persistedByKey[key(entity)] = entity
	}
	reconciledKeys := make(map[string]struct{}, len(reconciled))
	for _, entity := range reconciled {
		reconciledKeys[key(entity)] = struct{}{}
	}

	var ops []types.Operation
	for _, entity := range persisted {
		if _, ok := reconciledKeys[key(entity)]; !ok {
			ops = append(ops, types.Delete(entity))
		}
	}
	for _, entity := range reconciled {
		previous, ok := persistedByKey[key(entity)]
		switch {
		case !ok:
			ops = append(ops, types.Insert(entity))
		case !same(previous, entity):
			ops = append(ops, types.Update(entity))
		}
	}
	return ops
}

func entityKey[T types.Entity](entity T) string {
	return entity.EntityID()
}

// contentKey keys content by (kind, id); ids are only unique within a kind.
func contentKey(c types.Content) string {
	return elementKey(c.Kind, c.ID)
}

func sameDashboard(a, b types.Dashboard) bool {
	return a.LastUpdated.Equal(b.LastUpdated) &&
		normalizeState(a.State) == normalizeState(b.State) &&
		a.Name == b.Name &&
		a.DisplayName == b.DisplayName &&
		slices.Equal(a.ItemIDs(), b.ItemIDs())
}

func sameDashboardItem(a, b types.DashboardItem) bool {
	return a.LastUpdated.Equal(b.LastUpdated) &&
		normalizeState(a.State) == normalizeState(b.State) &&
		a.DashboardID == b.DashboardID &&
		a.Type == b.Type &&
		slices.Equal(elementKeys(ItemElements(a)), elementKeys(ItemElements(b)))
}

func sameContent(a, b types.Content) bool {
	return a.LastUpdated.Equal(b.LastUpdated) &&
		normalizeState(a.State) == normalizeState(b.State) &&
		a.Name == b.Name &&
		a.DisplayName == b.DisplayName
}

func normalizeState(s types.State) types.State {
	if s == "" {
		return types.StateSynced
	}
	return s
}

func countOperations(ops []types.Operation) (inserted, updated, deleted int) {
	for _, op := range ops {
		switch op.Kind {
		case types.OpInsert:
			inserted++
		case types.OpUpdate:
			updated++
		case types.OpDelete:
			deleted++
		}
	}
	return inserted, updated, deleted
}
