package sync

import (
	"context"
	"fmt"

	"github.com/hyperengineering/dashsync/internal/types"
)

// PlanElementOperations diffs, for every item, the element rows stored for it
// against the elements implied by its freshly fetched content references.
// With protectPending set, element rows created locally (to_post) are never
// deleted.
func PlanElementOperations(ctx context.Context, store ElementStore, items []types.DashboardItem, protectPending bool) ([]types.Operation, error) {
	var ops []types.Operation
	for _, item := range items {
		persisted, err := store.ElementsByItem(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("query elements of item %s: %w", item.ID, err)
		}
		ops = append(ops, planItemElements(persisted, ItemElements(item), protectPending)...)
	}
	return ops, nil
}

// planItemElements emits deletes before inserts, each in the order the ids
// appear in their source list. Elements present on both sides are untouched.
func planItemElements(persisted, fresh []types.DashboardElement, protectPending bool) []types.Operation {
	toInsert, toDelete := DiffIDs(elementKeys(persisted), elementKeys(fresh))
	if len(toInsert) == 0 && len(toDelete) == 0 {
		return nil
	}

	persistedByKey := make(map[string]types.DashboardElement, len(persisted))
	for _, e := range persisted {
		persistedByKey[elementKey(e.ContentKind, e.ID)] = e
	}
	freshByKey := make(map[string]types.DashboardElement, len(fresh))
	for _, e := range fresh {
		freshByKey[elementKey(e.ContentKind, e.ID)] = e
	}

	ops := make([]types.Operation, 0, len(toInsert)+len(toDelete))
	for _, key := range toDelete {
		element := persistedByKey[key]
		if protectPending && element.State == types.StateToPost {
			continue
		}
		ops = append(ops, types.Delete(element))
	}
	for _, key := range toInsert {
		ops = append(ops, types.Insert(freshByKey[key]))
	}
	return ops
}

// DiffIDs returns fresh−persisted (to insert, fresh order) and
// persisted−fresh (to delete, persisted order).
func DiffIDs(persisted, fresh []string) (toInsert, toDelete []string) {
	persistedSet := make(map[string]struct{}, len(persisted))
	for _, id := range persisted {
		persistedSet[id] = struct{}{}
	}
	freshSet := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		freshSet[id] = struct{}{}
	}

	for _, id := range fresh {
		if _, ok := persistedSet[id]; !ok {
			toInsert = append(toInsert, id)
		}
	}
	for _, id := range persisted {
		if _, ok := freshSet[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	return toInsert, toDelete
}

// elementKey identifies an element within its item. Content ids are only
// unique within a kind, so the kind is part of the key.
func elementKey(kind types.ContentKind, id string) string {
	return string(kind) + "/" + id
}

func elementKeys(elements []types.DashboardElement) []string {
	keys := make([]string, len(elements))
	for i, e := range elements {
		keys[i] = elementKey(e.ContentKind, e.ID)
	}
	return keys
}
