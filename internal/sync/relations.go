package sync

import "github.com/hyperengineering/dashsync/internal/types"

// LinkDashboardItems resolves each item's owning dashboard from the item id
// lists of the reconciled dashboards. Ids listed by a dashboard but absent
// from items are skipped; items no dashboard lists end up without an owner,
// so no item references a dashboard outside the reconciled set.
// The input slices are not modified.
func LinkDashboardItems(dashboards []types.Dashboard, items []types.DashboardItem) []types.DashboardItem {
	owner := make(map[string]string, len(items))
	for _, dashboard := range dashboards {
		for _, itemID := range dashboard.ItemIDs() {
			owner[itemID] = dashboard.ID
		}
	}

	linked := make([]types.DashboardItem, len(items))
	for i, item := range items {
		item.DashboardID = owner[item.ID]
		linked[i] = item
	}
	return linked
}

// ItemElements flattens an item's content references into elements owned by
// that item. Single references come first in kind order, then the list
// references. Each (kind, id) pair appears once; the first reference wins.
func ItemElements(item types.DashboardItem) []types.DashboardElement {
	var elements []types.DashboardElement
	seen := make(map[string]struct{})

	add := func(kind types.ContentKind, c *types.Content) {
		if c == nil || c.ID == "" {
			return
		}
		key := elementKey(kind, c.ID)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		name := c.DisplayName
		if name == "" {
			name = c.Name
		}
		elements = append(elements, types.DashboardElement{
			ID:          c.ID,
			ItemID:      item.ID,
			ContentKind: kind,
			Name:        name,
			State:       types.StateSynced,
		})
	}
	addAll := func(kind types.ContentKind, list []types.Content) {
		for i := range list {
			add(kind, &list[i])
		}
	}

	add(types.KindChart, item.Chart)
	add(types.KindEventChart, item.EventChart)
	add(types.KindMap, item.Map)
	add(types.KindReportTable, item.ReportTable)
	add(types.KindEventReport, item.EventReport)
	addAll(types.KindReportTable, item.ReportTables)
	addAll(types.KindUser, item.Users)
	addAll(types.KindReport, item.Reports)
	addAll(types.KindResource, item.Resources)

	return elements
}
