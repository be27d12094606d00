package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/hyperengineering/dashsync/internal/types"
)

// fakeRemote is an in-memory server. Full fetches honour the since filter
// the way the server does.
type fakeRemote struct {
	mu         gosync.Mutex
	dashboards []types.Dashboard
	items      []types.DashboardItem
	contents   map[types.ContentKind][]types.Content
	errs       map[string]error
	sinces     []*time.Time

	// block, when set, holds DashboardIDs until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		contents: make(map[types.ContentKind][]types.Content),
		errs:     make(map[string]error),
	}
}

func (r *fakeRemote) fail(call string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[call] = err
}

func (r *fakeRemote) err(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[call]
}

func (r *fakeRemote) lastSince() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sinces) == 0 {
		return nil
	}
	return r.sinces[len(r.sinces)-1]
}

func changedSince(ts types.Timestamp, since *time.Time) bool {
	return since == nil || ts.Time.After(*since)
}

func (r *fakeRemote) DashboardIDs(ctx context.Context) ([]string, error) {
	if r.block != nil {
		if r.entered != nil {
			close(r.entered)
		}
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := r.err("dashboardIDs"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.dashboards))
	for _, d := range r.dashboards {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (r *fakeRemote) Dashboards(ctx context.Context, since *time.Time) ([]types.Dashboard, error) {
	if err := r.err("dashboards"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinces = append(r.sinces, since)
	var out []types.Dashboard
	for _, d := range r.dashboards {
		if changedSince(d.LastUpdated, since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeRemote) DashboardItemIDs(ctx context.Context) ([]string, error) {
	if err := r.err("itemIDs"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.items))
	for _, i := range r.items {
		ids = append(ids, i.ID)
	}
	return ids, nil
}

func (r *fakeRemote) DashboardItems(ctx context.Context, since *time.Time) ([]types.DashboardItem, error) {
	if err := r.err("items"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.DashboardItem
	for _, i := range r.items {
		if changedSince(i.LastUpdated, since) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *fakeRemote) ContentIDs(ctx context.Context, kind types.ContentKind) ([]string, error) {
	if err := r.err("contentIDs/" + string(kind)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, c := range r.contents[kind] {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (r *fakeRemote) Contents(ctx context.Context, kind types.ContentKind, since *time.Time) ([]types.Content, error) {
	if err := r.err("contents/" + string(kind)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Content
	for _, c := range r.contents[kind] {
		if changedSince(c.LastUpdated, since) {
			// The server does not send the kind tag.
			c.Kind = ""
			out = append(out, c)
		}
	}
	return out, nil
}

// memStore is an in-memory LocalStore. ApplyBatch and CommitBatch work on a
// copy and swap it in only when every operation (and, for CommitBatch, the
// watermark write) succeeded. Inserting an existing key or
// updating a missing one fails the batch, like a primary key would.
type memStore struct {
	mu         gosync.Mutex
	dashboards []types.Dashboard
	items      []types.DashboardItem
	contents   []types.Content
	elements   []types.DashboardElement
	watermark  *time.Time

	applyErr         error
	watermarkErr     error
	watermarkReadErr error
	batches      [][]types.Operation
	runs         []types.SyncRun
}

func newMemStore() *memStore {
	return &memStore{}
}

func (s *memStore) Dashboards(ctx context.Context) ([]types.Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Dashboard(nil), s.dashboards...), nil
}

func (s *memStore) DashboardItems(ctx context.Context) ([]types.DashboardItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DashboardItem(nil), s.items...), nil
}

func (s *memStore) Contents(ctx context.Context, kind types.ContentKind) ([]types.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Content
	for _, c := range s.contents {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) ElementsByItem(ctx context.Context, itemID string) ([]types.DashboardElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.DashboardElement
	for _, e := range s.elements {
		if e.ItemID == itemID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) Watermark(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watermarkReadErr != nil {
		return nil, s.watermarkReadErr
	}
	if s.watermark == nil {
		return nil, nil
	}
	wm := *s.watermark
	return &wm, nil
}

func (s *memStore) SetWatermark(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watermarkErr != nil {
		return s.watermarkErr
	}
	s.watermark = &t
	return nil
}

func (s *memStore) RecordRun(ctx context.Context, run types.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *memStore) ApplyBatch(ctx context.Context, ops []types.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ops, nil)
}

func (s *memStore) CommitBatch(ctx context.Context, ops []types.Operation, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ops, &watermark)
}

func (s *memStore) commitLocked(ops []types.Operation, watermark *time.Time) error {
	s.batches = append(s.batches, ops)

	next := memStore{
		dashboards: append([]types.Dashboard(nil), s.dashboards...),
		items:      append([]types.DashboardItem(nil), s.items...),
		contents:   append([]types.Content(nil), s.contents...),
		elements:   append([]types.DashboardElement(nil), s.elements...),
	}
	for i, op := range ops {
		if s.applyErr != nil && i == len(ops)/2 {
			return s.applyErr
		}
		if err := next.apply(op); err != nil {
			return err
		}
	}
	if watermark != nil && s.watermarkErr != nil {
		return s.watermarkErr
	}

	s.dashboards = next.dashboards
	s.items = next.items
	s.contents = next.contents
	s.elements = next.elements
	if watermark != nil {
		s.watermark = watermark
	}
	return nil
}

func (s *memStore) apply(op types.Operation) error {
	var err error
	switch e := op.Entity.(type) {
	case types.Dashboard:
		s.dashboards, err = applyTo(s.dashboards, op.Kind, e, func(d types.Dashboard) bool { return d.ID == e.ID })
	case types.DashboardItem:
		s.items, err = applyTo(s.items, op.Kind, e, func(i types.DashboardItem) bool { return i.ID == e.ID })
		if err == nil && op.Kind == types.OpDelete {
			s.elements = removeWhere(s.elements, func(el types.DashboardElement) bool { return el.ItemID == e.ID })
		}
	case types.Content:
		s.contents, err = applyTo(s.contents, op.Kind, e, func(c types.Content) bool { return c.Kind == e.Kind && c.ID == e.ID })
	case types.DashboardElement:
		if op.Kind == types.OpInsert && !s.hasItem(e.ItemID) {
			return fmt.Errorf("element %s: unknown item %s", e.ID, e.ItemID)
		}
		s.elements, err = applyTo(s.elements, op.Kind, e, func(el types.DashboardElement) bool {
			return el.ItemID == e.ItemID && el.ContentKind == e.ContentKind && el.ID == e.ID
		})
	default:
		return errors.New("unknown entity")
	}
	return err
}

func (s *memStore) hasItem(id string) bool {
	for _, i := range s.items {
		if i.ID == id {
			return true
		}
	}
	return false
}

func applyTo[T types.Entity](list []T, kind types.OperationKind, entity T, match func(T) bool) ([]T, error) {
	idx := -1
	for i := range list {
		if match(list[i]) {
			idx = i
			break
		}
	}
	switch kind {
	case types.OpInsert:
		if idx >= 0 {
			return nil, fmt.Errorf("insert %s %s: already exists", entity.EntityType(), entity.EntityID())
		}
		return append(list, entity), nil
	case types.OpUpdate:
		if idx < 0 {
			return nil, fmt.Errorf("update %s %s: not found", entity.EntityType(), entity.EntityID())
		}
		list[idx] = entity
		return list, nil
	case types.OpDelete:
		if idx < 0 {
			return nil, fmt.Errorf("delete %s %s: not found", entity.EntityType(), entity.EntityID())
		}
		return append(list[:idx], list[idx+1:]...), nil
	}
	return nil, fmt.Errorf("unknown operation %s", kind)
}

func removeWhere[T any](list []T, match func(T) bool) []T {
	out := list[:0]
	for _, v := range list {
		if !match(v) {
			out = append(out, v)
		}
	}
	return out
}

// fakeClock returns successive instants one second apart.
type fakeClock struct {
	mu  gosync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(time.Second)
	return now
}

func ts(s string) types.Timestamp {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return types.NewTimestamp(t)
}

func dashboard(id, updated string, itemIDs ...string) types.Dashboard {
	d := types.Dashboard{ID: id, Name: "Dashboard " + id, LastUpdated: ts(updated), Created: ts(updated)}
	for _, itemID := range itemIDs {
		d.Items = append(d.Items, types.Ref{ID: itemID})
	}
	return d
}

func chartItem(id, updated, chartID string) types.DashboardItem {
	return types.DashboardItem{
		ID:          id,
		Type:        "CHART",
		LastUpdated: ts(updated),
		Created:     ts(updated),
		ItemContent: types.ItemContent{Chart: &types.Content{ID: chartID, Name: "Chart " + chartID}},
	}
}

func reportsItem(id, updated string, reportIDs ...string) types.DashboardItem {
	item := types.DashboardItem{ID: id, Type: "REPORTS", LastUpdated: ts(updated), Created: ts(updated)}
	for _, reportID := range reportIDs {
		item.Reports = append(item.Reports, types.Content{ID: reportID})
	}
	return item
}

func content(id, updated string) types.Content {
	return types.Content{ID: id, Name: "Content " + id, LastUpdated: ts(updated), Created: ts(updated)}
}
