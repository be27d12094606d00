// Package e2e drives the full dashsync stack in-process: a fake remote
// server, a file-backed SQLite replica, the sync worker and the status API.
package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/dashsync/internal/api"
	"github.com/hyperengineering/dashsync/internal/remote"
	"github.com/hyperengineering/dashsync/internal/snapshot"
	"github.com/hyperengineering/dashsync/internal/store"
	dashsync "github.com/hyperengineering/dashsync/internal/sync"
	"github.com/hyperengineering/dashsync/internal/types"
	"github.com/hyperengineering/dashsync/internal/worker"
)

const (
	testAPIKey = "e2e-api-key"
	// serverLayout is how the fake remote stamps lastUpdated.
	serverLayout = "2006-01-02T15:04:05.000"
	filterLayout = "2006-01-02T15:04:05.000Z07:00"
)

// remoteServer is a mutable in-memory stand-in for the dashboard server.
type remoteServer struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
	down        bool
	block       chan struct{}
	entered     chan struct{}
	filters     []string
}

func newRemoteServer(t *testing.T) (*remoteServer, string) {
	t.Helper()
	rs := &remoteServer{collections: make(map[string][]map[string]any)}

	r := chi.NewRouter()
	r.Get("/api/{collection}", rs.handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return rs, srv.URL + "/api"
}

func (rs *remoteServer) handle(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	rs.mu.Lock()
	down, block, entered := rs.down, rs.block, rs.entered
	rs.mu.Unlock()

	if down {
		http.Error(w, `{"httpStatus":"Service Unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	if block != nil && collection == "dashboards" {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
	}

	var since time.Time
	filter := r.URL.Query().Get("filter")
	if v, ok := strings.CutPrefix(filter, "lastUpdated:gt:"); ok {
		parsed, err := time.Parse(filterLayout, v)
		if err != nil {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	rs.mu.Lock()
	if filter != "" {
		rs.filters = append(rs.filters, collection+"?"+filter)
	}
	var list []map[string]any
	for _, obj := range rs.collections[collection] {
		if !since.IsZero() {
			updated, _ := time.Parse(serverLayout, obj["lastUpdated"].(string))
			if !updated.After(since) {
				continue
			}
		}
		list = append(list, obj)
	}
	rs.mu.Unlock()

	if list == nil {
		list = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{collection: list})
}

// put inserts or replaces an object and stamps it with the current time.
func (rs *remoteServer) put(collection string, obj map[string]any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	// Keep stamps strictly after any watermark already taken.
	time.Sleep(2 * time.Millisecond)
	obj["lastUpdated"] = time.Now().UTC().Format(serverLayout)
	for i, existing := range rs.collections[collection] {
		if existing["id"] == obj["id"] {
			rs.collections[collection][i] = obj
			return
		}
	}
	rs.collections[collection] = append(rs.collections[collection], obj)
}

func (rs *remoteServer) remove(collection, id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	list := rs.collections[collection]
	for i, obj := range list {
		if obj["id"] == id {
			rs.collections[collection] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (rs *remoteServer) setDown(down bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.down = down
}

func (rs *remoteServer) filterCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.filters)
}

func refs(ids ...string) []map[string]any {
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = map[string]any{"id": id}
	}
	return out
}

// stack is one running dashsync instance.
type stack struct {
	remote  *remoteServer
	store   *store.SQLiteStore
	api     *httptest.Server
	snapDir string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	rs, baseURL := newRemoteServer(t)
	dir := t.TempDir()

	db, err := store.NewSQLiteStore(filepath.Join(dir, "dashsync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := remote.NewClient(remote.Config{
		BaseURL:  baseURL,
		Username: "admin",
		Password: "district",
		Timeout:  5 * time.Second,
	})
	syncer := dashsync.NewSyncer(client, db, dashsync.Options{
		ProtectPending: true,
		Recorder:       db,
	})

	snapDir := filepath.Join(dir, "snapshots")
	publisher := worker.NewSnapshotPublisher(db, snapDir, &snapshot.NoopUploader{})
	schedule, err := worker.ParseSchedule("@every 1h")
	if err != nil {
		t.Fatalf("parse schedule: %v", err)
	}
	coordinator := worker.NewSyncCoordinator(syncer, schedule, false, publisher)

	handler := api.NewHandler(db, coordinator, nil, publisher.Path(), testAPIKey, "e2e")
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)

	return &stack{remote: rs, store: db, api: srv, snapDir: snapDir}
}

func (s *stack) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.api.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// trigger runs POST /api/v1/sync and decodes a successful response.
func (s *stack) trigger(t *testing.T) types.SyncTriggerResponse {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/sync")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var p api.Problem
		json.NewDecoder(resp.Body).Decode(&p)
		t.Fatalf("trigger status = %d: %+v", resp.StatusCode, p)
	}
	var out types.SyncTriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode trigger: %v", err)
	}
	return out
}

func (s *stack) status(t *testing.T) types.SyncStatusResponse {
	t.Helper()
	resp := s.do(t, http.MethodGet, "/api/v1/sync/status")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out types.SyncStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return out
}

func ids[T types.Entity](list []T) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.EntityID()
	}
	return out
}
