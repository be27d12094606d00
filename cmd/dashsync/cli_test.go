package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/dashsync/internal/types"
)

// fakeRemote serves one dashboard with one chart item.
type fakeRemote struct {
	mu       sync.Mutex
	requests map[string]int
}

var remoteBodies = map[string]string{
	"dashboards": `{"dashboards":[{"id":"d1","lastUpdated":"2024-05-01T10:00:00.000",
		"name":"ANC","dashboardItems":[{"id":"i1"}]}]}`,
	"dashboardItems": `{"dashboardItems":[{"id":"i1","lastUpdated":"2024-05-01T10:00:00.000",
		"type":"CHART","chart":{"id":"c1","name":"ANC coverage"}}]}`,
	"charts": `{"charts":[{"id":"c1","lastUpdated":"2024-05-01T10:00:00.000","name":"ANC coverage"}]}`,
}

func newFakeRemote(t *testing.T) (*fakeRemote, string) {
	t.Helper()
	fr := &fakeRemote{requests: make(map[string]int)}

	r := chi.NewRouter()
	r.Get("/api/{collection}", func(w http.ResponseWriter, r *http.Request) {
		collection := chi.URLParam(r, "collection")
		fr.mu.Lock()
		fr.requests[collection]++
		fr.mu.Unlock()

		body, ok := remoteBodies[collection]
		if !ok {
			body = `{}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fr, srv.URL + "/api"
}

// setupCLIEnv points the CLI at the fake remote and a temp database.
func setupCLIEnv(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "dashsync.db")
	t.Setenv("DASHSYNC_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("DASHSYNC_REMOTE_URL", remoteURL)
	t.Setenv("DASHSYNC_DB_PATH", dbPath)
	t.Setenv("DASHSYNC_LOG_LEVEL", "error")
	t.Setenv("DASHSYNC_SNAPSHOT_DIR", filepath.Join(dir, "snapshots"))
	return dir
}

// executeCmd runs the root command with args and captured output.
func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Cobra parses into package-level variables; reset them between runs.
	configPath = ""
	jsonOutput = false
	syncFull = false
	statusLimit = 10

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func runSyncJSON(t *testing.T, args ...string) types.SyncTriggerResponse {
	t.Helper()
	stdout, stderr, err := executeCmd(t, append([]string{"sync", "--json"}, args...)...)
	if err != nil {
		t.Fatalf("sync error = %v, stderr = %s", err, stderr)
	}
	var resp types.SyncTriggerResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode sync output: %v\n%s", err, stdout)
	}
	return resp
}

func runStatusJSON(t *testing.T) types.SyncStatusResponse {
	t.Helper()
	stdout, stderr, err := executeCmd(t, "status", "--json")
	if err != nil {
		t.Fatalf("status error = %v, stderr = %s", err, stderr)
	}
	var resp types.SyncStatusResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode status output: %v\n%s", err, stdout)
	}
	return resp
}

func TestSyncCmd_FirstRunThenIdempotent(t *testing.T) {
	_, url := newFakeRemote(t)
	setupCLIEnv(t, url)

	// Given: an empty replica
	// When: the first cycle runs
	first := runSyncJSON(t)

	// Then: content, dashboard, item and element are inserted by a full download
	if first.Incremental {
		t.Error("first run should be a full download")
	}
	if first.Inserted != 4 || first.Updated != 0 || first.Deleted != 0 {
		t.Errorf("first run = %+v, want 4 inserts", first)
	}

	// When: nothing changed on the server
	second := runSyncJSON(t)

	// Then: the second cycle is incremental and writes nothing
	if !second.Incremental {
		t.Error("second run should be incremental")
	}
	if second.Inserted+second.Updated+second.Deleted != 0 {
		t.Errorf("second run = %+v, want no changes", second)
	}
	if second.Watermark.Before(first.Watermark) {
		t.Errorf("watermark moved backwards: %v -> %v", first.Watermark, second.Watermark)
	}
}

func TestSyncCmd_WritesLocalSnapshot(t *testing.T) {
	_, url := newFakeRemote(t)
	dir := setupCLIEnv(t, url)

	runSyncJSON(t)

	matches, err := filepath.Glob(filepath.Join(dir, "snapshots", "current.db"))
	if err != nil || len(matches) != 1 {
		t.Errorf("snapshot not written: %v %v", matches, err)
	}
}

func TestStatusCmd_JSON(t *testing.T) {
	_, url := newFakeRemote(t)
	setupCLIEnv(t, url)

	runSyncJSON(t)
	runSyncJSON(t)

	status := runStatusJSON(t)
	if status.Stats.Dashboards != 1 || status.Stats.DashboardItems != 1 ||
		status.Stats.Contents != 1 || status.Stats.Elements != 1 {
		t.Errorf("stats = %+v, want one of each", status.Stats)
	}
	if status.Stats.Watermark == nil {
		t.Error("watermark should be set after a sync")
	}
	if len(status.RecentRuns) != 2 {
		t.Fatalf("runs = %d, want 2", len(status.RecentRuns))
	}
	for _, run := range status.RecentRuns {
		if run.Status != types.RunSucceeded {
			t.Errorf("run %s status = %s", run.ID, run.Status)
		}
	}
}

func TestStatusCmd_Table(t *testing.T) {
	_, url := newFakeRemote(t)
	setupCLIEnv(t, url)

	stdout, _, err := executeCmd(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(stdout, "never synced") || !strings.Contains(stdout, "No sync runs recorded.") {
		t.Errorf("unexpected output:\n%s", stdout)
	}

	runSyncJSON(t)

	stdout, _, err = executeCmd(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"Dashboards:      1", "RUN", "succeeded"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestResetCmd_NextSyncIsFull(t *testing.T) {
	_, url := newFakeRemote(t)
	setupCLIEnv(t, url)

	runSyncJSON(t)

	stdout, _, err := executeCmd(t, "reset")
	if err != nil {
		t.Fatalf("reset error = %v", err)
	}
	if !strings.Contains(stdout, "Watermark cleared") {
		t.Errorf("reset output = %q", stdout)
	}
	if status := runStatusJSON(t); status.Stats.Watermark != nil {
		t.Errorf("watermark = %v, want nil after reset", status.Stats.Watermark)
	}

	// A full download of unchanged data still writes nothing.
	resp := runSyncJSON(t)
	if resp.Incremental {
		t.Error("sync after reset should be a full download")
	}
	if resp.Inserted+resp.Updated+resp.Deleted != 0 {
		t.Errorf("sync after reset = %+v, want no changes", resp)
	}
}

func TestSyncCmd_FullFlag(t *testing.T) {
	fr, url := newFakeRemote(t)
	setupCLIEnv(t, url)

	runSyncJSON(t)
	resp := runSyncJSON(t, "--full")

	if resp.Incremental {
		t.Error("--full should force a full download")
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.requests["dashboards"] == 0 {
		t.Error("remote was not queried")
	}
}

func TestSyncCmd_RemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	setupCLIEnv(t, srv.URL+"/api")

	_, _, err := executeCmd(t, "sync")
	if err == nil {
		t.Fatal("sync expected error when the remote is down")
	}

	status := runStatusJSON(t)
	if status.Stats.Watermark != nil {
		t.Error("watermark must not be set by a failed cycle")
	}
	if len(status.RecentRuns) != 1 || status.RecentRuns[0].Status != types.RunFailed {
		t.Errorf("runs = %+v, want one failed run", status.RecentRuns)
	}
}

func TestCmd_MissingRemoteURL(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DASHSYNC_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("DASHSYNC_REMOTE_URL", "")
	t.Setenv("DASHSYNC_DB_PATH", filepath.Join(dir, "dashsync.db"))

	_, _, err := executeCmd(t, "status")
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Errorf("status error = %v, want missing base_url", err)
	}
}
