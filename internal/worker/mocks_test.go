package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hyperengineering/dashsync/internal/snapshot"
	dashsync "github.com/hyperengineering/dashsync/internal/sync"
)

// mockSyncer implements Syncer for testing.
type mockSyncer struct {
	mu     sync.Mutex
	calls  int
	err    error
	block  chan struct{}
	called chan struct{}
}

func newMockSyncer() *mockSyncer {
	// Buffered so several cycles can signal without a reader.
	return &mockSyncer{called: make(chan struct{}, 10)}
}

func (m *mockSyncer) Sync(ctx context.Context) (*dashsync.Result, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	err := m.err
	block := m.block
	m.mu.Unlock()

	select {
	case m.called <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &dashsync.Result{
		RunID:     "run-" + string(rune('0'+n)),
		Watermark: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Inserted:  n,
	}, nil
}

func (m *mockSyncer) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockSyncer) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// waitForCalls waits until n cycles have run. Returns false on timeout.
func (m *mockSyncer) waitForCalls(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for m.getCalls() < n {
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
	return true
}

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	mu     sync.Mutex
	runIDs []string
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, result *dashsync.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runIDs = append(m.runIDs, result.RunID)
	return m.err
}

func (m *mockPublisher) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.runIDs...)
}

// mockSnapshotStore implements SnapshotStore for testing.
type mockSnapshotStore struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (m *mockSnapshotStore) GenerateSnapshot(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
	return m.err
}

// mockUploader implements snapshot.Uploader for testing.
type mockUploader struct {
	mu    sync.Mutex
	snaps []snapshot.Snapshot
	err   error
}

func (m *mockUploader) Publish(ctx context.Context, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return m.err
}

func (m *mockUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, snapshot.ErrNotConfigured
}

// everySchedule fires at a fixed sub-second interval, which cron's own
// ConstantDelaySchedule rounds up to one second.
type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}
