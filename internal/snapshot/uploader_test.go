package snapshot

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/dashsync/internal/config"
)

// --- NoopUploader Tests ---

func TestNoopUploader_Publish_IsNoOp(t *testing.T) {
	u := &NoopUploader{}
	err := u.Publish(context.Background(), Snapshot{RunID: "01J0", Path: "/some/path"})
	if err != nil {
		t.Errorf("NoopUploader.Publish() should not error, got %v", err)
	}
}

func TestNoopUploader_PresignedURL_ReturnsErrNotConfigured(t *testing.T) {
	u := &NoopUploader{}
	_, _, err := u.PresignedURL(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NoopUploader.PresignedURL() should return ErrNotConfigured, got %v", err)
	}
}

// --- NewUploader factory tests ---

func TestNewUploader_EmptyBucket_ReturnsNoopUploader(t *testing.T) {
	u, err := NewUploader(config.SnapshotConfig{Dir: "/tmp/snapshots"})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	cfg := config.SnapshotConfig{
		Dir:       "/tmp/snapshots",
		Bucket:    "replicas",
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		URLExpiry: config.Duration(15 * time.Minute),
	}

	u, err := NewUploader(cfg)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}

	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.bucket != "replicas" {
		t.Errorf("bucket = %q, want %q", s3u.bucket, "replicas")
	}
	if s3u.instance != "default" {
		t.Errorf("instance = %q, want default", s3u.instance)
	}
	if s3u.urlExpiry != 15*time.Minute {
		t.Errorf("urlExpiry = %v, want 15m", s3u.urlExpiry)
	}
}

// --- S3Uploader with mock client tests ---

type putCall struct {
	bucket, objectName, filePath string
	meta                         map[string]string
}

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu         sync.Mutex
	puts       []putCall
	failOn     string
	uploadErr  error
	presigned  []string
	presignErr error
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil && (m.failOn == "" || m.failOn == objectName) {
		return m.uploadErr
	}
	m.puts = append(m.puts, putCall{bucket, objectName, filePath, meta})
	return nil
}

func (m *mockS3Client) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presigned = append(m.presigned, objectName)
	if m.presignErr != nil {
		return nil, m.presignErr
	}
	return url.Parse("https://s3.example.com/" + bucket + "/" + objectName + "?X-Amz-Signature=abc")
}

func newTestUploader(mock *mockS3Client) *S3Uploader {
	return &S3Uploader{
		client:    mock,
		bucket:    "replicas",
		instance:  "district-7",
		urlExpiry: 15 * time.Minute,
		now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestS3Uploader_Publish_RunThenCurrent(t *testing.T) {
	mock := &mockS3Client{}
	u := newTestUploader(mock)
	watermark := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)

	err := u.Publish(context.Background(), Snapshot{RunID: "01HXRUN", Path: "/data/snapshots/current.db", Watermark: watermark})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(mock.puts) != 2 {
		t.Fatalf("FPutObject calls = %d, want 2", len(mock.puts))
	}
	if mock.puts[0].objectName != "district-7/runs/01HXRUN.db" {
		t.Errorf("first object = %q, want run key", mock.puts[0].objectName)
	}
	if mock.puts[1].objectName != "district-7/current.db" {
		t.Errorf("second object = %q, want current key", mock.puts[1].objectName)
	}
	for _, p := range mock.puts {
		if p.bucket != "replicas" || p.filePath != "/data/snapshots/current.db" {
			t.Errorf("put = %+v", p)
		}
		if p.meta["run-id"] != "01HXRUN" {
			t.Errorf("meta run-id = %q", p.meta["run-id"])
		}
		if p.meta["watermark"] != "2024-05-01T11:59:00Z" {
			t.Errorf("meta watermark = %q", p.meta["watermark"])
		}
	}
}

func TestS3Uploader_Publish_RunUploadFailureKeepsCurrent(t *testing.T) {
	mock := &mockS3Client{
		uploadErr: errors.New("network timeout"),
		failOn:    "district-7/runs/01HXRUN.db",
	}
	u := newTestUploader(mock)

	err := u.Publish(context.Background(), Snapshot{RunID: "01HXRUN", Path: "/path/to/file.db"})
	if !errors.Is(err, mock.uploadErr) {
		t.Fatalf("Publish() error = %v, want wrapped network timeout", err)
	}
	if len(mock.puts) != 0 {
		t.Errorf("current.db must not be replaced after a failed run upload, puts = %+v", mock.puts)
	}
}

func TestS3Uploader_Publish_RequiresRunID(t *testing.T) {
	mock := &mockS3Client{}
	u := newTestUploader(mock)

	if err := u.Publish(context.Background(), Snapshot{Path: "/path/to/file.db"}); err == nil {
		t.Fatal("Publish() expected error without run id")
	}
	if len(mock.puts) != 0 {
		t.Errorf("no upload expected, got %d", len(mock.puts))
	}
}

func TestS3Uploader_PresignedURL_Success(t *testing.T) {
	mock := &mockS3Client{}
	u := newTestUploader(mock)

	urlStr, expiry, err := u.PresignedURL(context.Background())
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}

	want := "https://s3.example.com/replicas/district-7/current.db?X-Amz-Signature=abc"
	if urlStr != want {
		t.Errorf("url = %q, want %q", urlStr, want)
	}
	if !expiry.Equal(time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)) {
		t.Errorf("expiry = %v, want now+15m", expiry)
	}
	if len(mock.presigned) != 1 || mock.presigned[0] != "district-7/current.db" {
		t.Errorf("presigned objects = %v", mock.presigned)
	}
}

func TestS3Uploader_PresignedURL_Error(t *testing.T) {
	mock := &mockS3Client{presignErr: errors.New("access denied")}
	u := newTestUploader(mock)

	_, _, err := u.PresignedURL(context.Background())
	if !errors.Is(err, mock.presignErr) {
		t.Fatalf("PresignedURL() error = %v, want wrapped access denied", err)
	}
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantHost string
		wantSSL  bool
	}{
		{"bare host", "s3.example.com", "s3.example.com", true},
		{"bare host:port", "minio:9000", "minio:9000", true},
		{"https URL", "https://s3.example.com", "s3.example.com", true},
		{"http URL", "http://minio:9000", "minio:9000", false},
		{"trailing slash", "http://localhost:9000/", "localhost:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ssl := true
			got := stripScheme(tt.endpoint, &ssl)
			if got != tt.wantHost {
				t.Errorf("stripScheme(%q) host = %q, want %q", tt.endpoint, got, tt.wantHost)
			}
			if ssl != tt.wantSSL {
				t.Errorf("stripScheme(%q) ssl = %v, want %v", tt.endpoint, ssl, tt.wantSSL)
			}
		})
	}
}

func TestObjectKeys(t *testing.T) {
	if got := currentObjectKey("default"); got != "default/current.db" {
		t.Errorf("currentObjectKey = %q", got)
	}
	if got := runObjectKey("org/site", "01HX"); got != "org/site/runs/01HX.db" {
		t.Errorf("runObjectKey = %q", got)
	}
}
