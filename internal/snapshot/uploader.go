// Package snapshot publishes SQLite replica snapshots to S3-compatible storage
// and hands out pre-signed download URLs. With no bucket configured the
// NoopUploader is used and the replica stays local-only.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/dashsync/internal/config"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// Snapshot describes a snapshot file produced after a committed sync run.
type Snapshot struct {
	RunID     string
	Path      string
	Watermark time.Time
}

// Uploader publishes snapshots and generates pre-signed download URLs.
type Uploader interface {
	// Publish uploads the snapshot under its run key and replaces the
	// instance's current snapshot.
	Publish(ctx context.Context, snap Snapshot) error

	// PresignedURL returns a pre-signed URL for the current snapshot.
	// Returns ErrNotConfigured when S3 is not configured.
	PresignedURL(ctx context.Context) (url string, expiry time.Time, err error)
}

// s3Client is the subset of *minio.Client used by S3Uploader.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, meta map[string]string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string, meta map[string]string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType:  "application/vnd.sqlite3",
		UserMetadata: meta,
	})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader publishes snapshots to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	instance  string
	urlExpiry time.Duration
	now       func() time.Time
}

// Publish uploads the run object, then overwrites current.db. A failed run
// upload leaves current.db untouched.
func (u *S3Uploader) Publish(ctx context.Context, snap Snapshot) error {
	if snap.RunID == "" {
		return errors.New("publish snapshot: run id is required")
	}
	meta := map[string]string{
		"run-id":    snap.RunID,
		"watermark": snap.Watermark.Format(time.RFC3339Nano),
	}
	runKey := runObjectKey(u.instance, snap.RunID)
	if err := u.client.FPutObject(ctx, u.bucket, runKey, snap.Path, meta); err != nil {
		return fmt.Errorf("upload snapshot %s: %w", runKey, err)
	}
	currentKey := currentObjectKey(u.instance)
	if err := u.client.FPutObject(ctx, u.bucket, currentKey, snap.Path, meta); err != nil {
		return fmt.Errorf("upload snapshot %s: %w", currentKey, err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for the current snapshot.
func (u *S3Uploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, currentObjectKey(u.instance), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), u.now().Add(u.urlExpiry), nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Publish does nothing.
func (u *NoopUploader) Publish(ctx context.Context, snap Snapshot) error {
	return nil
}

// PresignedURL always returns ErrNotConfigured.
func (u *NoopUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when no bucket is configured and an
// S3Uploader otherwise.
func NewUploader(cfg config.SnapshotConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		instance:  instanceOrDefault(cfg.Instance),
		urlExpiry: time.Duration(cfg.URLExpiry),
		now:       time.Now,
	}, nil
}

// stripScheme removes an http:// or https:// prefix from endpoint, which
// minio.New rejects, and lets the scheme decide ssl.
func stripScheme(endpoint string, ssl *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*ssl = true
		endpoint = strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*ssl = false
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	return strings.TrimSuffix(endpoint, "/")
}

func instanceOrDefault(instance string) string {
	if instance == "" {
		return "default"
	}
	return instance
}

// Object layout: {instance}/current.db and {instance}/runs/{run_id}.db
func currentObjectKey(instance string) string {
	return path.Join(instance, "current.db")
}

func runObjectKey(instance, runID string) string {
	return path.Join(instance, "runs", runID+".db")
}
