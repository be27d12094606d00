package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/dashsync/internal/types"
)

// Sync meta keys
const (
	metaLastSyncedAt = "last_synced_at"
)

// Watermark returns the time of the last successful sync, or nil before the
// first one. The stored zone offset is preserved.
func (s *SQLiteStore) Watermark(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, metaLastSyncedAt).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse watermark %q: %w", value, err)
	}
	return &t, nil
}

// SetWatermark stores the time of the last successful sync.
func (s *SQLiteStore) SetWatermark(ctx context.Context, t time.Time) error {
	return writeWatermark(ctx, s.db, t)
}

func writeWatermark(ctx context.Context, execer execContext, t time.Time) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastSyncedAt, t.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

// ResetWatermark forgets the last sync so the next one downloads everything.
func (s *SQLiteStore) ResetWatermark(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_meta WHERE key = ?`, metaLastSyncedAt); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}
	return nil
}

// RecordRun stores the history record of a sync cycle.
func (s *SQLiteStore) RecordRun(ctx context.Context, run types.SyncRun) error {
	var watermark any
	if run.Watermark != nil {
		watermark = run.Watermark.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, finished_at, status, phase, error, watermark, inserted, updated, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(run.Status),
		run.Phase,
		run.Error,
		watermark,
		run.Inserted,
		run.Updated,
		run.Deleted,
	)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]types.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, phase, error, watermark, inserted, updated, deleted
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []types.SyncRun
	for rows.Next() {
		var run types.SyncRun
		var startedAt, finishedAt, status string
		var watermark sql.NullString
		err := rows.Scan(&run.ID, &startedAt, &finishedAt, &status, &run.Phase, &run.Error,
			&watermark, &run.Inserted, &run.Updated, &run.Deleted)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.Status = types.RunStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			run.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			run.FinishedAt = t
		}
		if watermark.Valid {
			if t, err := time.Parse(time.RFC3339Nano, watermark.String); err == nil {
				run.Watermark = &t
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return runs, nil
}
