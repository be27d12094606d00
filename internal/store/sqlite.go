package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyperengineering/dashsync/internal/types"
)

// SQLiteStore represents the SQLite-backed dashboard replica.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	memory := dbPath == ":memory:"

	// Ensure parent directory exists
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to :memory: would be a separate empty database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// dsn carries the per-connection pragmas so every pooled connection gets
// them, not only the first one.
func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// enablePragmas sets the pragmas persisted in the database file.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Dashboards returns every persisted dashboard in insertion order.
func (s *SQLiteStore) Dashboards(ctx context.Context) ([]types.Dashboard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created, last_updated, name, display_name, access, item_ids, state
		FROM dashboards
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("query dashboards: %w", err)
	}
	defer rows.Close()

	var dashboards []types.Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		dashboards = append(dashboards, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return dashboards, nil
}

// DashboardItems returns every persisted item in insertion order.
func (s *SQLiteStore) DashboardItems(ctx context.Context) ([]types.DashboardItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dashboard_id, created, last_updated, access, type, shape, messages, content, state
		FROM dashboard_items
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("query dashboard items: %w", err)
	}
	defer rows.Close()

	var items []types.DashboardItem
	for rows.Next() {
		item, err := scanDashboardItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

// Contents returns the persisted content of one kind.
func (s *SQLiteStore) Contents(ctx context.Context, kind types.ContentKind) ([]types.Content, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, created, last_updated, name, display_name, state
		FROM dashboard_item_contents
		WHERE kind = ?
		ORDER BY rowid
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query %s contents: %w", kind, err)
	}
	defer rows.Close()

	var contents []types.Content
	for rows.Next() {
		var c types.Content
		var kindStr, created, lastUpdated, state string
		if err := rows.Scan(&kindStr, &c.ID, &created, &lastUpdated, &c.Name, &c.DisplayName, &state); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		if c.Kind, err = types.ParseContentKind(kindStr); err != nil {
			return nil, err
		}
		c.Created = parseTimestamp(created)
		c.LastUpdated = parseTimestamp(lastUpdated)
		c.State = types.State(state)
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return contents, nil
}

// ElementsByItem returns the element rows owned by an item.
func (s *SQLiteStore) ElementsByItem(ctx context.Context, itemID string) ([]types.DashboardElement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, id, content_kind, name, state
		FROM dashboard_elements
		WHERE item_id = ?
		ORDER BY rowid
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}
	defer rows.Close()

	var elements []types.DashboardElement
	for rows.Next() {
		var e types.DashboardElement
		var kind, state string
		if err := rows.Scan(&e.ItemID, &e.ID, &kind, &e.Name, &state); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		e.ContentKind = types.ContentKind(kind)
		e.State = types.State(state)
		elements = append(elements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return elements, nil
}

// Stats returns row counts per table and the current watermark.
func (s *SQLiteStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	var stats types.StoreStats
	counts := []struct {
		table string
		dest  *int64
	}{
		{"dashboards", &stats.Dashboards},
		{"dashboard_items", &stats.DashboardItems},
		{"dashboard_item_contents", &stats.Contents},
		{"dashboard_elements", &stats.Elements},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	watermark, err := s.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	stats.Watermark = watermark
	return &stats, nil
}

type scanner interface{ Scan(...any) error }

func scanDashboard(row scanner) (*types.Dashboard, error) {
	var d types.Dashboard
	var created, lastUpdated, access, itemIDs, state string
	if err := row.Scan(&d.ID, &created, &lastUpdated, &d.Name, &d.DisplayName, &access, &itemIDs, &state); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(access), &d.Access); err != nil {
		return nil, fmt.Errorf("parse access JSON: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(itemIDs), &ids); err != nil {
		return nil, fmt.Errorf("parse item ids JSON: %w", err)
	}
	for _, id := range ids {
		d.Items = append(d.Items, types.Ref{ID: id})
	}
	d.Created = parseTimestamp(created)
	d.LastUpdated = parseTimestamp(lastUpdated)
	d.State = types.State(state)
	return &d, nil
}

func scanDashboardItem(row scanner) (*types.DashboardItem, error) {
	var item types.DashboardItem
	var dashboardID sql.NullString
	var created, lastUpdated, access, content, state string
	var messages int
	err := row.Scan(&item.ID, &dashboardID, &created, &lastUpdated, &access,
		&item.Type, &item.Shape, &messages, &content, &state)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(access), &item.Access); err != nil {
		return nil, fmt.Errorf("parse access JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &item.ItemContent); err != nil {
		return nil, fmt.Errorf("parse content JSON: %w", err)
	}
	item.DashboardID = dashboardID.String
	item.Messages = messages != 0
	item.Created = parseTimestamp(created)
	item.LastUpdated = parseTimestamp(lastUpdated)
	item.State = types.State(state)
	return &item, nil
}

// formatTimestamp stores zero timestamps as empty strings.
func formatTimestamp(t types.Timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) types.Timestamp {
	if strings.TrimSpace(s) == "" {
		return types.Timestamp{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return types.Timestamp{}
	}
	return types.NewTimestamp(t)
}
