package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/dashsync/internal/types"
)

// execContext is satisfied by both *sql.DB and *sql.Tx.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyBatch applies the operations in order inside one transaction.
// Any failing operation rolls the whole batch back.
func (s *SQLiteStore) ApplyBatch(ctx context.Context, ops []types.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyOperations(ctx, tx, ops); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CommitBatch applies the operations and advances the watermark in one
// transaction. The watermark is written even when ops is empty.
func (s *SQLiteStore) CommitBatch(ctx context.Context, ops []types.Operation, watermark time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyOperations(ctx, tx, ops); err != nil {
		return err
	}
	if err := writeWatermark(ctx, tx, watermark); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func applyOperations(ctx context.Context, execer execContext, ops []types.Operation) error {
	for i, op := range ops {
		if err := applyOperation(ctx, execer, op); err != nil {
			return fmt.Errorf("apply operation %d %s: %w", i, op, err)
		}
	}
	return nil
}

func applyOperation(ctx context.Context, execer execContext, op types.Operation) error {
	switch e := op.Entity.(type) {
	case types.Dashboard:
		return applyDashboard(ctx, execer, op.Kind, e)
	case types.DashboardItem:
		return applyDashboardItem(ctx, execer, op.Kind, e)
	case types.Content:
		return applyContent(ctx, execer, op.Kind, e)
	case types.DashboardElement:
		return applyElement(ctx, execer, op.Kind, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEntity, op.Entity)
	}
}

func applyDashboard(ctx context.Context, execer execContext, kind types.OperationKind, d types.Dashboard) error {
	if kind == types.OpDelete {
		return execDelete(ctx, execer, `DELETE FROM dashboards WHERE id = ?`, d.ID)
	}

	access, err := json.Marshal(d.Access)
	if err != nil {
		return fmt.Errorf("marshal access: %w", err)
	}
	itemIDs, err := json.Marshal(d.ItemIDs())
	if err != nil {
		return fmt.Errorf("marshal item ids: %w", err)
	}
	args := []any{
		formatTimestamp(d.Created), formatTimestamp(d.LastUpdated),
		d.Name, d.DisplayName, string(access), string(itemIDs), stateOf(d.State),
		d.ID,
	}

	if kind == types.OpInsert {
		_, err = execer.ExecContext(ctx, `
			INSERT INTO dashboards (created, last_updated, name, display_name, access, item_ids, state, id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		return err
	}
	return execUpdate(ctx, execer, `
		UPDATE dashboards
		SET created = ?, last_updated = ?, name = ?, display_name = ?, access = ?, item_ids = ?, state = ?
		WHERE id = ?
	`, args...)
}

func applyDashboardItem(ctx context.Context, execer execContext, kind types.OperationKind, item types.DashboardItem) error {
	if kind == types.OpDelete {
		return execDelete(ctx, execer, `DELETE FROM dashboard_items WHERE id = ?`, item.ID)
	}

	access, err := json.Marshal(item.Access)
	if err != nil {
		return fmt.Errorf("marshal access: %w", err)
	}
	content, err := json.Marshal(item.ItemContent)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	messages := 0
	if item.Messages {
		messages = 1
	}
	args := []any{
		nullString(item.DashboardID), formatTimestamp(item.Created), formatTimestamp(item.LastUpdated),
		string(access), item.Type, item.Shape, messages, string(content), stateOf(item.State),
		item.ID,
	}

	// An UPDATE keeps the row so ON DELETE CASCADE never fires on the
	// item's elements; INSERT OR REPLACE would drop them.
	if kind == types.OpInsert {
		_, err = execer.ExecContext(ctx, `
			INSERT INTO dashboard_items (dashboard_id, created, last_updated, access, type, shape, messages, content, state, id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		return err
	}
	return execUpdate(ctx, execer, `
		UPDATE dashboard_items
		SET dashboard_id = ?, created = ?, last_updated = ?, access = ?, type = ?, shape = ?, messages = ?, content = ?, state = ?
		WHERE id = ?
	`, args...)
}

func applyContent(ctx context.Context, execer execContext, kind types.OperationKind, c types.Content) error {
	if _, err := types.ParseContentKind(string(c.Kind)); err != nil {
		return err
	}
	if kind == types.OpDelete {
		return execDelete(ctx, execer, `DELETE FROM dashboard_item_contents WHERE kind = ? AND id = ?`, string(c.Kind), c.ID)
	}

	args := []any{
		formatTimestamp(c.Created), formatTimestamp(c.LastUpdated),
		c.Name, c.DisplayName, stateOf(c.State),
		string(c.Kind), c.ID,
	}
	if kind == types.OpInsert {
		_, err := execer.ExecContext(ctx, `
			INSERT INTO dashboard_item_contents (created, last_updated, name, display_name, state, kind, id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, args...)
		return err
	}
	return execUpdate(ctx, execer, `
		UPDATE dashboard_item_contents
		SET created = ?, last_updated = ?, name = ?, display_name = ?, state = ?
		WHERE kind = ? AND id = ?
	`, args...)
}

func applyElement(ctx context.Context, execer execContext, kind types.OperationKind, e types.DashboardElement) error {
	switch kind {
	case types.OpDelete:
		return execDelete(ctx, execer, `DELETE FROM dashboard_elements WHERE item_id = ? AND content_kind = ? AND id = ?`, e.ItemID, string(e.ContentKind), e.ID)
	case types.OpInsert:
		_, err := execer.ExecContext(ctx, `
			INSERT INTO dashboard_elements (item_id, id, content_kind, name, state)
			VALUES (?, ?, ?, ?, ?)
		`, e.ItemID, e.ID, string(e.ContentKind), e.Name, stateOf(e.State))
		return err
	default:
		return execUpdate(ctx, execer, `
			UPDATE dashboard_elements SET name = ?, state = ?
			WHERE item_id = ? AND content_kind = ? AND id = ?
		`, e.Name, stateOf(e.State), e.ItemID, string(e.ContentKind), e.ID)
	}
}

// execDelete tolerates rows already removed by a cascade earlier in the batch.
func execDelete(ctx context.Context, execer execContext, query string, args ...any) error {
	_, err := execer.ExecContext(ctx, query, args...)
	return err
}

func execUpdate(ctx context.Context, execer execContext, query string, args ...any) error {
	result, err := execer.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stateOf(s types.State) string {
	if s == "" {
		return string(types.StateSynced)
	}
	return string(s)
}
