package db

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/newhook/kb/internal/bulk"
)

// SaveHistory replaces the persisted bulk history with entries and records
// index as the undo cursor.
func (db *DB) SaveHistory(ctx context.Context, entries []bulk.HistoryEntry, index int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bulk_history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	for i, entry := range entries {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode history entry %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bulk_history (position, operation_id, kind, entry, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			i, entry.Operation.ID, string(entry.Operation.Kind), string(encoded), entry.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to save history entry %d: %w", i, err)
		}
	}
	index = max(0, min(index, len(entries)))
	if _, err := tx.ExecContext(ctx, `UPDATE bulk_history_cursor SET position = ? WHERE id = 1`, index); err != nil {
		return fmt.Errorf("failed to save history cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// LoadHistory returns the persisted entries in order and the undo cursor.
func (db *DB) LoadHistory(ctx context.Context) ([]bulk.HistoryEntry, int, error) {
	rows, err := db.QueryContext(ctx, `SELECT entry FROM bulk_history ORDER BY position`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []bulk.HistoryEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}
		var entry bulk.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, 0, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var index int
	if err := db.QueryRowContext(ctx, `SELECT position FROM bulk_history_cursor WHERE id = 1`).Scan(&index); err != nil {
		return nil, 0, fmt.Errorf("failed to load history cursor: %w", err)
	}
	return entries, index, nil
}

// LoadBulkHistory restores a bulk.History from the database.
func (db *DB) LoadBulkHistory(ctx context.Context) (*bulk.History, error) {
	entries, index, err := db.LoadHistory(ctx)
	if err != nil {
		return nil, err
	}
	return bulk.NewHistoryFrom(entries, index), nil
}

// SaveBulkHistory persists h.
func (db *DB) SaveBulkHistory(ctx context.Context, h *bulk.History) error {
	return db.SaveHistory(ctx, h.Entries(), h.Index())
}
