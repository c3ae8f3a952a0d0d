package database

import (
	"context"
	"fmt"
	"time"
)

// CacheIndexRow is a persisted snapshot of one store entry: one row of the
// cache_index_snapshot table, written by ReplaceCacheIndex and read back by
// CacheIndex.
type CacheIndexRow struct {
	StoreKey       string
	URL            string
	ObjectSize     int64
	LastAccess     time.Time
	SwapFileNumber *int64
}

// ReplaceCacheIndex overwrites the cache_index_snapshot table with rows,
// in a single transaction.
func (db *DB) ReplaceCacheIndex(ctx context.Context, rows []CacheIndexRow) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_index_snapshot"); err != nil {
		return fmt.Errorf("failed to clear cache index snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_index_snapshot (store_key, url, object_size, last_access, swap_file_number)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.StoreKey, r.URL, r.ObjectSize, r.LastAccess, r.SwapFileNumber); err != nil {
			return fmt.Errorf("failed to insert snapshot row %s: %w", r.StoreKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return nil
}

// CacheIndex returns the full persisted cache index snapshot.
func (db *DB) CacheIndex(ctx context.Context) ([]CacheIndexRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT store_key, url, object_size, last_access, swap_file_number
		FROM cache_index_snapshot
		ORDER BY last_access DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache index snapshot: %w", err)
	}
	defer rows.Close()

	var out []CacheIndexRow
	for rows.Next() {
		var r CacheIndexRow
		if err := rows.Scan(&r.StoreKey, &r.URL, &r.ObjectSize, &r.LastAccess, &r.SwapFileNumber); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache index snapshot: %w", err)
	}

	return out, nil
}
