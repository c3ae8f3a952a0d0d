package database

import (
	"context"
	"fmt"
	"time"
)

// PurgeLogEntry records a single admin-triggered or client-triggered PURGE.
type PurgeLogEntry struct {
	ID         int64
	RequestID  string
	URL        string
	StoreKey   string
	Method     string
	Status     int
	ClientAddr string
	CreatedAt  time.Time
}

// RecordPurge appends an entry to the purge audit log.
func (db *DB) RecordPurge(ctx context.Context, e PurgeLogEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO purge_log (request_id, url, store_key, method, status, client_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := db.conn.ExecContext(ctx, query, e.RequestID, e.URL, e.StoreKey, e.Method, e.Status, e.ClientAddr)
	if err != nil {
		return fmt.Errorf("failed to record purge for %s: %w", e.URL, err)
	}

	return nil
}

// RecentPurges returns the most recent purge audit log entries, newest first.
func (db *DB) RecentPurges(ctx context.Context, limit int) ([]PurgeLogEntry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, request_id, url, store_key, method, status, client_addr, created_at
		FROM purge_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query purge log: %w", err)
	}
	defer rows.Close()

	var entries []PurgeLogEntry
	for rows.Next() {
		var e PurgeLogEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.URL, &e.StoreKey, &e.Method, &e.Status, &e.ClientAddr, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purge log entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purge log: %w", err)
	}

	return entries, nil
}
