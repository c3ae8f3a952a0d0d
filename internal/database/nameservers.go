package database

import (
	"context"
	"fmt"
)

// Nameserver represents a resolver upstream nameserver.
type Nameserver struct {
	ID       int64
	Address  string
	Priority int
	Enabled  bool
}

// AddNameserver adds a resolver nameserver with the given priority.
func (db *DB) AddNameserver(ctx context.Context, address string, priority int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO resolver_nameservers (address, priority, enabled, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(address) DO UPDATE SET
			priority = excluded.priority,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := db.conn.ExecContext(ctx, query, address, priority)
	if err != nil {
		return fmt.Errorf("failed to add nameserver %s: %w", address, err)
	}

	return nil
}

// GetNameservers retrieves all enabled nameservers ordered by priority.
func (db *DB) GetNameservers(ctx context.Context) ([]Nameserver, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `
		SELECT id, address, priority, enabled
		FROM resolver_nameservers
		WHERE enabled = 1
		ORDER BY priority
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query nameservers: %w", err)
	}
	defer rows.Close()

	var servers []Nameserver
	for rows.Next() {
		var s Nameserver
		if err := rows.Scan(&s.ID, &s.Address, &s.Priority, &s.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan nameserver: %w", err)
		}
		servers = append(servers, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nameservers: %w", err)
	}

	return servers, nil
}

// SetNameservers replaces all nameservers with the given list.
// Priority is determined by list order (0 = first, 1 = second, etc.).
func (db *DB) SetNameservers(ctx context.Context, addresses []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, execErr := tx.ExecContext(ctx, "DELETE FROM resolver_nameservers"); execErr != nil {
		return fmt.Errorf("failed to delete existing nameservers: %w", execErr)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resolver_nameservers (address, priority, enabled, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, addr := range addresses {
		if _, err := stmt.ExecContext(ctx, addr, i); err != nil {
			return fmt.Errorf("failed to insert nameserver %s: %w", addr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteNameserver removes a nameserver.
func (db *DB) DeleteNameserver(ctx context.Context, address string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM resolver_nameservers WHERE address = ?", address)
	if err != nil {
		return fmt.Errorf("failed to delete nameserver: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("nameserver not found: %s", address)
	}

	return nil
}

// EnableNameserver enables/disables a nameserver.
func (db *DB) EnableNameserver(ctx context.Context, address string, enabled bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := "UPDATE resolver_nameservers SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE address = ?"

	result, err := db.conn.ExecContext(ctx, query, enabled, address)
	if err != nil {
		return fmt.Errorf("failed to update nameserver: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("nameserver not found: %s", address)
	}

	return nil
}
