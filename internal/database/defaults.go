package database

import (
	"database/sql"
	"fmt"
)

// DefaultNameservers are the default resolver upstream nameservers.
var DefaultNameservers = []string{
	"9.9.9.9", // Quad9 (primary)
	"1.1.1.1", // Cloudflare (fallback)
}

// InitDefaults populates the database with default configuration values.
// This is called on first database creation to ensure all config keys exist.
// It only inserts values if they don't already exist (won't overwrite).
func (db *DB) InitDefaults() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow("SELECT COUNT(*) FROM config").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check config count: %w", err)
	}

	if count > 0 {
		return nil
	}

	if err := db.initServerDefaults(tx); err != nil {
		return err
	}
	if err := db.initForwardDefaults(tx); err != nil {
		return err
	}
	if err := db.initReplyDefaults(tx); err != nil {
		return err
	}
	if err := db.initResolverDefaults(tx); err != nil {
		return err
	}
	if err := db.initLoggingDefaults(tx); err != nil {
		return err
	}
	if err := db.initFilteringDefaults(tx); err != nil {
		return err
	}
	if err := db.initRateLimitDefaults(tx); err != nil {
		return err
	}
	if err := db.initAPIDefaults(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit defaults: %w", err)
	}

	return nil
}

func (db *DB) initServerDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyServerHost:           "0.0.0.0",
		ConfigKeyServerPort:           "3128",
		ConfigKeyServerWorkers:        "auto",
		ConfigKeyServerMaxConcurrency: "0",
	}

	return insertDefaults(tx, defaults)
}

func (db *DB) initForwardDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyForwardTimeout:      "30s",
		ConfigKeyForwardMaxBodyBytes: "0",
	}

	return insertDefaults(tx, defaults)
}

func (db *DB) initReplyDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyReplyEnablePurge:      "false",
		ConfigKeyReplyOffline:          "false",
		ConfigKeyReplyVia:              "true",
		ConfigKeyReplyBodyMaxSize:      "0",
		ConfigKeyReplyHostName:         "cachegate",
		ConfigKeyReplyFailOnValidation: "false",
	}

	return insertDefaults(tx, defaults)
}

func (db *DB) initResolverDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyResolverEnabled: "false",
		ConfigKeyResolverIPv6:    "true",
	}

	if err := insertDefaults(tx, defaults); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO resolver_nameservers (address, priority, enabled)
		VALUES (?, ?, 1)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare nameserver insert: %w", err)
	}
	defer stmt.Close()

	for i, ns := range DefaultNameservers {
		if _, err := stmt.Exec(ns, i); err != nil {
			return fmt.Errorf("failed to insert default nameserver %s: %w", ns, err)
		}
	}

	return nil
}

func (db *DB) initLoggingDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyLoggingLevel:            "INFO",
		ConfigKeyLoggingStructured:       "false",
		ConfigKeyLoggingStructuredFormat: "json",
		ConfigKeyLoggingIncludePID:       "false",
	}

	return insertDefaults(tx, defaults)
}

func (db *DB) initFilteringDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyFilteringEnabled:         "false",
		ConfigKeyFilteringLogBlocked:      "true",
		ConfigKeyFilteringLogAllowed:      "false",
		ConfigKeyFilteringRefreshInterval: "24h",
	}

	return insertDefaults(tx, defaults)
}

func (db *DB) initRateLimitDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyRateLimitCleanupSeconds:   "60.0",
		ConfigKeyRateLimitMaxIPEntries:     "65536",
		ConfigKeyRateLimitMaxPrefixEntries: "16384",
		ConfigKeyRateLimitGlobalQPS:        "100000.0",
		ConfigKeyRateLimitGlobalBurst:      "100000",
		ConfigKeyRateLimitPrefixQPS:        "10000.0",
		ConfigKeyRateLimitPrefixBurst:      "20000",
		ConfigKeyRateLimitIPQPS:            "5000.0",
		ConfigKeyRateLimitIPBurst:          "10000",
	}

	return insertDefaults(tx, defaults)
}

func (db *DB) initAPIDefaults(tx *sql.Tx) error {
	defaults := map[string]string{
		ConfigKeyAPIEnabled: "true",
		ConfigKeyAPIHost:    "127.0.0.1",
		ConfigKeyAPIPort:    "8080",
		ConfigKeyAPIKey:     "",
	}

	return insertDefaults(tx, defaults)
}

// insertDefaults inserts config values only if they don't exist.
func insertDefaults(tx *sql.Tx, defaults map[string]string) error {
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare config insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range defaults {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert default %s: %w", key, err)
		}
	}

	return nil
}

// IsInitialized checks if the database has been initialized with defaults.
func (db *DB) IsInitialized() (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM config").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check config count: %w", err)
	}

	return count > 0, nil
}
