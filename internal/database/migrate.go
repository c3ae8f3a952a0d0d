package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cachegate/cachegate/internal/config"
)

// MigrateFromConfig populates the database from a YAML-based config.Config.
// This is used for initial migration or for importing an updated config file
// into a database-backed deployment.
func (db *DB) MigrateFromConfig(ctx context.Context, cfg *config.Config) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.migrateServerConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateForwardConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateReplyConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateResolverConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateLoggingConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateFilteringConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateRateLimitConfig(tx, cfg); err != nil {
		return err
	}
	if err := db.migrateAPIConfig(tx, cfg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

func (db *DB) migrateServerConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyServerHost:           cfg.Server.Host,
		ConfigKeyServerPort:           fmt.Sprintf("%d", cfg.Server.Port),
		ConfigKeyServerWorkers:        cfg.Server.Workers.String(),
		ConfigKeyServerMaxConcurrency: fmt.Sprintf("%d", cfg.Server.MaxConcurrency),
	}

	return setConfigInTx(tx, configs)
}

func (db *DB) migrateForwardConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyForwardTimeout:      cfg.Forward.TimeoutRaw,
		ConfigKeyForwardMaxBodyBytes: fmt.Sprintf("%d", cfg.Forward.MaxBodyBytes),
	}

	return setConfigInTx(tx, configs)
}

func (db *DB) migrateReplyConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyReplyEnablePurge:      fmt.Sprintf("%t", cfg.Reply.EnablePurge),
		ConfigKeyReplyOffline:          fmt.Sprintf("%t", cfg.Reply.Offline),
		ConfigKeyReplyVia:              fmt.Sprintf("%t", cfg.Reply.Via),
		ConfigKeyReplyBodyMaxSize:      fmt.Sprintf("%d", cfg.Reply.ReplyBodyMaxSize),
		ConfigKeyReplyHostName:         cfg.Reply.HostName,
		ConfigKeyReplyFailOnValidation: fmt.Sprintf("%t", cfg.Reply.FailOnValidationErr),
	}

	return setConfigInTx(tx, configs)
}

func (db *DB) migrateResolverConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyResolverEnabled: fmt.Sprintf("%t", cfg.Resolver.Enabled),
		ConfigKeyResolverIPv6:    fmt.Sprintf("%t", cfg.Resolver.IPv6Enabled),
	}

	if err := setConfigInTx(tx, configs); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM resolver_nameservers"); err != nil {
		return fmt.Errorf("failed to clear resolver nameservers: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO resolver_nameservers (address, priority, enabled)
		VALUES (?, ?, 1)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare nameserver insert: %w", err)
	}
	defer stmt.Close()

	for i, ns := range cfg.Resolver.Nameservers {
		if _, err := stmt.Exec(ns, i); err != nil {
			return fmt.Errorf("failed to insert nameserver %s: %w", ns, err)
		}
	}

	return nil
}

func (db *DB) migrateLoggingConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyLoggingLevel:            cfg.Logging.Level,
		ConfigKeyLoggingStructured:       fmt.Sprintf("%t", cfg.Logging.Structured),
		ConfigKeyLoggingStructuredFormat: cfg.Logging.StructuredFormat,
		ConfigKeyLoggingIncludePID:       fmt.Sprintf("%t", cfg.Logging.IncludePID),
	}

	return setConfigInTx(tx, configs)
}

func (db *DB) migrateFilteringConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyFilteringEnabled:         fmt.Sprintf("%t", cfg.Filtering.Enabled),
		ConfigKeyFilteringLogBlocked:      fmt.Sprintf("%t", cfg.Filtering.LogBlocked),
		ConfigKeyFilteringLogAllowed:      fmt.Sprintf("%t", cfg.Filtering.LogAllowed),
		ConfigKeyFilteringRefreshInterval: cfg.Filtering.RefreshInterval,
	}

	if err := setConfigInTx(tx, configs); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM filtering_whitelist"); err != nil {
		return fmt.Errorf("failed to clear whitelist: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM filtering_blacklist"); err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM filtering_blocklists"); err != nil {
		return fmt.Errorf("failed to clear blocklists: %w", err)
	}

	if len(cfg.Filtering.WhitelistDomains) > 0 {
		whitelistStmt, err := tx.Prepare("INSERT INTO filtering_whitelist (domain) VALUES (?)")
		if err != nil {
			return fmt.Errorf("failed to prepare whitelist insert: %w", err)
		}
		defer whitelistStmt.Close()

		for _, domain := range cfg.Filtering.WhitelistDomains {
			if _, err := whitelistStmt.Exec(domain); err != nil {
				return fmt.Errorf("failed to insert whitelist domain %s: %w", domain, err)
			}
		}
	}

	if len(cfg.Filtering.BlacklistDomains) > 0 {
		blacklistStmt, err := tx.Prepare("INSERT INTO filtering_blacklist (domain) VALUES (?)")
		if err != nil {
			return fmt.Errorf("failed to prepare blacklist insert: %w", err)
		}
		defer blacklistStmt.Close()

		for _, domain := range cfg.Filtering.BlacklistDomains {
			if _, err := blacklistStmt.Exec(domain); err != nil {
				return fmt.Errorf("failed to insert blacklist domain %s: %w", domain, err)
			}
		}
	}

	if len(cfg.Filtering.Blocklists) > 0 {
		blocklistStmt, err := tx.Prepare(`
			INSERT INTO filtering_blocklists (name, url, format, enabled)
			VALUES (?, ?, ?, 1)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare blocklist insert: %w", err)
		}
		defer blocklistStmt.Close()

		for _, blocklist := range cfg.Filtering.Blocklists {
			if _, err := blocklistStmt.Exec(blocklist.Name, blocklist.URL, blocklist.Format); err != nil {
				return fmt.Errorf("failed to insert blocklist %s: %w", blocklist.Name, err)
			}
		}
	}

	return nil
}

func (db *DB) migrateRateLimitConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyRateLimitCleanupSeconds:   fmt.Sprintf("%f", cfg.RateLimit.CleanupSeconds),
		ConfigKeyRateLimitMaxIPEntries:     fmt.Sprintf("%d", cfg.RateLimit.MaxIPEntries),
		ConfigKeyRateLimitMaxPrefixEntries: fmt.Sprintf("%d", cfg.RateLimit.MaxPrefixEntries),
		ConfigKeyRateLimitGlobalQPS:        fmt.Sprintf("%f", cfg.RateLimit.GlobalQPS),
		ConfigKeyRateLimitGlobalBurst:      fmt.Sprintf("%d", cfg.RateLimit.GlobalBurst),
		ConfigKeyRateLimitPrefixQPS:        fmt.Sprintf("%f", cfg.RateLimit.PrefixQPS),
		ConfigKeyRateLimitPrefixBurst:      fmt.Sprintf("%d", cfg.RateLimit.PrefixBurst),
		ConfigKeyRateLimitIPQPS:            fmt.Sprintf("%f", cfg.RateLimit.IPQPS),
		ConfigKeyRateLimitIPBurst:          fmt.Sprintf("%d", cfg.RateLimit.IPBurst),
	}

	return setConfigInTx(tx, configs)
}

func (db *DB) migrateAPIConfig(tx txExec, cfg *config.Config) error {
	configs := map[string]string{
		ConfigKeyAPIEnabled: fmt.Sprintf("%t", cfg.API.Enabled),
		ConfigKeyAPIHost:    cfg.API.Host,
		ConfigKeyAPIPort:    fmt.Sprintf("%d", cfg.API.Port),
		ConfigKeyAPIKey:     cfg.API.APIKey,
	}

	return setConfigInTx(tx, configs)
}

// Helper types and functions

type txExec interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Prepare(query string) (*sql.Stmt, error)
}

func setConfigInTx(tx txExec, configs map[string]string) error {
	stmt, err := tx.Prepare(`
		INSERT INTO config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare config insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range configs {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to set config %s: %w", key, err)
		}
	}

	return nil
}
