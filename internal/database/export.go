package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cachegate/cachegate/internal/config"
)

// ExportToConfig assembles a config.Config from the database's persisted
// key/value overrides, for callers that keep runtime config in SQLite
// instead of (or layered on top of) a YAML file.
func (db *DB) ExportToConfig(ctx context.Context) (*config.Config, error) {
	cfg := &config.Config{}

	if err := db.exportServerConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportForwardConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportReplyConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportResolverConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if err := db.exportLoggingConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportFilteringConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportRateLimitConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportAPIConfig(cfg); err != nil {
		return nil, err
	}
	if err := db.exportDatabaseConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (db *DB) exportServerConfig(cfg *config.Config) error {
	cfg.Server.Host = db.GetConfigWithDefault(ConfigKeyServerHost, "0.0.0.0")

	portStr := db.GetConfigWithDefault(ConfigKeyServerPort, "3128")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid server.port: %w", err)
	}
	cfg.Server.Port = port

	cfg.Server.WorkersRaw = db.GetConfigWithDefault(ConfigKeyServerWorkers, "auto")
	if err := cfg.ParseWorkers(); err != nil {
		return fmt.Errorf("failed to parse workers: %w", err)
	}

	maxConcurrencyStr := db.GetConfigWithDefault(ConfigKeyServerMaxConcurrency, "0")
	maxConcurrency, err := strconv.Atoi(maxConcurrencyStr)
	if err != nil {
		return fmt.Errorf("invalid max_concurrency: %w", err)
	}
	cfg.Server.MaxConcurrency = maxConcurrency

	return nil
}

func (db *DB) exportForwardConfig(cfg *config.Config) error {
	cfg.Forward.TimeoutRaw = db.GetConfigWithDefault(ConfigKeyForwardTimeout, "30s")

	maxBodyStr := db.GetConfigWithDefault(ConfigKeyForwardMaxBodyBytes, "0")
	maxBody, err := strconv.ParseInt(maxBodyStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid forward.max_body_bytes: %w", err)
	}
	cfg.Forward.MaxBodyBytes = maxBody

	return nil
}

func (db *DB) exportReplyConfig(cfg *config.Config) error {
	cfg.Reply.EnablePurge, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyReplyEnablePurge, "false"))
	cfg.Reply.Offline, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyReplyOffline, "false"))
	cfg.Reply.Via, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyReplyVia, "true"))
	cfg.Reply.FailOnValidationErr, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyReplyFailOnValidation, "false"))
	cfg.Reply.HostName = db.GetConfigWithDefault(ConfigKeyReplyHostName, "cachegate")

	sizeStr := db.GetConfigWithDefault(ConfigKeyReplyBodyMaxSize, "0")
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid reply.reply_body_max_size: %w", err)
	}
	cfg.Reply.ReplyBodyMaxSize = size

	return nil
}

func (db *DB) exportResolverConfig(ctx context.Context, cfg *config.Config) error {
	cfg.Resolver.Enabled, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyResolverEnabled, "false"))
	cfg.Resolver.IPv6Enabled, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyResolverIPv6, "true"))

	servers, err := db.GetNameservers(ctx)
	if err != nil {
		return fmt.Errorf("failed to get resolver nameservers: %w", err)
	}

	cfg.Resolver.Nameservers = make([]string, len(servers))
	for i, s := range servers {
		cfg.Resolver.Nameservers[i] = s.Address
	}

	return nil
}

func (db *DB) exportLoggingConfig(cfg *config.Config) error {
	cfg.Logging.Level = db.GetConfigWithDefault(ConfigKeyLoggingLevel, "INFO")
	cfg.Logging.Structured, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyLoggingStructured, "false"))
	cfg.Logging.StructuredFormat = db.GetConfigWithDefault(ConfigKeyLoggingStructuredFormat, "json")
	cfg.Logging.IncludePID, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyLoggingIncludePID, "false"))
	cfg.Logging.ExtraFields = make(map[string]string)

	return nil
}

func (db *DB) exportFilteringConfig(cfg *config.Config) error {
	cfg.Filtering.Enabled, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyFilteringEnabled, "false"))
	cfg.Filtering.LogBlocked, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyFilteringLogBlocked, "true"))
	cfg.Filtering.LogAllowed, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyFilteringLogAllowed, "false"))
	cfg.Filtering.RefreshInterval = db.GetConfigWithDefault(ConfigKeyFilteringRefreshInterval, "24h")

	whitelist, err := db.GetWhitelistDomains()
	if err != nil {
		return fmt.Errorf("failed to get whitelist: %w", err)
	}
	cfg.Filtering.WhitelistDomains = whitelist

	blacklist, err := db.GetBlacklistDomains()
	if err != nil {
		return fmt.Errorf("failed to get blacklist: %w", err)
	}
	cfg.Filtering.BlacklistDomains = blacklist

	blocklists, err := db.GetBlocklists()
	if err != nil {
		return fmt.Errorf("failed to get blocklists: %w", err)
	}

	enabled := make([]config.BlocklistConfig, 0, len(blocklists))
	for _, blocklist := range blocklists {
		if !blocklist.Enabled {
			continue
		}
		enabled = append(enabled, config.BlocklistConfig{
			Name:   blocklist.Name,
			URL:    blocklist.URL,
			Format: blocklist.Format,
		})
	}
	cfg.Filtering.Blocklists = enabled

	return nil
}

func (db *DB) exportRateLimitConfig(cfg *config.Config) error {
	cleanupSeconds, err := strconv.ParseFloat(db.GetConfigWithDefault(ConfigKeyRateLimitCleanupSeconds, "60.0"), 64)
	if err != nil {
		return fmt.Errorf("invalid rate_limit.cleanup_seconds: %w", err)
	}
	cfg.RateLimit.CleanupSeconds = cleanupSeconds

	maxIPEntries, err := strconv.Atoi(db.GetConfigWithDefault(ConfigKeyRateLimitMaxIPEntries, "65536"))
	if err != nil {
		return fmt.Errorf("invalid rate_limit.max_ip_entries: %w", err)
	}
	cfg.RateLimit.MaxIPEntries = maxIPEntries

	maxPrefixEntries, err := strconv.Atoi(db.GetConfigWithDefault(ConfigKeyRateLimitMaxPrefixEntries, "16384"))
	if err != nil {
		return fmt.Errorf("invalid rate_limit.max_prefix_entries: %w", err)
	}
	cfg.RateLimit.MaxPrefixEntries = maxPrefixEntries

	globalQPS, err := strconv.ParseFloat(db.GetConfigWithDefault(ConfigKeyRateLimitGlobalQPS, "100000.0"), 64)
	if err != nil {
		return fmt.Errorf("invalid rate_limit.global_qps: %w", err)
	}
	cfg.RateLimit.GlobalQPS = globalQPS

	globalBurst, err := strconv.Atoi(db.GetConfigWithDefault(ConfigKeyRateLimitGlobalBurst, "100000"))
	if err != nil {
		return fmt.Errorf("invalid rate_limit.global_burst: %w", err)
	}
	cfg.RateLimit.GlobalBurst = globalBurst

	prefixQPS, err := strconv.ParseFloat(db.GetConfigWithDefault(ConfigKeyRateLimitPrefixQPS, "10000.0"), 64)
	if err != nil {
		return fmt.Errorf("invalid rate_limit.prefix_qps: %w", err)
	}
	cfg.RateLimit.PrefixQPS = prefixQPS

	prefixBurst, err := strconv.Atoi(db.GetConfigWithDefault(ConfigKeyRateLimitPrefixBurst, "20000"))
	if err != nil {
		return fmt.Errorf("invalid rate_limit.prefix_burst: %w", err)
	}
	cfg.RateLimit.PrefixBurst = prefixBurst

	ipQPS, err := strconv.ParseFloat(db.GetConfigWithDefault(ConfigKeyRateLimitIPQPS, "5000.0"), 64)
	if err != nil {
		return fmt.Errorf("invalid rate_limit.ip_qps: %w", err)
	}
	cfg.RateLimit.IPQPS = ipQPS

	ipBurst, err := strconv.Atoi(db.GetConfigWithDefault(ConfigKeyRateLimitIPBurst, "10000"))
	if err != nil {
		return fmt.Errorf("invalid rate_limit.ip_burst: %w", err)
	}
	cfg.RateLimit.IPBurst = ipBurst

	return nil
}

func (db *DB) exportAPIConfig(cfg *config.Config) error {
	cfg.API.Enabled, _ = strconv.ParseBool(db.GetConfigWithDefault(ConfigKeyAPIEnabled, "true"))
	cfg.API.Host = db.GetConfigWithDefault(ConfigKeyAPIHost, "127.0.0.1")

	port, err := strconv.Atoi(db.GetConfigWithDefault(ConfigKeyAPIPort, "8080"))
	if err != nil {
		return fmt.Errorf("invalid api.port: %w", err)
	}
	cfg.API.Port = port

	cfg.API.APIKey = db.GetConfigWithDefault(ConfigKeyAPIKey, "")

	return nil
}

func (db *DB) exportDatabaseConfig(cfg *config.Config) error {
	cfg.Database.Path = db.GetConfigWithDefault(ConfigKeyDatabasePath, "cachegate.db")
	return nil
}
