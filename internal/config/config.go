// Package config provides configuration loading and validation for cachegated.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/cachegated/main.go)
//  2. Environment variables (CACHEGATE_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from CACHEGATE_CATEGORY_SETTING format,
// e.g., CACHEGATE_SERVER_HOST maps to server.host in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cachegate/cachegate/internal/helpers"
)

// maxWorkers bounds a fixed worker count to something a single process can
// plausibly run as pump goroutines; above this a misconfigured value is
// more likely a typo (e.g. a port pasted into workers) than an intent.
const maxWorkers = 1024

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variable binding
	// Uses CACHEGATE_ prefix: CACHEGATE_SERVER_HOST -> server.host
	v.SetEnvPrefix("CACHEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3128)
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.max_concurrency", 0)

	// Forward defaults
	v.SetDefault("forward.timeout", "30s")
	v.SetDefault("forward.max_body_bytes", 0)

	// Reply defaults
	v.SetDefault("reply.enable_purge", false)
	v.SetDefault("reply.offline", false)
	v.SetDefault("reply.via", true)
	v.SetDefault("reply.reply_body_max_size", 0)
	v.SetDefault("reply.error_pconns", true)
	v.SetDefault("reply.client_pconns", true)
	v.SetDefault("reply.fail_on_validation_err", false)
	v.SetDefault("reply.host_name", "cachegate")
	v.SetDefault("reply.quick_abort_min", 16*1024)
	v.SetDefault("reply.quick_abort_max", 16*1024*1024)
	v.SetDefault("reply.quick_abort_pct", 95)

	// Resolver defaults
	v.SetDefault("resolver.enabled", false)
	v.SetDefault("resolver.nameservers", []string{"127.0.0.1"})
	v.SetDefault("resolver.ipv6_enabled", true)
	v.SetDefault("resolver.ignore_unknown_nameservers", false)
	v.SetDefault("resolver.query_timeout", "30s")
	v.SetDefault("resolver.retransmit_interval", "2s")
	v.SetDefault("resolver.search_path_enabled", false)
	v.SetDefault("resolver.search_path", []string{})
	v.SetDefault("resolver.ndots", 1)
	v.SetDefault("resolver.packet_max", 512)
	v.SetDefault("resolver.v4_first", true)

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Filtering defaults
	v.SetDefault("filtering.enabled", false)
	v.SetDefault("filtering.log_blocked", true)
	v.SetDefault("filtering.log_allowed", false)
	v.SetDefault("filtering.whitelist_domains", []string{})
	v.SetDefault("filtering.blacklist_domains", []string{})
	v.SetDefault("filtering.blocklists", []BlocklistConfig{})
	v.SetDefault("filtering.refresh_interval", "24h")

	// Rate limiting defaults
	v.SetDefault("rate_limit.cleanup_seconds", 60.0)
	v.SetDefault("rate_limit.max_ip_entries", 65536)
	v.SetDefault("rate_limit.max_prefix_entries", 16384)
	v.SetDefault("rate_limit.global_qps", 100000.0)
	v.SetDefault("rate_limit.global_burst", 100000)
	v.SetDefault("rate_limit.prefix_qps", 10000.0)
	v.SetDefault("rate_limit.prefix_burst", 20000)
	v.SetDefault("rate_limit.ip_qps", 5000.0)
	v.SetDefault("rate_limit.ip_burst", 10000)

	// Management API defaults
	// Default to disabled and bound to localhost for safety.
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")

	// Database defaults
	v.SetDefault("database.path", "cachegate.db")
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadForwardConfig(v, cfg)
	loadReplyConfig(v, cfg)
	loadResolverConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadFilteringConfig(v, cfg)
	loadAPIConfig(v, cfg)
	loadRateLimitConfig(v, cfg)
	loadDatabaseConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.MaxConcurrency = v.GetInt("server.max_concurrency")
	cfg.Server.WorkersRaw = v.GetString("server.workers")
	cfg.Server.Workers = parseWorkers(cfg.Server.WorkersRaw)
}

func loadForwardConfig(v *viper.Viper, cfg *Config) {
	cfg.Forward.TimeoutRaw = v.GetString("forward.timeout")
	cfg.Forward.MaxBodyBytes = v.GetInt64("forward.max_body_bytes")
}

func loadReplyConfig(v *viper.Viper, cfg *Config) {
	cfg.Reply.EnablePurge = v.GetBool("reply.enable_purge")
	cfg.Reply.Offline = v.GetBool("reply.offline")
	cfg.Reply.Via = v.GetBool("reply.via")
	cfg.Reply.ReplyBodyMaxSize = v.GetInt64("reply.reply_body_max_size")
	cfg.Reply.ErrorPconns = v.GetBool("reply.error_pconns")
	cfg.Reply.ClientPconns = v.GetBool("reply.client_pconns")
	cfg.Reply.FailOnValidationErr = v.GetBool("reply.fail_on_validation_err")
	cfg.Reply.HostName = v.GetString("reply.host_name")
	cfg.Reply.QuickAbortMin = v.GetInt64("reply.quick_abort_min")
	cfg.Reply.QuickAbortMax = v.GetInt64("reply.quick_abort_max")
	cfg.Reply.QuickAbortPct = v.GetInt64("reply.quick_abort_pct")
}

func loadResolverConfig(v *viper.Viper, cfg *Config) {
	cfg.Resolver.Enabled = v.GetBool("resolver.enabled")
	cfg.Resolver.Nameservers = parseServerList(v.GetStringSlice("resolver.nameservers"))
	if len(cfg.Resolver.Nameservers) == 0 {
		if s := v.GetString("resolver.nameservers"); s != "" {
			cfg.Resolver.Nameservers = parseServerList(strings.Split(s, ","))
		}
	}
	cfg.Resolver.IPv6Enabled = v.GetBool("resolver.ipv6_enabled")
	cfg.Resolver.IgnoreUnknownNameservers = v.GetBool("resolver.ignore_unknown_nameservers")
	cfg.Resolver.QueryTimeoutRaw = v.GetString("resolver.query_timeout")
	cfg.Resolver.RetransmitIntervalRaw = v.GetString("resolver.retransmit_interval")
	cfg.Resolver.SearchPathEnabled = v.GetBool("resolver.search_path_enabled")
	cfg.Resolver.SearchPath = v.GetStringSlice("resolver.search_path")
	cfg.Resolver.NDots = v.GetInt("resolver.ndots")
	cfg.Resolver.PacketMax = v.GetInt("resolver.packet_max")
	cfg.Resolver.V4First = v.GetBool("resolver.v4_first")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadFilteringConfig(v *viper.Viper, cfg *Config) {
	cfg.Filtering.Enabled = v.GetBool("filtering.enabled")
	cfg.Filtering.LogBlocked = v.GetBool("filtering.log_blocked")
	cfg.Filtering.LogAllowed = v.GetBool("filtering.log_allowed")
	cfg.Filtering.RefreshInterval = v.GetString("filtering.refresh_interval")

	cfg.Filtering.WhitelistDomains = getStringSliceOrSplit(v, "filtering.whitelist_domains")
	cfg.Filtering.BlacklistDomains = getStringSliceOrSplit(v, "filtering.blacklist_domains")

	if err := v.UnmarshalKey("filtering.blocklists", &cfg.Filtering.Blocklists); err != nil {
		cfg.Filtering.Blocklists = []BlocklistConfig{}
	}

	if url := v.GetString("filtering.blocklist_url"); url != "" {
		cfg.Filtering.Blocklists = append(cfg.Filtering.Blocklists, BlocklistConfig{
			Name:   "env-blocklist",
			URL:    url,
			Format: "auto",
		})
	}
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

func loadRateLimitConfig(v *viper.Viper, cfg *Config) {
	cfg.RateLimit.CleanupSeconds = v.GetFloat64("rate_limit.cleanup_seconds")
	cfg.RateLimit.MaxIPEntries = v.GetInt("rate_limit.max_ip_entries")
	cfg.RateLimit.MaxPrefixEntries = v.GetInt("rate_limit.max_prefix_entries")
	cfg.RateLimit.GlobalQPS = v.GetFloat64("rate_limit.global_qps")
	cfg.RateLimit.GlobalBurst = v.GetInt("rate_limit.global_burst")
	cfg.RateLimit.PrefixQPS = v.GetFloat64("rate_limit.prefix_qps")
	cfg.RateLimit.PrefixBurst = v.GetInt("rate_limit.prefix_burst")
	cfg.RateLimit.IPQPS = v.GetFloat64("rate_limit.ip_qps")
	cfg.RateLimit.IPBurst = v.GetInt("rate_limit.ip_burst")
}

func loadDatabaseConfig(v *viper.Viper, cfg *Config) {
	cfg.Database.Path = v.GetString("database.path")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: helpers.ClampInt(n, 1, maxWorkers)}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// ParseDuration parses a raw duration string (as accepted by
// time.ParseDuration, e.g. "30s", "2m") from a config field such as
// ForwardConfig.TimeoutRaw, falling back to def when raw is empty or
// malformed.
func ParseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// parseServerList cleans up a list of nameserver addresses.
func parseServerList(servers []string) []string {
	result := make([]string, 0, len(servers))
	for _, raw := range servers {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if h, _, ok := strings.Cut(s, ":"); ok {
				s = h
			}
			result = append(result, s)
		}
	}
	return result
}

// getStringSliceOrSplit handles both slice and comma-separated string values.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		result := make([]string, 0, len(slice))
		for _, item := range slice {
			for _, s := range strings.Split(item, ",") {
				s = strings.TrimSpace(s)
				if s != "" {
					result = append(result, s)
				}
			}
		}
		return result
	}
	if s := v.GetString(key); s != "" {
		parts := strings.Split(s, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return nil
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	if len(cfg.Resolver.Nameservers) == 0 {
		cfg.Resolver.Nameservers = []string{"127.0.0.1"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Filtering.RefreshInterval == "" {
		cfg.Filtering.RefreshInterval = "24h"
	}

	if cfg.Reply.HostName == "" {
		cfg.Reply.HostName = "cachegate"
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "cachegate.db"
	}

	return nil
}
