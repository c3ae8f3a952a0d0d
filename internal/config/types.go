// Package config provides configuration loading for cachegated using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the CACHEGATE_ prefix and underscore-separated keys:
//   - CACHEGATE_SERVER_HOST -> server.host
//   - CACHEGATE_SERVER_PORT -> server.port
//   - CACHEGATE_RESOLVER_NAMESERVERS -> resolver.nameservers (comma-separated)
//   - CACHEGATE_FILTERING_ENABLED -> filtering.enabled
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how the worker count is determined.
type WorkersMode int

const (
	// WorkersAuto keeps the runtime's default GOMAXPROCS.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count, which can lower but never
	// raise GOMAXPROCS.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains the listener's own settings. Workers caps GOMAXPROCS
// (server.Runner.configureRuntime); the listener always runs a single
// clientstream.Driver.
type ServerConfig struct {
	Host           string        `yaml:"host"            mapstructure:"host"`
	Port           int           `yaml:"port"            mapstructure:"port"`
	Workers        WorkerSetting `yaml:"-"               mapstructure:"-"`
	WorkersRaw     string        `yaml:"workers"         mapstructure:"workers"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// ForwardConfig contains settings for the forwarding starter's origin fetches.
type ForwardConfig struct {
	TimeoutRaw   string `yaml:"timeout"        mapstructure:"timeout"        json:"timeout"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes" json:"max_body_bytes"` // 0 = unlimited
}

// ReplyConfig contains the reply context's Squid-derived tunables.
type ReplyConfig struct {
	EnablePurge         bool   `yaml:"enable_purge"           mapstructure:"enable_purge"           json:"enable_purge"`
	Offline             bool   `yaml:"offline"                mapstructure:"offline"                json:"offline"`
	Via                 bool   `yaml:"via"                    mapstructure:"via"                    json:"via"`
	ReplyBodyMaxSize    int64  `yaml:"reply_body_max_size"    mapstructure:"reply_body_max_size"    json:"reply_body_max_size"` // 0 = unlimited
	ErrorPconns         bool   `yaml:"error_pconns"           mapstructure:"error_pconns"           json:"error_pconns"`
	ClientPconns        bool   `yaml:"client_pconns"          mapstructure:"client_pconns"          json:"client_pconns"`
	FailOnValidationErr bool   `yaml:"fail_on_validation_err" mapstructure:"fail_on_validation_err" json:"fail_on_validation_err"`
	HostName            string `yaml:"host_name"              mapstructure:"host_name"              json:"host_name"` // used in X-Cache and Via

	QuickAbortMin int64 `yaml:"quick_abort_min" mapstructure:"quick_abort_min" json:"quick_abort_min"` // bytes; negative disables
	QuickAbortMax int64 `yaml:"quick_abort_max" mapstructure:"quick_abort_max" json:"quick_abort_max"` // bytes; negative disables
	QuickAbortPct int64 `yaml:"quick_abort_pct" mapstructure:"quick_abort_pct" json:"quick_abort_pct"` // 0-100; negative disables
}

// ResolverConfig contains settings for the internal recursive DNS resolver
// that the forwarding starter's dialer consults for origin hostnames.
type ResolverConfig struct {
	Enabled                  bool     `yaml:"enabled"                    mapstructure:"enabled"                    json:"enabled"`
	Nameservers              []string `yaml:"nameservers"                mapstructure:"nameservers"                json:"nameservers"`
	IPv6Enabled              bool     `yaml:"ipv6_enabled"               mapstructure:"ipv6_enabled"               json:"ipv6_enabled"`
	IgnoreUnknownNameservers bool     `yaml:"ignore_unknown_nameservers" mapstructure:"ignore_unknown_nameservers" json:"ignore_unknown_nameservers"`
	QueryTimeoutRaw          string   `yaml:"query_timeout"              mapstructure:"query_timeout"              json:"query_timeout"`       // idns_query
	RetransmitIntervalRaw    string   `yaml:"retransmit_interval"        mapstructure:"retransmit_interval"        json:"retransmit_interval"` // idns_retransmit
	SearchPathEnabled        bool     `yaml:"search_path_enabled"        mapstructure:"search_path_enabled"        json:"search_path_enabled"` // res_defnames
	SearchPath               []string `yaml:"search_path"                mapstructure:"search_path"                json:"search_path"`
	NDots                    int      `yaml:"ndots"                      mapstructure:"ndots"                      json:"ndots"`
	PacketMax                int      `yaml:"packet_max"                 mapstructure:"packet_max"                 json:"packet_max"`
	V4First                  bool     `yaml:"v4_first"                   mapstructure:"v4_first"                   json:"v4_first"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// FilteringConfig controls the host denylist/allowlist (blocklists/whitelists)
// a candidate response is checked against before it reaches the client.
type FilteringConfig struct {
	Enabled          bool              `yaml:"enabled"           mapstructure:"enabled"           json:"enabled"`
	LogBlocked       bool              `yaml:"log_blocked"       mapstructure:"log_blocked"       json:"log_blocked"`
	LogAllowed       bool              `yaml:"log_allowed"       mapstructure:"log_allowed"       json:"log_allowed"`
	WhitelistDomains []string          `yaml:"whitelist_domains" mapstructure:"whitelist_domains" json:"whitelist_domains,omitempty"`
	BlacklistDomains []string          `yaml:"blacklist_domains" mapstructure:"blacklist_domains" json:"blacklist_domains,omitempty"`
	Blocklists       []BlocklistConfig `yaml:"blocklists"        mapstructure:"blocklists"        json:"blocklists,omitempty"`
	RefreshInterval  string            `yaml:"refresh_interval"  mapstructure:"refresh_interval"  json:"refresh_interval"`
}

// BlocklistConfig defines a remote blocklist source.
type BlocklistConfig struct {
	Name   string `yaml:"name"   mapstructure:"name"   json:"name"`
	URL    string `yaml:"url"    mapstructure:"url"    json:"url"`
	Format string `yaml:"format" mapstructure:"format" json:"format"` // "auto", "adblock", "hosts", "domains"
}

// RateLimitConfig controls per-client request rate limiting settings.
type RateLimitConfig struct {
	// CleanupSeconds is how often stale entries are cleaned up (default: 60)
	CleanupSeconds float64 `yaml:"cleanup_seconds"    mapstructure:"cleanup_seconds"    json:"cleanup_seconds"`
	// MaxIPEntries is the maximum number of tracked client IPs (default: 65536)
	MaxIPEntries int `yaml:"max_ip_entries"     mapstructure:"max_ip_entries"     json:"max_ip_entries"`
	// MaxPrefixEntries is the maximum number of tracked prefixes (default: 16384)
	MaxPrefixEntries int `yaml:"max_prefix_entries" mapstructure:"max_prefix_entries" json:"max_prefix_entries"`
	// GlobalQPS is the proxy-wide requests per second limit (default: 100000, 0 = disabled)
	GlobalQPS float64 `yaml:"global_qps"         mapstructure:"global_qps"         json:"global_qps"`
	// GlobalBurst is the global burst size (default: 100000)
	GlobalBurst int `yaml:"global_burst"       mapstructure:"global_burst"       json:"global_burst"`
	// PrefixQPS is the per-prefix QPS limit (default: 10000, 0 = disabled)
	PrefixQPS float64 `yaml:"prefix_qps"         mapstructure:"prefix_qps"         json:"prefix_qps"`
	// PrefixBurst is the per-prefix burst size (default: 20000)
	PrefixBurst int `yaml:"prefix_burst"       mapstructure:"prefix_burst"       json:"prefix_burst"`
	// IPQPS is the per-client QPS limit (default: 5000, 0 = disabled)
	IPQPS float64 `yaml:"ip_qps"             mapstructure:"ip_qps"             json:"ip_qps"`
	// IPBurst is the per-client burst size (default: 10000)
	IPBurst int `yaml:"ip_burst"           mapstructure:"ip_burst"           json:"ip_burst"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// DatabaseConfig contains settings for the SQLite-backed audit/denylist store.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"     mapstructure:"server"`
	Forward   ForwardConfig   `yaml:"forward"    mapstructure:"forward"`
	Reply     ReplyConfig     `yaml:"reply"      mapstructure:"reply"`
	Resolver  ResolverConfig  `yaml:"resolver"   mapstructure:"resolver"`
	Logging   LoggingConfig   `yaml:"logging"    mapstructure:"logging"`
	Filtering FilteringConfig `yaml:"filtering"  mapstructure:"filtering"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	API       APIConfig       `yaml:"api"        mapstructure:"api"`
	Database  DatabaseConfig  `yaml:"database"   mapstructure:"database"`
}

// ParseWorkers fills in Server.Workers from Server.WorkersRaw. Exported so a
// caller populating Config fields directly (e.g. from a database row) can
// finish normalization without going through Load.
func (c *Config) ParseWorkers() error {
	c.Server.Workers = parseWorkers(c.Server.WorkersRaw)
	return nil
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("CACHEGATE_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (CACHEGATE_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
