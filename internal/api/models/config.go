package models

import "github.com/cachegate/cachegate/internal/config"

// APIConfigResponse is a redacted version of APIConfig (no api_key exposed).
type APIConfigResponse struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// ServerConfigResponse wraps ServerConfig with Workers rendered as a string.
type ServerConfigResponse struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Workers        string `json:"workers"`
	MaxConcurrency int    `json:"max_concurrency"`
}

// ConfigResponse is the API response for GET /config.
type ConfigResponse struct {
	Server    ServerConfigResponse   `json:"server"`
	Forward   config.ForwardConfig   `json:"forward"`
	Reply     config.ReplyConfig     `json:"reply"`
	Resolver  config.ResolverConfig  `json:"resolver"`
	Logging   config.LoggingConfig   `json:"logging"`
	Filtering config.FilteringConfig `json:"filtering"`
	RateLimit config.RateLimitConfig `json:"rate_limit"`
	API       APIConfigResponse      `json:"api"`
}
