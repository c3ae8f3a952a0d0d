// Package models_test provides behavior tests for the API models package.
package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cachegate/cachegate/internal/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Common Models Tests
// ============================================================================

func TestErrorResponse_JSON(t *testing.T) {
	resp := models.ErrorResponse{Error: "something went wrong"}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.ErrorResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "something went wrong", decoded.Error)
}

func TestStatusResponse_JSON(t *testing.T) {
	resp := models.StatusResponse{Status: "ok"}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.StatusResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

// ============================================================================
// Stats Models Tests
// ============================================================================

func TestServerStatsResponse_JSON(t *testing.T) {
	startTime := time.Now()
	resp := models.ServerStatsResponse{
		Uptime:        "1h30m",
		UptimeSeconds: 5400,
		StartTime:     startTime,
		GoRoutines:    12,
		NumCPU:        8,
		CPU: models.CPUStats{
			UsedPercent: 25.5,
			IdlePercent: 74.5,
		},
		Memory: models.MemoryStats{
			TotalMB:     16384.0,
			FreeMB:      8192.0,
			UsedMB:      8192.0,
			UsedPercent: 50.0,
		},
		Cache: models.CacheStatsResponse{
			Hits:      900,
			Misses:    100,
			Entries:   42,
			StoreSize: 1 << 20,
		},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.ServerStatsResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "1h30m", decoded.Uptime)
	assert.Equal(t, int64(5400), decoded.UptimeSeconds)
	assert.Equal(t, 8, decoded.NumCPU)
	assert.Equal(t, 12, decoded.GoRoutines)
	assert.InDelta(t, 25.5, decoded.CPU.UsedPercent, 0.001)
	assert.InDelta(t, 50.0, decoded.Memory.UsedPercent, 0.001)
	assert.Equal(t, int64(900), decoded.Cache.Hits)
}

func TestServerStatsResponse_WithFilteringStats(t *testing.T) {
	resp := models.ServerStatsResponse{
		Uptime: "1h",
		FilteringStats: &models.FilteringStatsResponse{
			Enabled:        true,
			QueriesTotal:   500,
			QueriesBlocked: 50,
			QueriesAllowed: 450,
			WhitelistSize:  10,
			BlacklistSize:  1000,
		},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.ServerStatsResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	require.NotNil(t, decoded.FilteringStats)
	assert.True(t, decoded.FilteringStats.Enabled)
	assert.Equal(t, uint64(50), decoded.FilteringStats.QueriesBlocked)
}

func TestServerStatsResponse_FilteringOmittedWhenNil(t *testing.T) {
	resp := models.ServerStatsResponse{
		Uptime:         "1h",
		FilteringStats: nil,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	assert.NotContains(t, string(data), `"filtering":`)
}

func TestCacheStatsResponse_JSON(t *testing.T) {
	resp := models.CacheStatsResponse{
		Hits:      10000,
		Misses:    2000,
		Entries:   350,
		StoreSize: 4096,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.CacheStatsResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), decoded.Hits)
	assert.Equal(t, 350, decoded.Entries)
}

// ============================================================================
// Filtering Models Tests
// ============================================================================

func TestFilteringStatsResponse_JSON(t *testing.T) {
	resp := models.FilteringStatsResponse{
		Enabled:        true,
		QueriesTotal:   1000,
		QueriesBlocked: 200,
		QueriesAllowed: 800,
		WhitelistSize:  5,
		BlacklistSize:  500,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.FilteringStatsResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.True(t, decoded.Enabled)
	assert.Equal(t, uint64(200), decoded.QueriesBlocked)
}

func TestDomainListResponse_JSON(t *testing.T) {
	resp := models.DomainListResponse{
		Domains: []string{"example.com", "test.org"},
		Count:   2,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.DomainListResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Len(t, decoded.Domains, 2)
	assert.Equal(t, 2, decoded.Count)
}

func TestDomainRequest_JSON(t *testing.T) {
	req := models.DomainRequest{
		Domains: []string{"ads.example.com", "tracking.test.com"},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded models.DomainRequest
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Len(t, decoded.Domains, 2)
}

func TestFilteringEnabledRequest_JSON(t *testing.T) {
	req := models.FilteringEnabledRequest{Enabled: true}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded models.FilteringEnabledRequest
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.True(t, decoded.Enabled)
}

func TestBlocklistsResponse_JSON(t *testing.T) {
	fetched := "2026-01-01T00:00:00Z"
	resp := models.BlocklistsResponse{
		Blocklists: []models.Blocklist{
			{Name: "stevenblack", URL: "https://example.com/hosts", Format: "hosts", Enabled: true, LastFetched: &fetched},
		},
		Count: 1,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.BlocklistsResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	require.Len(t, decoded.Blocklists, 1)
	assert.Equal(t, "stevenblack", decoded.Blocklists[0].Name)
	require.NotNil(t, decoded.Blocklists[0].LastFetched)
	assert.Equal(t, fetched, *decoded.Blocklists[0].LastFetched)
}

// ============================================================================
// Config Models Tests
// ============================================================================

func TestConfigResponse_JSON(t *testing.T) {
	resp := models.ConfigResponse{
		Server: models.ServerConfigResponse{
			Host:           "0.0.0.0",
			Port:           3128,
			Workers:        "auto",
			MaxConcurrency: 0,
		},
		API: models.APIConfigResponse{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "api_key")

	var decoded models.ConfigResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, 3128, decoded.Server.Port)
	assert.Equal(t, "auto", decoded.Server.Workers)
}
