package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cachegate/cachegate/internal/api/handlers"
	"github.com/cachegate/cachegate/internal/api/models"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/filtering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWhitelist_NoDatabase(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/filtering/whitelist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAddAndGetWhitelist_WithDatabaseAndEngine(t *testing.T) {
	db := openTestDB(t)
	h := handlers.New(&config.Config{}, db, nil)

	pe := filtering.NewPolicyEngine(filtering.PolicyEngineConfig{Enabled: true})
	defer pe.Close()
	h.SetPolicyEngine(pe)

	r := setupTestRouter(h)

	body := models.DomainRequest{Domains: []string{"safe.example.com"}}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/filtering/whitelist", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, pe.Stats().WhitelistSize)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/filtering/whitelist", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp models.DomainListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Contains(t, resp.Domains, "safe.example.com")
}

func TestAddBlacklist_InvalidRequest(t *testing.T) {
	db := openTestDB(t)
	h := handlers.New(&config.Config{}, db, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/filtering/blacklist", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveBlacklist_WithDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddBlacklistDomain("ads.example.com"))
	h := handlers.New(&config.Config{}, db, nil)

	pe := filtering.NewPolicyEngine(filtering.PolicyEngineConfig{
		Enabled:          true,
		BlacklistDomains: []string{"ads.example.com"},
	})
	defer pe.Close()
	h.SetPolicyEngine(pe)

	r := setupTestRouter(h)

	body := models.DomainDeleteRequest{Domains: []string{"ads.example.com"}}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/filtering/blacklist", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	blacklist, err := db.GetBlacklistDomains()
	require.NoError(t, err)
	assert.NotContains(t, blacklist, "ads.example.com")
}

func TestFilteringStats_NoEngine(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/filtering/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFilteringStats_WithEngine(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)

	pe := filtering.NewPolicyEngine(filtering.PolicyEngineConfig{
		Enabled:          true,
		WhitelistDomains: []string{"safe.com"},
		BlacklistDomains: []string{"blocked.com"},
	})
	defer pe.Close()
	h.SetPolicyEngine(pe)

	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/filtering/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.FilteringStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Enabled)
	assert.Equal(t, 1, resp.WhitelistSize)
	assert.Equal(t, 1, resp.BlacklistSize)
}

func TestSetFilteringEnabled_PersistsToDatabase(t *testing.T) {
	db := openTestDB(t)
	h := handlers.New(&config.Config{}, db, nil)

	pe := filtering.NewPolicyEngine(filtering.PolicyEngineConfig{Enabled: true})
	defer pe.Close()
	h.SetPolicyEngine(pe)

	r := setupTestRouter(h)

	body := models.FilteringEnabledRequest{Enabled: false}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/filtering/enabled", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, pe.Stats().Enabled)

	v, err := db.GetConfig("filtering.enabled")
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestSetFilteringEnabled_NoEngine(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	r := setupTestRouter(h)

	body := models.FilteringEnabledRequest{Enabled: true}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/filtering/enabled", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetBlocklists_WithDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddBlocklist("stevenblack", "https://example.com/hosts", "hosts"))
	h := handlers.New(&config.Config{}, db, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/filtering/blocklists", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.BlocklistsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Blocklists, 1)
	assert.Equal(t, "stevenblack", resp.Blocklists[0].Name)
	assert.True(t, resp.Blocklists[0].Enabled)
}

func TestSetBlocklistEnabled_TogglesState(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddBlocklist("stevenblack", "https://example.com/hosts", "hosts"))
	h := handlers.New(&config.Config{}, db, nil)
	r := setupTestRouter(h)

	body := models.FilteringEnabledRequest{Enabled: false}
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/filtering/blocklists/stevenblack/enabled", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	lists, err := db.GetBlocklists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.False(t, lists[0].Enabled)
}

func TestRefreshBlocklist_NotFound(t *testing.T) {
	db := openTestDB(t)
	h := handlers.New(&config.Config{}, db, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/filtering/blocklists/missing/refresh", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
