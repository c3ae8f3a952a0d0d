package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cachegate/cachegate/internal/api/handlers"
	"github.com/cachegate/cachegate/internal/api/models"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfig_ReturnsRedactedConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 3128
	cfg.API.APIKey = "super-secret"
	require.NoError(t, cfg.ParseWorkers())

	h := handlers.New(cfg, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "super-secret")

	var resp models.ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3128, resp.Server.Port)
	assert.Equal(t, "auto", resp.Server.Workers)
}

func TestPutConfig_NotImplemented(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestReloadConfig_NotImplemented(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
