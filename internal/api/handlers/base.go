// Package handlers implements the REST API endpoint handlers for cachegated.
//
// @title cachegate Management API
// @version 1.0
// @description REST API for managing cachegated server configuration, cache state, and filtering.
//
// @contact.name cachegate
// @contact.url https://github.com/cachegate/cachegate
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cachegate/cachegate/internal/clientstream"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/database"
	"github.com/cachegate/cachegate/internal/filtering"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	db        *database.DB
	logger    *slog.Logger
	startTime time.Time

	// Runtime components (set after the daemon's driver/policy engine start)
	mu           sync.RWMutex
	policyEngine *filtering.PolicyEngine
	driver       *clientstream.Driver
}

// New creates a new Handler with the given configuration, optional
// SQLite-backed config/audit store, and logger.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Handler {
	if cfg == nil {
		panic("handlers.New: cfg is nil")
	}
	return &Handler{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetPolicyEngine sets the filtering policy engine for runtime access.
func (h *Handler) SetPolicyEngine(pe *filtering.PolicyEngine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policyEngine = pe
}

// GetPolicyEngine returns the currently wired filtering policy engine, or nil.
func (h *Handler) GetPolicyEngine() *filtering.PolicyEngine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policyEngine
}

// SetDriver sets the clientstream driver for runtime cache/purge access.
func (h *Handler) SetDriver(d *clientstream.Driver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.driver = d
}

// GetDriver returns the currently wired clientstream driver, or nil.
func (h *Handler) GetDriver() *clientstream.Driver {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.driver
}
