// Package api provides the REST management API for cachegated.
// It exposes endpoints for health checks, cache statistics, configuration,
// domain filtering control, and cache purge via a Gin-based HTTP server.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/cachegate/cachegate/internal/api/handlers"
	"github.com/cachegate/cachegate/internal/api/middleware"
	"github.com/cachegate/cachegate/internal/clientstream"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/database"
	"github.com/cachegate/cachegate/internal/filtering"
)

// Server is the management REST API server.
//
// Security note: do not expose the API to untrusted networks without authentication.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	handler    *handlers.Handler
}

func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(cfg, db, logger)
	RegisterRoutes(engine, h, cfg)
	MountSPA(engine, logger)

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, httpServer: httpServer, handler: h}
}

// SetDriver wires the cache driver into the handler so /stats and /purge
// can reach live cache state. Call once the daemon has constructed its
// clientstream.Driver.
func (s *Server) SetDriver(d *clientstream.Driver) {
	s.handler.SetDriver(d)
}

// SetPolicyEngine wires the filtering policy engine into the handler so
// /filtering endpoints reflect live state.
func (s *Server) SetPolicyEngine(pe *filtering.PolicyEngine) {
	s.handler.SetPolicyEngine(pe)
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
