package api

import (
	"github.com/gin-gonic/gin"
	"github.com/cachegate/cachegate/internal/api/handlers"
	"github.com/cachegate/cachegate/internal/api/middleware"
	"github.com/cachegate/cachegate/internal/config"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)

	api.GET("/config", h.GetConfig)
	api.PUT("/config", h.PutConfig)
	api.POST("/config/reload", h.ReloadConfig)

	api.GET("/filtering/whitelist", h.GetWhitelist)
	api.POST("/filtering/whitelist", h.AddWhitelist)
	api.DELETE("/filtering/whitelist", h.RemoveWhitelist)

	api.GET("/filtering/blacklist", h.GetBlacklist)
	api.POST("/filtering/blacklist", h.AddBlacklist)
	api.DELETE("/filtering/blacklist", h.RemoveBlacklist)

	api.GET("/filtering/stats", h.FilteringStats)
	api.PUT("/filtering/enabled", h.SetFilteringEnabled)

	api.GET("/filtering/blocklists", h.GetBlocklists)
	api.PUT("/filtering/blocklists/:name/enabled", h.SetBlocklistEnabled)
	api.POST("/filtering/blocklists/:name/refresh", h.RefreshBlocklist)

	api.POST("/purge", h.Purge)
}
