package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/cachegate/cachegate/internal/api/models"
	"github.com/cachegate/cachegate/internal/database"
	"github.com/cachegate/cachegate/internal/reply"
)

// purgeRequest names the URL to evict from cache.
type purgeRequest struct {
	URL string `json:"url" binding:"required"`
}

// Purge godoc
// @Summary Purge a cached URL
// @Description Evicts the cached entry for a URL, mirroring an HTTP PURGE request
// @Tags cache
// @Accept json
// @Produce json
// @Param url body purgeRequest true "URL to purge"
// @Success 200 {object} models.StatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /purge [post]
func (h *Handler) Purge(c *gin.Context) {
	d := h.GetDriver()
	if d == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "cache driver not available"})
		return
	}

	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	done := make(chan reply.Response, 1)
	d.Handle(reply.Request{Method: reply.MethodPurge, URL: req.URL}, func(resp reply.Response) {
		done <- resp
	})

	var resp reply.Response
	select {
	case resp = <-done:
	case <-time.After(5 * time.Second):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "purge timed out"})
		return
	}

	if h.db != nil {
		_ = h.db.RecordPurge(c.Request.Context(), database.PurgeLogEntry{
			RequestID: c.GetHeader("X-Request-Id"),
			URL:       req.URL,
			StoreKey:  reply.StoreKey(req.URL, reply.MethodPurge),
			Method:    string(reply.MethodPurge),
			Status:    resp.Status,
		})
	}

	if h.logger != nil {
		h.logger.Info("purge requested", "url", req.URL, "status", resp.Status)
	}

	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}
