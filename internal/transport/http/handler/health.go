package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type HealthHandler struct {
	stats   *app.StatsService
	version string
}

func NewHealthHandler(stats *app.StatsService, version string) *HealthHandler {
	return &HealthHandler{stats: stats, version: version}
}

func (h *HealthHandler) Root(c *gin.Context) {
	response.OK(c, gin.H{
		"message": "Welcome to Conversational RAG API!",
		"version": h.version,
	})
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	report := h.stats.Health(ctx)
	statusCode := http.StatusOK
	if !report.DatabaseAccessible {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

func (h *HealthHandler) CacheStats(c *gin.Context) {
	response.OK(c, h.stats.CacheStats(c.Request.Context()))
}

func (h *HealthHandler) SemanticCacheStats(c *gin.Context) {
	report, err := h.stats.SemanticCacheStats(c.Request.Context())
	if err != nil {
		if errors.Is(err, app.ErrCacheDisabled) {
			response.Error(c, http.StatusServiceUnavailable, response.CodeCacheDisabled, "Redis not connected")
			return
		}
		writeServiceError(c, err, "collect semantic cache stats failed")
		return
	}
	response.OK(c, report)
}

func (h *HealthHandler) ConnectionStats(c *gin.Context) {
	response.OK(c, h.stats.ConnectionStats(c.Request.Context()))
}
