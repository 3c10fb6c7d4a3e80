package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// CacheAdmin is the operator view of the response cache.
type CacheAdmin interface {
	Stats() cache.Stats
	Clear()
	InvalidatePattern(prefix string) int
	SetEnabled(enabled bool)
}

type CacheHandler struct {
	cache CacheAdmin
	log   *zap.Logger
}

func NewCacheHandler(c CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: c, log: logger.Named("handler.cache")}
}

// Stats handles GET /cache/stats.
func (h *CacheHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// Flush handles DELETE /cache. With ?prefix= only matching keys are removed.
func (h *CacheHandler) Flush(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" {
		h.cache.Clear()
		h.log.Info("cache cleared")
		c.JSON(http.StatusOK, gin.H{"cleared": true})
		return
	}

	removed := h.cache.InvalidatePattern(prefix)
	h.log.Info("cache prefix invalidated", zap.String("prefix", prefix), zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"prefix": prefix, "removed": removed})
}

type cacheToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled handles PUT /cache/enabled.
func (h *CacheHandler) SetEnabled(c *gin.Context) {
	var req cacheToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	h.cache.SetEnabled(*req.Enabled)
	c.JSON(http.StatusOK, h.cache.Stats())
}
