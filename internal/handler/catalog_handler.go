package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/catalog"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// Catalog is the cached read side.
type Catalog interface {
	ListVideos(ctx context.Context, filters models.VideoFilters) ([]*models.Video, error)
	GetVideoBySlug(ctx context.Context, slug string) (*models.Video, error)
	ListChannels(ctx context.Context, limit, offset int) ([]*models.Channel, error)
}

type CatalogHandler struct {
	catalog Catalog
	log     *zap.Logger
}

func NewCatalogHandler(c Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: c, log: logger.Named("handler.catalog")}
}

// ListVideos handles GET /videos.
func (h *CatalogHandler) ListVideos(c *gin.Context) {
	filters := models.VideoFilters{
		Category: c.Query("category"),
		Limit:    parseLimit(c),
		Offset:   parseOffset(c),
	}

	if raw := c.Query("channel_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(c, http.StatusBadRequest, "invalid channel_id")
			return
		}
		filters.ChannelID = id
	}

	switch ct := models.ContentType(c.Query("content_type")); ct {
	case "", models.ContentRegular, models.ContentYouTubeShort, models.ContentTikTok:
		filters.ContentType = ct
	default:
		respondError(c, http.StatusBadRequest, "invalid content_type")
		return
	}

	videos, err := h.catalog.ListVideos(c.Request.Context(), filters)
	if err != nil {
		h.log.Error("failed to list videos", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list videos")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  videos,
		"count":  len(videos),
		"limit":  filters.Limit,
		"offset": filters.Offset,
	})
}

// GetVideo handles GET /videos/:slug.
func (h *CatalogHandler) GetVideo(c *gin.Context) {
	video, err := h.catalog.GetVideoBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, catalog.ErrVideoNotFound) {
		respondError(c, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load video", zap.String("slug", c.Param("slug")), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load video")
		return
	}
	c.JSON(http.StatusOK, video)
}

// ListChannels handles GET /channels.
func (h *CatalogHandler) ListChannels(c *gin.Context) {
	limit, offset := parseLimit(c), parseOffset(c)
	channels, err := h.catalog.ListChannels(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error("failed to list channels", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list channels")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  channels,
		"count":  len(channels),
		"limit":  limit,
		"offset": offset,
	})
}
