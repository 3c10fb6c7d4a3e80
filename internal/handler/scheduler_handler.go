package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/scheduler"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// SchedulerControl reads and changes scheduler settings.
type SchedulerControl interface {
	Status(ctx context.Context) (*scheduler.Status, error)
	Configure(ctx context.Context, in models.SchedulerSettings) (*models.SchedulerSettings, error)
}

// TTLSetter applies the catalog cache lifetime.
type TTLSetter interface {
	SetTTL(ttl time.Duration)
	TTL() time.Duration
}

// SchedulerRequest is the body of PUT /scheduler. Omitted fields keep their
// current value.
type SchedulerRequest struct {
	Enabled         *bool  `json:"enabled" binding:"required"`
	IntervalHours   int    `json:"interval_hours" binding:"omitempty,oneof=1 6 12 24"`
	Timezone        string `json:"timezone" binding:"omitempty,max=64"`
	BatchSize       int    `json:"batch_size" binding:"omitempty,min=1,max=500"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" binding:"omitempty,min=1,max=86400"`
}

// SchedulerResponse is the scheduler state plus the cache TTL.
type SchedulerResponse struct {
	*scheduler.Status
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

type SchedulerHandler struct {
	scheduler SchedulerControl
	ttl       TTLSetter
	log       *zap.Logger
}

func NewSchedulerHandler(s SchedulerControl, ttl TTLSetter) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: s,
		ttl:       ttl,
		log:       logger.Named("handler.scheduler"),
	}
}

// Get handles GET /scheduler.
func (h *SchedulerHandler) Get(c *gin.Context) {
	status, err := h.scheduler.Status(c.Request.Context())
	if err != nil {
		h.log.Error("failed to load scheduler status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load scheduler status")
		return
	}
	c.JSON(http.StatusOK, h.response(status))
}

// Update handles PUT /scheduler.
func (h *SchedulerHandler) Update(c *gin.Context) {
	var req SchedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}
	if req.Timezone != "" {
		if _, err := scheduler.LoadLocation(req.Timezone); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	current, err := h.scheduler.Status(ctx)
	if err != nil {
		h.log.Error("failed to load scheduler status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load scheduler status")
		return
	}

	settings := models.SchedulerSettings{
		Enabled:         *req.Enabled,
		IntervalHours:   firstNonZero(req.IntervalHours, current.IntervalHours),
		Timezone:        current.Timezone,
		BatchSize:       firstNonZero(req.BatchSize, current.BatchSize),
		CacheTTLSeconds: firstNonZero(req.CacheTTLSeconds, int(h.ttl.TTL()/time.Second)),
	}
	if req.Timezone != "" {
		settings.Timezone = req.Timezone
	}

	saved, err := h.scheduler.Configure(ctx, settings)
	if err != nil {
		h.log.Error("failed to update scheduler", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update scheduler")
		return
	}
	h.ttl.SetTTL(saved.CacheTTL(0))

	h.log.Info("scheduler settings updated",
		zap.Bool("enabled", saved.Enabled),
		zap.Int("interval_hours", saved.IntervalHours),
		zap.String("timezone", saved.Timezone))

	status, err := h.scheduler.Status(ctx)
	if err != nil {
		h.log.Error("failed to load scheduler status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load scheduler status")
		return
	}
	c.JSON(http.StatusOK, h.response(status))
}

func (h *SchedulerHandler) response(status *scheduler.Status) SchedulerResponse {
	return SchedulerResponse{
		Status:          status,
		CacheTTLSeconds: int(h.ttl.TTL() / time.Second),
	}
}

func firstNonZero(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
