package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const maxClassifyBatch = 500

// Categorizer hands video IDs to the classification pass, in process or
// through the task queue.
type Categorizer interface {
	Categorize(ctx context.Context, ids []int64) error
}

// PendingVideos finds videos that have never been classified.
type PendingVideos interface {
	ListUnclassifiedIDs(ctx context.Context, limit int) ([]int64, error)
}

// ClassifyRequest is the body of POST /classify. Without video_ids the
// oldest unclassified videos are picked, up to limit.
type ClassifyRequest struct {
	VideoIDs []int64 `json:"video_ids" binding:"omitempty,max=500,dive,gt=0"`
	Limit    int     `json:"limit" binding:"omitempty,min=1,max=500"`
}

type ClassifyHandler struct {
	categorizer Categorizer
	pending     PendingVideos
	log         *zap.Logger
}

// NewClassifyHandler creates the handler. categorizer may be nil.
func NewClassifyHandler(categorizer Categorizer, pending PendingVideos) *ClassifyHandler {
	return &ClassifyHandler{
		categorizer: categorizer,
		pending:     pending,
		log:         logger.Named("handler.classify"),
	}
}

// Classify handles POST /classify. It answers 503 when no categorizer is
// configured.
func (h *ClassifyHandler) Classify(c *gin.Context) {
	if h.categorizer == nil {
		respondError(c, http.StatusServiceUnavailable, "classification is disabled")
		return
	}

	var req ClassifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request payload: "+err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	ids := req.VideoIDs
	if len(ids) == 0 {
		limit := req.Limit
		if limit == 0 {
			limit = defaultLimit
		}
		var err error
		ids, err = h.pending.ListUnclassifiedIDs(ctx, min(limit, maxClassifyBatch))
		if err != nil {
			h.log.Error("failed to list unclassified videos", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to list unclassified videos")
			return
		}
	}

	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"queued": 0, "video_ids": []int64{}})
		return
	}

	if err := h.categorizer.Categorize(ctx, ids); err != nil {
		h.log.Error("failed to dispatch classification", zap.Int("videos", len(ids)), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to dispatch classification")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": len(ids), "video_ids": ids})
}
