package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/scheduler"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// ScrapeRunner starts scrape runs in the background.
type ScrapeRunner interface {
	Trigger(ctx context.Context, trigger models.JobType) (uuid.UUID, error)
}

// JobReader reads job progress records.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	Active(ctx context.Context) (*models.ScrapeJob, error)
	List(ctx context.Context, limit, offset int) ([]*models.ScrapeJob, error)
}

// ScrapeHandler exposes manual runs and job progress.
type ScrapeHandler struct {
	runner ScrapeRunner
	jobs   JobReader
	log    *zap.Logger
}

func NewScrapeHandler(runner ScrapeRunner, jobs JobReader) *ScrapeHandler {
	return &ScrapeHandler{
		runner: runner,
		jobs:   jobs,
		log:    logger.Named("handler.scrape"),
	}
}

// RunNow handles POST /scrape/run.
func (h *ScrapeHandler) RunNow(c *gin.Context) {
	jobID, err := h.runner.Trigger(c.Request.Context(), models.JobTypeManual)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		respondError(c, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error("failed to start manual run", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to start scrape run")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": models.JobStatusRunning,
	})
}

// GetJob handles GET /jobs/:id.
func (h *ScrapeHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if db.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load job", zap.String("job_id", id.String()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load job")
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /jobs. ?active=true returns only the running job.
func (h *ScrapeHandler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("active") == "true" {
		job, err := h.jobs.Active(ctx)
		if err != nil {
			h.log.Error("failed to load active job", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to load active job")
			return
		}
		items := []*models.ScrapeJob{}
		if job != nil {
			items = append(items, job)
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
		return
	}

	limit, offset := parseLimit(c), parseOffset(c)
	jobs, err := h.jobs.List(ctx, limit, offset)
	if err != nil {
		h.log.Error("failed to list jobs", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.ScrapeJob{}
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  jobs,
		"count":  len(jobs),
		"limit":  limit,
		"offset": offset,
	})
}
