package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports the state of an optional dependency.
type HealthChecker interface {
	IsHealthy() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db        Pinger
	publisher HealthChecker
}

// NewHealthHandler creates a new HealthHandler. publisher may be nil when
// event publishing is disabled.
func NewHealthHandler(db Pinger, publisher HealthChecker) *HealthHandler {
	return &HealthHandler{
		db:        db,
		publisher: publisher,
	}
}

// LivenessProbe checks if the application is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"time":   time.Now(),
	})
}

// ReadinessProbe checks if the application is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "DOWN",
			"database": "unhealthy",
			"error":    err.Error(),
			"time":     time.Now(),
		})
		return
	}

	body := gin.H{
		"status":   "UP",
		"database": "healthy",
		"time":     time.Now(),
	}

	// A broken publisher degrades events only; ingestion keeps working.
	if h.publisher != nil {
		if h.publisher.IsHealthy() {
			body["rabbitmq"] = "healthy"
		} else {
			body["rabbitmq"] = "unhealthy"
			body["status"] = "DEGRADED"
		}
	}

	c.JSON(http.StatusOK, body)
}
