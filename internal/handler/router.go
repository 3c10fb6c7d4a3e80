package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// Handlers groups everything the router mounts. Metrics and Auth are optional.
type Handlers struct {
	Health    *HealthHandler
	Scrape    *ScrapeHandler
	Scheduler *SchedulerHandler
	Cache     *CacheHandler
	Classify  *ClassifyHandler
	Catalog   *CatalogHandler
	Metrics   http.Handler
	Auth      gin.HandlerFunc
}

// NewRouter builds the gin engine. Health and metrics stay unauthenticated.
func NewRouter(h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health/live", h.Health.LivenessProbe)
	router.GET("/health/ready", h.Health.ReadinessProbe)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.Use(h.Auth)
	}

	api.POST("/scrape/run", h.Scrape.RunNow)
	api.GET("/jobs", h.Scrape.ListJobs)
	api.GET("/jobs/:id", h.Scrape.GetJob)

	api.GET("/scheduler", h.Scheduler.Get)
	api.PUT("/scheduler", h.Scheduler.Update)

	api.GET("/cache/stats", h.Cache.Stats)
	api.DELETE("/cache", h.Cache.Flush)
	api.PUT("/cache/enabled", h.Cache.SetEnabled)

	api.POST("/classify", h.Classify.Classify)

	api.GET("/videos", h.Catalog.ListVideos)
	api.GET("/videos/:slug", h.Catalog.GetVideo)
	api.GET("/channels", h.Catalog.ListChannels)

	return router
}

func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
