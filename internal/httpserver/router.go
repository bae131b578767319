// Package httpserver is the operator surface: health probes, Prometheus
// metrics, the submission API, and queue administration.
package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyhub/internal/service"
)

// Pinger reports storage readiness; pgxpool.Pool satisfies it. A nil pinger
// makes /readyz unconditional.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(svc *service.Service, db Pinger, jwtSecret string) *Router {
	r := gin.Default()
	h := &handlers{svc: svc}

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if db == nil {
			c.JSON(200, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/notifications", h.submit)
		api.POST("/notifications/schedule", h.schedule)
		api.GET("/notifications/:id", h.status)
		api.GET("/notifications/:id/tracking", h.tracking)

		api.GET("/queues/stats", h.queueStats)
		api.GET("/queues/:name/stats", h.oneQueueStats)
		api.POST("/queues/:name/pause", h.pauseQueue)
		api.POST("/queues/:name/resume", h.resumeQueue)
		api.POST("/queues/:name/clean", h.cleanQueue)
		api.GET("/queues/:name/jobs/:jobId", h.getJob)
		api.POST("/queues/:name/jobs/:jobId/cancel", h.cancelJob)
		api.POST("/queues/:name/jobs/:jobId/retry", h.retryJob)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
