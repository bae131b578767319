package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"notifyhub/internal/admin"
	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	"notifyhub/internal/service"
	"notifyhub/internal/store"
)

type handlers struct {
	svc *service.Service
}

func (h *handlers) submit(c *gin.Context) {
	var req model.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"notificationId": id})
}

func (h *handlers) schedule(c *gin.Context) {
	var req model.ScheduledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.svc.Schedule(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

func (h *handlers) status(c *gin.Context) {
	n, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *handlers) tracking(c *gin.Context) {
	rows, err := h.svc.Tracking(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": rows})
}

func (h *handlers) queueStats(c *gin.Context) {
	ov, err := h.svc.Admin().Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h *handlers) oneQueueStats(c *gin.Context) {
	s, err := h.svc.Admin().QueueStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) pauseQueue(c *gin.Context) {
	if err := h.svc.Admin().PauseQueue(c.Request.Context(), c.Param("name")); err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *handlers) resumeQueue(c *gin.Context) {
	if err := h.svc.Admin().ResumeQueue(c.Request.Context(), c.Param("name")); err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (h *handlers) cleanQueue(c *gin.Context) {
	grace := 24 * time.Hour
	if raw := c.Query("grace_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid grace_seconds"})
			return
		}
		grace = time.Duration(secs) * time.Second
	}

	removed, err := h.svc.Admin().CleanQueue(c.Request.Context(), c.Param("name"), grace)
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handlers) getJob(c *gin.Context) {
	info, err := h.svc.Admin().GetJob(c.Request.Context(), c.Param("name"), c.Param("jobId"))
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) cancelJob(c *gin.Context) {
	ok, err := h.svc.Admin().CancelJob(c.Request.Context(), c.Param("name"), c.Param("jobId"))
	if err != nil {
		h.adminError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *handlers) retryJob(c *gin.Context) {
	ok, err := h.svc.Admin().RetryJob(c.Request.Context(), c.Param("name"), c.Param("jobId"))
	if err != nil {
		h.adminError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not in failed set"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retried"})
}

func (h *handlers) adminError(c *gin.Context, err error) {
	if errors.Is(err, admin.ErrUnknownQueue) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
