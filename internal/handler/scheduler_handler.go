package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/scheduler"
)

// SchedulerResponse describes the drain schedule next to the backlog it works on
type SchedulerResponse struct {
	Message        string           `json:"message,omitempty"`
	Scheduler      scheduler.Status `json:"scheduler"`
	PendingEntries *int64           `json:"pending_entries,omitempty"`
	OpenBatches    *int             `json:"open_batches,omitempty"`
}

func (h *Handlers) schedulerResponse(c *gin.Context, message string) SchedulerResponse {
	ctx := c.Request.Context()
	resp := SchedulerResponse{Message: message, Scheduler: h.scheduler.Status()}

	if pending, err := h.queue.PendingCount(ctx); err == nil {
		resp.PendingEntries = &pending
	} else {
		logrus.WithError(err).Warn("Failed to count pending entries")
	}
	if open, err := h.buffer.OpenBatches(ctx); err == nil {
		n := len(open)
		resp.OpenBatches = &n
	} else {
		logrus.WithError(err).Warn("Failed to list open batches")
	}
	return resp
}

// StartScheduler resumes periodic draining and retention sweeps
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "scheduler_running",
				Message: "Queue drain is already scheduled",
				Code:    http.StatusConflict,
			})
			return
		}
		logrus.WithError(err).Error("Failed to start scheduler")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to schedule queue drain",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, h.schedulerResponse(c, "Queue drain scheduled"))
}

// StopScheduler pauses periodic draining. Queued entries stay pending and
// ingest keeps accepting events.
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		logrus.WithError(err).Error("Failed to stop scheduler")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to pause queue drain",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, h.schedulerResponse(c, "Queue drain paused, pending entries stay queued"))
}

// RunOnce drains one batch of the queue now, whether or not the scheduler runs
func (h *Handlers) RunOnce(c *gin.Context) {
	res, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "drain_error",
			Message: "Failed to drain queue",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	resp := h.schedulerResponse(c, "Queue drain completed")
	c.JSON(http.StatusOK, gin.H{
		"result":          res,
		"scheduler":       resp.Scheduler,
		"pending_entries": resp.PendingEntries,
	})
}

// GetSchedulerStatus reports the next drain and sweep, the last drain and the backlog
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.schedulerResponse(c, ""))
}
