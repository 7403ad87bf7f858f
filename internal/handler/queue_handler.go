package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"slack-intake-go/internal/model"
	"slack-intake-go/internal/queue"
)

// GetQueueEntries returns queue entries with pagination
func (h *Handlers) GetQueueEntries(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	switch status {
	case "", model.QueueStatusPending, model.QueueStatusDone, model.QueueStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_status",
			Message: "Status must be pending, done or failed",
			Code:    http.StatusBadRequest,
		})
		return
	}

	entries, total, err := h.queue.List(c.Request.Context(), queue.Filter{Status: status, Page: page, Limit: limit})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch queue entries",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]QueueEntryResponse, 0, len(entries))
	for _, e := range entries {
		responses = append(responses, newQueueEntryResponse(e, false))
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetQueueEntry returns a specific queue entry with its payload
func (h *Handlers) GetQueueEntry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	entry, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Queue entry not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch queue entry",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, newQueueEntryResponse(*entry, true))
}

// RequeueEntry retries a permanently failed entry as a new pending entry
func (h *Handlers) RequeueEntry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	newID, err := h.queue.Requeue(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Queue entry not found",
				Code:    http.StatusNotFound,
			})
		case errors.Is(err, queue.ErrNotFailed):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "not_failed",
				Message: "Only failed entries can be requeued",
				Code:    http.StatusConflict,
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "database_error",
				Message: "Failed to requeue entry",
				Code:    http.StatusInternalServerError,
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Entry requeued successfully",
		"id":       newID,
		"original": id,
	})
}

// ProcessQueue runs one drain cycle
func (h *Handlers) ProcessQueue(c *gin.Context) {
	maxMessages, err := strconv.Atoi(c.DefaultQuery("max_messages", strconv.Itoa(h.drainer.BatchSize())))
	if err != nil || maxMessages < 1 || maxMessages > 100 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_max_messages",
			Message: "max_messages must be between 1 and 100",
			Code:    http.StatusBadRequest,
		})
		return
	}

	res, err := h.drainer.Drain(c.Request.Context(), maxMessages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "drain_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"processed":    res.Claimed,
		"max_messages": maxMessages,
		"result":       res,
	})
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid entry ID",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return id, true
}
