package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetDebounceStatus lists the batches still accumulating
func (h *Handlers) GetDebounceStatus(c *gin.Context) {
	open, err := h.buffer.OpenBatches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: "Failed to list open batches",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	batches := make([]PendingBatchResponse, 0, len(open))
	for _, p := range open {
		batches = append(batches, PendingBatchResponse{
			ConversationKey: p.Key,
			BatchID:         p.BatchID,
			Deadline:        p.Deadline,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"window_seconds": int(h.buffer.Window().Seconds()),
		"open_batches":   batches,
		"count":          len(batches),
	})
}

// FlushBatch releases a conversation's open batch ahead of its deadline
func (h *Handlers) FlushBatch(c *gin.Context) {
	key := c.Param("key")

	batch, err := h.buffer.Flush(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: "Failed to flush batch",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if batch == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No open batch for conversation",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Batch flushed successfully",
		"batch_id": batch.ID,
		"events":   len(batch.Events),
	})
}
