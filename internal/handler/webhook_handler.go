package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/intake"
)

// maxBodyBytes caps webhook bodies; Slack payloads are far smaller
const maxBodyBytes = 1 << 20

// SlackEvents receives Slack Events API callbacks. It acknowledges within
// the request: accepted and duplicate events both get 200 so Slack stops
// redelivering, and only store failures return 5xx.
func (h *Handlers) SlackEvents(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "payload_too_large",
				Message: "Request body too large",
				Code:    http.StatusRequestEntityTooLarge,
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to read request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	resp, err := h.service.HandleWebhook(c.Request.Context(), body, c.Request.Header)
	if err != nil {
		switch {
		case errs.IsAuth(err):
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_signature",
				Message: "Request signature verification failed",
				Code:    http.StatusUnauthorized,
			})
		case errors.Is(err, intake.ErrMalformed):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Request body is not valid JSON",
				Code:    http.StatusBadRequest,
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to process event",
				Code:    http.StatusInternalServerError,
			})
		}
		return
	}

	switch resp.Outcome {
	case intake.OutcomeChallenge:
		c.JSON(http.StatusOK, gin.H{"challenge": resp.Challenge})
	case intake.OutcomeDuplicate:
		c.Header("X-Slack-Ignored-Retry", "true")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
