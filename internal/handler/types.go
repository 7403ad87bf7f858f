package handler

import (
	"encoding/json"
	"strconv"
	"time"

	"slack-intake-go/internal/model"
)

// QueueEntryResponse represents the response structure for queue entries
type QueueEntryResponse struct {
	ID             uint64          `json:"id"`
	EntryType      string          `json:"entry_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         string          `json:"status"`
	RetryCount     int             `json:"retry_count"`
	LastError      *string         `json:"last_error"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at"`
}

// PendingBatchResponse describes an open debounce batch
type PendingBatchResponse struct {
	ConversationKey string    `json:"conversation_key"`
	BatchID         int64     `json:"batch_id"`
	Deadline        time.Time `json:"deadline"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Redis     string            `json:"redis"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func newQueueEntryResponse(e model.QueueEntry, withPayload bool) QueueEntryResponse {
	resp := QueueEntryResponse{
		ID:             e.ID,
		EntryType:      e.EntryType,
		IdempotencyKey: e.IdempotencyKey,
		Status:         e.Status,
		RetryCount:     e.RetryCount,
		LastError:      e.LastError,
		CreatedAt:      e.CreatedAt,
		ProcessedAt:    e.ProcessedAt,
	}
	if withPayload {
		resp.Payload = json.RawMessage(e.Payload)
	}
	return resp
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
