package model

import (
	"time"

	"gorm.io/datatypes"
)

// Queue entry statuses
const (
	QueueStatusPending = "pending"
	QueueStatusDone    = "done"
	QueueStatusFailed  = "failed"
)

// QueueEntry is a durable unit of deferred work. Once ProcessedAt is set it is
// never cleared and RetryCount never decreases.
type QueueEntry struct {
	ID             uint64         `json:"id" gorm:"primaryKey;autoIncrement"`
	EntryType      string         `json:"entry_type" gorm:"type:varchar(32);not null;index"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"type:varchar(255);index"`
	Payload        datatypes.JSON `json:"payload" gorm:"not null"`
	Status         string         `json:"status" gorm:"type:varchar(16);not null;default:pending;index"`
	RetryCount     int            `json:"retry_count" gorm:"not null;default:0"`
	LastError      *string        `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null;index:idx_intake_queue_claim,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty" gorm:"index:idx_intake_queue_claim,priority:1"`
}

// TableName specifies the table name for QueueEntry
func (QueueEntry) TableName() string {
	return "intake_queue"
}

// Pending reports whether the entry is still eligible for claiming
func (e *QueueEntry) Pending() bool {
	return e.ProcessedAt == nil
}
