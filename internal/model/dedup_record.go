package model

import "time"

// DedupRecord marks a webhook event id as seen
type DedupRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID     string    `json:"event_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	FirstSeenAt time.Time `json:"first_seen_at" gorm:"not null;index"`
}

// TableName specifies the table name for DedupRecord
func (DedupRecord) TableName() string {
	return "intake_events"
}
