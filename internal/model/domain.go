package model

import "time"

// Person is a chat participant resolved from a sender key
type Person struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SenderKey   string    `json:"sender_key" gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Person
func (Person) TableName() string {
	return "people"
}

// Listing is created from a GROUP classification or a promoted deal task
type Listing struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SourceKey    string    `json:"source_key" gorm:"type:varchar(255);not null;uniqueIndex"`
	PersonID     uint      `json:"person_id" gorm:"index"`
	GroupKey     string    `json:"group_key" gorm:"type:varchar(64)"`
	DealType     string    `json:"deal_type" gorm:"type:varchar(16)"`
	ListingType  string    `json:"listing_type" gorm:"type:varchar(16);not null"`
	Status       string    `json:"status" gorm:"type:varchar(16);not null;default:new"`
	Address      string    `json:"address" gorm:"type:varchar(512)"`
	Title        string    `json:"title" gorm:"type:varchar(255)"`
	AssigneeHint string    `json:"assignee_hint" gorm:"type:varchar(255)"`
	DueDate      string    `json:"due_date" gorm:"type:varchar(32)"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for Listing
func (Listing) TableName() string {
	return "listings"
}

// AgentTask is created from a STRAY classification
type AgentTask struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SourceKey      string    `json:"source_key" gorm:"type:varchar(255);not null;uniqueIndex"`
	PersonID       uint      `json:"person_id" gorm:"index"`
	TaskKey        string    `json:"task_key" gorm:"type:varchar(64);not null"`
	Category       string    `json:"category" gorm:"type:varchar(16);not null"`
	Title          string    `json:"title" gorm:"type:varchar(255)"`
	ListingAddress string    `json:"listing_address" gorm:"type:varchar(512)"`
	AssigneeHint   string    `json:"assignee_hint" gorm:"type:varchar(255)"`
	DueDate        string    `json:"due_date" gorm:"type:varchar(32)"`
	Status         string    `json:"status" gorm:"type:varchar(16);not null;default:open"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for AgentTask
func (AgentTask) TableName() string {
	return "agent_tasks"
}

// InfoRequest is created from an INFO_REQUEST classification
type InfoRequest struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SourceKey       string    `json:"source_key" gorm:"type:varchar(255);not null;uniqueIndex"`
	PersonID        uint      `json:"person_id" gorm:"index"`
	ConversationKey string    `json:"conversation_key" gorm:"type:varchar(255);index"`
	Question        string    `json:"question" gorm:"type:text"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName specifies the table name for InfoRequest
func (InfoRequest) TableName() string {
	return "info_requests"
}

// All returns every model managed by migrations
func All() []interface{} {
	return []interface{}{
		&DedupRecord{},
		&QueueEntry{},
		&Person{},
		&Listing{},
		&AgentTask{},
		&InfoRequest{},
	}
}
