// Package debounce groups bursts of messages from one conversation into a
// single batch that is released once a fixed window has elapsed.
package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrBatchExpired is returned by Append when the open batch for the key has
// reached its deadline but has not been closed yet
var ErrBatchExpired = errors.New("debounce: open batch is past its deadline")

// Event is a verified, deduplicated inbound message
type Event struct {
	ID              string          `json:"id"`
	ConversationKey string          `json:"conversation_key"`
	SenderKey       string          `json:"sender_key"`
	MessageTS       string          `json:"message_ts"`
	Timestamp       time.Time       `json:"timestamp"`
	Type            string          `json:"type"`
	Text            string          `json:"text"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Batch is the set of events released together for one conversation
type Batch struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Events          []Event   `json:"events"`
	OpenedAt        time.Time `json:"opened_at"`
	Deadline        time.Time `json:"deadline"`
}

// Pending identifies an open batch
type Pending struct {
	Key      string
	BatchID  int64
	Deadline time.Time
}

// BatchStore holds open batches. Close is the only transition out of the
// open state and must succeed for at most one caller per batch.
type BatchStore interface {
	// Append adds ev to the open batch for key, opening one with id newID and
	// deadline now+window when none is open. The deadline of an existing batch
	// is never changed. An open batch whose deadline is not after now accepts
	// no more events: Append returns it with ErrBatchExpired instead.
	Append(ctx context.Context, key string, ev Event, newID int64, now time.Time, window time.Duration) (Pending, error)
	// Due lists open batches whose deadline is not after now
	Due(ctx context.Context, now time.Time) ([]Pending, error)
	// Close transitions the batch from open to closed and returns its contents.
	// batchID 0 closes whatever batch is open for key. A nil batch means
	// another caller already closed it or nothing was open.
	Close(ctx context.Context, key string, batchID int64) (*Batch, error)
	// Open lists every open batch
	Open(ctx context.Context) ([]Pending, error)
}
