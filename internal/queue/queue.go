// Package queue is the durable work queue between classification and
// domain ingestion.
package queue

import (
	"context"
	"errors"
	"time"

	"slack-intake-go/internal/model"
)

var (
	// ErrNotFound is returned when an entry id does not exist
	ErrNotFound = errors.New("queue entry not found")
	// ErrNotFailed is returned when requeueing an entry that has not failed
	ErrNotFailed = errors.New("queue entry has not failed")
	// ErrNotClaimed is returned when completing an entry outside the claim
	ErrNotClaimed = errors.New("queue entry not held by this claim")
	// ErrClaimClosed is returned when using a committed or rolled back claim
	ErrClaimClosed = errors.New("claim already closed")
)

// maxErrorLen bounds the stored last_error text
const maxErrorLen = 2000

// Item is a unit of work to enqueue
type Item struct {
	EntryType      string
	IdempotencyKey string
	Payload        []byte
}

// Filter selects entries for inspection
type Filter struct {
	Status string
	Page   int
	Limit  int
}

func (f Filter) normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 50
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.Limit
}

// Store persists queue entries. ClaimBatch is the only way to obtain
// entries for processing, and no caller but a Claim changes processed_at.
type Store interface {
	Enqueue(ctx context.Context, item Item) (uint64, error)
	// ClaimBatch returns up to max pending entries, oldest first, that no
	// other open claim holds. It never waits on another claimer.
	ClaimBatch(ctx context.Context, max int) (Claim, error)
	Get(ctx context.Context, id uint64) (*model.QueueEntry, error)
	List(ctx context.Context, filter Filter) ([]model.QueueEntry, int64, error)
	// Requeue copies a failed entry into a fresh pending entry
	Requeue(ctx context.Context, id uint64) (uint64, error)
	PendingCount(ctx context.Context) (int64, error)
	// PurgeProcessed deletes successfully processed entries older than before
	PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
}

// Claim holds a set of entries until Commit or Rollback. Bookkeeping
// recorded through a claim takes effect on Commit only.
type Claim interface {
	Entries() []model.QueueEntry
	// Deadline reports when the claim stops accepting bookkeeping, if ever.
	// Row locked claims expire with their transaction.
	Deadline() (time.Time, bool)
	// Complete marks the entry processed. A non-nil cause marks it
	// permanently failed and bumps its retry count.
	Complete(ctx context.Context, id uint64, cause error) error
	// Retry bumps the retry count and records cause, leaving the entry pending
	Retry(ctx context.Context, id uint64, cause error) error
	Commit() error
	Rollback() error
}

type opKind int

const (
	opComplete opKind = iota
	opRetry
)

type op struct {
	kind  opKind
	id    uint64
	cause error
	at    time.Time
}

func errorText(err error) string {
	if err == nil {
		return "retry requested"
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

// apply mutates an in-memory entry the same way the SQL updates do
func (o op) apply(e *model.QueueEntry) {
	e.UpdatedAt = o.at
	switch o.kind {
	case opComplete:
		at := o.at
		e.ProcessedAt = &at
		if o.cause == nil {
			e.Status = model.QueueStatusDone
			return
		}
		e.Status = model.QueueStatusFailed
		e.RetryCount++
		msg := errorText(o.cause)
		e.LastError = &msg
	case opRetry:
		e.RetryCount++
		msg := errorText(o.cause)
		e.LastError = &msg
	}
}

func holds(entries []model.QueueEntry, id uint64) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}
