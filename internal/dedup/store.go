// Package dedup records which webhook events have already been accepted.
package dedup

import (
	"context"
	"time"
)

// Outcome is the result of recording an event id
type Outcome int

const (
	// Accepted means the id was unseen and is now recorded
	Accepted Outcome = iota
	// Duplicate means the id had already been recorded
	Duplicate
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "accepted"
}

// Store is an insert-if-absent set of event ids. Implementations must be
// safe for concurrent use across processes: at most one concurrent Accept
// for the same id may return Accepted.
type Store interface {
	// Accept atomically records eventID. Store failures wrap errs.ErrTransientStore.
	Accept(ctx context.Context, eventID string) (Outcome, error)
	// Forget removes eventID so a redelivery is accepted again
	Forget(ctx context.Context, eventID string) error
	// Purge deletes records first seen before the given time
	Purge(ctx context.Context, before time.Time) (int64, error)
}
