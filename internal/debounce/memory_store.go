package debounce

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	stateOpen int32 = iota
	stateClosed
)

type memBatch struct {
	state    atomic.Int32
	id       int64
	key      string
	openedAt time.Time
	deadline time.Time
	events   []Event
}

// MemoryStore keeps open batches in process memory. Only one buffering
// process may own a given conversation key.
type MemoryStore struct {
	mu   sync.Mutex
	open map[string]*memBatch
}

// NewMemoryStore creates an empty in-process batch store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{open: make(map[string]*memBatch)}
}

// Append adds ev to the open batch for key
func (s *MemoryStore) Append(_ context.Context, key string, ev Event, newID int64, now time.Time, window time.Duration) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.open[key]
	if ok && b.state.Load() == stateOpen && !b.deadline.After(now) {
		return Pending{Key: key, BatchID: b.id, Deadline: b.deadline}, ErrBatchExpired
	}
	if !ok || b.state.Load() != stateOpen {
		b = &memBatch{id: newID, key: key, openedAt: now, deadline: now.Add(window)}
		s.open[key] = b
	}
	b.events = append(b.events, ev)
	return Pending{Key: key, BatchID: b.id, Deadline: b.deadline}, nil
}

// Due lists open batches whose deadline has passed
func (s *MemoryStore) Due(_ context.Context, now time.Time) ([]Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Pending
	for key, b := range s.open {
		if b.state.Load() == stateOpen && !b.deadline.After(now) {
			due = append(due, Pending{Key: key, BatchID: b.id, Deadline: b.deadline})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	return due, nil
}

// Close flips the batch state with a compare-and-swap; only the winner
// detaches the batch and receives its events.
func (s *MemoryStore) Close(_ context.Context, key string, batchID int64) (*Batch, error) {
	s.mu.Lock()
	b, ok := s.open[key]
	s.mu.Unlock()
	if !ok || (batchID != 0 && b.id != batchID) {
		return nil, nil
	}

	if !b.state.CompareAndSwap(stateOpen, stateClosed) {
		return nil, nil
	}

	s.mu.Lock()
	if s.open[key] == b {
		delete(s.open, key)
	}
	events := b.events
	b.events = nil
	s.mu.Unlock()

	return &Batch{
		ID:              b.id,
		ConversationKey: key,
		Events:          events,
		OpenedAt:        b.openedAt,
		Deadline:        b.deadline,
	}, nil
}

// Open lists every open batch
func (s *MemoryStore) Open(_ context.Context) ([]Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]Pending, 0, len(s.open))
	for key, b := range s.open {
		if b.state.Load() == stateOpen {
			open = append(open, Pending{Key: key, BatchID: b.id, Deadline: b.deadline})
		}
	}
	return open, nil
}
