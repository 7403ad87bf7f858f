package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/model"
)

// MemoryStore is an in-process queue with the same claim semantics as
// GormStore. Entries do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*model.QueueEntry
	claimed map[uint64]struct{}
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory queue
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uint64]*model.QueueEntry),
		claimed: make(map[uint64]struct{}),
		now:     time.Now,
	}
}

// Enqueue appends a pending entry
func (s *MemoryStore) Enqueue(_ context.Context, item Item) (uint64, error) {
	if !json.Valid(item.Payload) {
		return 0, errs.Permanent(fmt.Errorf("payload for %s entry is not valid json", item.EntryType))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	s.entries[s.nextID] = &model.QueueEntry{
		ID:             s.nextID,
		EntryType:      item.EntryType,
		IdempotencyKey: item.IdempotencyKey,
		Payload:        datatypes.JSON(append([]byte(nil), item.Payload...)),
		Status:         model.QueueStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.nextID, nil
}

func (s *MemoryStore) sorted() []*model.QueueEntry {
	all := make([]*model.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// ClaimBatch claims up to max pending entries not held by another claim
func (s *MemoryStore) ClaimBatch(_ context.Context, max int) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []model.QueueEntry
	for _, e := range s.sorted() {
		if len(entries) >= max {
			break
		}
		if e.ProcessedAt != nil {
			continue
		}
		if _, held := s.claimed[e.ID]; held {
			continue
		}
		s.claimed[e.ID] = struct{}{}
		entries = append(entries, *e)
	}
	return &memoryClaim{store: s, entries: entries}, nil
}

type memoryClaim struct {
	store   *MemoryStore
	entries []model.QueueEntry
	ops     []op
	closed  bool
}

func (c *memoryClaim) Entries() []model.QueueEntry { return c.entries }

func (c *memoryClaim) Deadline() (time.Time, bool) { return time.Time{}, false }

func (c *memoryClaim) record(o op) error {
	if c.closed {
		return ErrClaimClosed
	}
	if !holds(c.entries, o.id) {
		return ErrNotClaimed
	}
	o.at = c.store.now().UTC()
	c.ops = append(c.ops, o)
	return nil
}

func (c *memoryClaim) Complete(_ context.Context, id uint64, cause error) error {
	return c.record(op{kind: opComplete, id: id, cause: cause})
}

func (c *memoryClaim) Retry(_ context.Context, id uint64, cause error) error {
	return c.record(op{kind: opRetry, id: id, cause: cause})
}

func (c *memoryClaim) Commit() error {
	if c.closed {
		return ErrClaimClosed
	}
	c.closed = true

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range c.ops {
		if e, ok := s.entries[o.id]; ok && e.ProcessedAt == nil {
			o.apply(e)
		}
	}
	for _, e := range c.entries {
		delete(s.claimed, e.ID)
	}
	return nil
}

func (c *memoryClaim) Rollback() error {
	if c.closed {
		return nil
	}
	c.closed = true

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range c.entries {
		delete(s.claimed, e.ID)
	}
	return nil
}

// Get returns a copy of one entry
func (s *MemoryStore) Get(_ context.Context, id uint64) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// List returns a page of entries, newest first
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]model.QueueEntry, int64, error) {
	filter = filter.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sorted()
	var matched []model.QueueEntry
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Status == "" || all[i].Status == filter.Status {
			matched = append(matched, *all[i])
		}
	}

	total := int64(len(matched))
	start := filter.offset()
	if start >= len(matched) {
		return []model.QueueEntry{}, total, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// Requeue inserts a pending copy of a failed entry
func (s *MemoryStore) Requeue(ctx context.Context, id uint64) (uint64, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if e.Status != model.QueueStatusFailed {
		return 0, ErrNotFailed
	}
	return s.Enqueue(ctx, Item{EntryType: e.EntryType, IdempotencyKey: e.IdempotencyKey, Payload: e.Payload})
}

// PendingCount counts entries not yet processed
func (s *MemoryStore) PendingCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.entries {
		if e.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

// PurgeProcessed deletes successfully processed entries older than before
func (s *MemoryStore) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.entries {
		if e.Status == model.QueueStatusDone && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}
