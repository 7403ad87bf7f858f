package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slack-intake-go/internal/db"
	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/model"
)

// DefaultLockTimeout bounds how long a claim may hold its rows
const DefaultLockTimeout = 2 * time.Minute

// GormStore keeps the queue in the intake_queue table.
//
// On MySQL and PostgreSQL a claim is a transaction holding
// SELECT ... FOR UPDATE SKIP LOCKED row locks; the rows are released when the
// transaction ends, times out, or its connection dies. SQLite has no row
// locks, so there claims are tracked in process and their bookkeeping is
// written in one short transaction on Commit.
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
	rowLocks    bool
	now         func() time.Time

	mu      sync.Mutex
	claimed map[uint64]struct{}
}

// NewGormStore creates a new database backed queue
func NewGormStore(conn *gorm.DB, lockTimeout time.Duration) *GormStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &GormStore{
		db:          conn,
		lockTimeout: lockTimeout,
		rowLocks:    db.SupportsRowLocks(conn),
		now:         time.Now,
		claimed:     make(map[uint64]struct{}),
	}
}

// Enqueue durably inserts a pending entry
func (s *GormStore) Enqueue(ctx context.Context, item Item) (uint64, error) {
	if !json.Valid(item.Payload) {
		return 0, errs.Permanent(fmt.Errorf("payload for %s entry is not valid json", item.EntryType))
	}

	now := s.now().UTC()
	entry := model.QueueEntry{
		EntryType:      item.EntryType,
		IdempotencyKey: item.IdempotencyKey,
		Payload:        datatypes.JSON(item.Payload),
		Status:         model.QueueStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, errs.Transient("queue.enqueue", err)
	}
	return entry.ID, nil
}

func pendingQuery(tx *gorm.DB, max int) *gorm.DB {
	return tx.Where("processed_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(max)
}

// ClaimBatch claims up to max pending entries
func (s *GormStore) ClaimBatch(ctx context.Context, max int) (Claim, error) {
	if max <= 0 {
		return &stagedClaim{store: s}, nil
	}
	if !s.rowLocks {
		return s.claimInProcess(ctx, max)
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	tx := s.db.WithContext(lockCtx).Begin()
	if tx.Error != nil {
		cancel()
		return nil, errs.Transient("queue.claim", tx.Error)
	}

	if s.db.Dialector.Name() == "postgres" {
		stmt := fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", s.lockTimeout.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			tx.Rollback()
			cancel()
			return nil, errs.Transient("queue.claim", err)
		}
	}

	var entries []model.QueueEntry
	err := pendingQuery(tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}), max).
		Find(&entries).Error
	if err != nil {
		tx.Rollback()
		cancel()
		return nil, errs.Transient("queue.claim", err)
	}

	deadline, _ := lockCtx.Deadline()
	return &txClaim{tx: tx, cancel: cancel, entries: entries, now: s.now, deadline: deadline}, nil
}

func (s *GormStore) claimInProcess(ctx context.Context, max int) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := make([]uint64, 0, len(s.claimed))
	for id := range s.claimed {
		held = append(held, id)
	}

	query := s.db.WithContext(ctx)
	if len(held) > 0 {
		query = query.Where("id NOT IN ?", held)
	}

	var entries []model.QueueEntry
	if err := pendingQuery(query, max).Find(&entries).Error; err != nil {
		return nil, errs.Transient("queue.claim", err)
	}
	for _, e := range entries {
		s.claimed[e.ID] = struct{}{}
	}
	return &stagedClaim{store: s, entries: entries}, nil
}

func (s *GormStore) release(entries []model.QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		delete(s.claimed, e.ID)
	}
}

// applyOp writes one bookkeeping change. processed_at is only ever set on
// rows where it is still NULL.
func applyOp(tx *gorm.DB, o op) error {
	updates := map[string]interface{}{"updated_at": o.at}
	switch o.kind {
	case opComplete:
		updates["processed_at"] = o.at
		if o.cause == nil {
			updates["status"] = model.QueueStatusDone
		} else {
			updates["status"] = model.QueueStatusFailed
			updates["retry_count"] = gorm.Expr("retry_count + 1")
			updates["last_error"] = errorText(o.cause)
		}
	case opRetry:
		updates["retry_count"] = gorm.Expr("retry_count + 1")
		updates["last_error"] = errorText(o.cause)
	}

	result := tx.Model(&model.QueueEntry{}).
		Where("id = ? AND processed_at IS NULL", o.id).
		Updates(updates)
	if result.Error != nil {
		return errs.Transient("queue.update", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("entry %d is no longer pending", o.id)
	}
	return nil
}

type txClaim struct {
	tx       *gorm.DB
	cancel   context.CancelFunc
	entries  []model.QueueEntry
	now      func() time.Time
	deadline time.Time
	closed   bool
}

func (c *txClaim) Entries() []model.QueueEntry { return c.entries }

func (c *txClaim) Deadline() (time.Time, bool) { return c.deadline, !c.deadline.IsZero() }

func (c *txClaim) record(o op) error {
	if c.closed {
		return ErrClaimClosed
	}
	if !holds(c.entries, o.id) {
		return ErrNotClaimed
	}
	o.at = c.now().UTC()
	return applyOp(c.tx, o)
}

func (c *txClaim) Complete(_ context.Context, id uint64, cause error) error {
	return c.record(op{kind: opComplete, id: id, cause: cause})
}

func (c *txClaim) Retry(_ context.Context, id uint64, cause error) error {
	return c.record(op{kind: opRetry, id: id, cause: cause})
}

func (c *txClaim) Commit() error {
	if c.closed {
		return ErrClaimClosed
	}
	c.closed = true
	defer c.cancel()
	if err := c.tx.Commit().Error; err != nil {
		return errs.Transient("queue.commit", err)
	}
	return nil
}

func (c *txClaim) Rollback() error {
	if c.closed {
		return nil
	}
	c.closed = true
	defer c.cancel()
	if err := c.tx.Rollback().Error; err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) {
		return errs.Transient("queue.rollback", err)
	}
	return nil
}

type stagedClaim struct {
	store   *GormStore
	entries []model.QueueEntry
	ops     []op
	closed  bool
}

func (c *stagedClaim) Entries() []model.QueueEntry { return c.entries }

// Deadline is unbounded: staged bookkeeping is written on Commit
func (c *stagedClaim) Deadline() (time.Time, bool) { return time.Time{}, false }

func (c *stagedClaim) record(o op) error {
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

func (c *stagedClaim) Complete(_ context.Context, id uint64, cause error) error {
	return c.record(op{kind: opComplete, id: id, cause: cause})
}

func (c *stagedClaim) Retry(_ context.Context, id uint64, cause error) error {
	return c.record(op{kind: opRetry, id: id, cause: cause})
}

func (c *stagedClaim) Commit() error {
	if c.closed {
		return ErrClaimClosed
	}
	c.closed = true
	defer c.store.release(c.entries)

	if len(c.ops) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.store.lockTimeout)
	defer cancel()
	return c.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range c.ops {
			if err := applyOp(tx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *stagedClaim) Rollback() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.store.release(c.entries)
	return nil
}

// Get loads one entry
func (s *GormStore) Get(ctx context.Context, id uint64) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := s.db.WithContext(ctx).First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Transient("queue.get", err)
	}
	return &entry, nil
}

// List returns a page of entries, newest first, and the total match count
func (s *GormStore) List(ctx context.Context, filter Filter) ([]model.QueueEntry, int64, error) {
	filter = filter.normalize()

	query := s.db.WithContext(ctx).Model(&model.QueueEntry{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errs.Transient("queue.list", err)
	}

	var entries []model.QueueEntry
	err := query.Order("created_at DESC").Order("id DESC").
		Offset(filter.offset()).Limit(filter.Limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, errs.Transient("queue.list", err)
	}
	return entries, total, nil
}

// Requeue inserts a pending copy of a failed entry
func (s *GormStore) Requeue(ctx context.Context, id uint64) (uint64, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if entry.Status != model.QueueStatusFailed {
		return 0, ErrNotFailed
	}

	newID, err := s.Enqueue(ctx, Item{
		EntryType:      entry.EntryType,
		IdempotencyKey: entry.IdempotencyKey,
		Payload:        entry.Payload,
	})
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"entry_id":     id,
		"new_entry_id": newID,
	}).Info("Failed queue entry requeued")
	return newID, nil
}

// PendingCount counts entries not yet processed
func (s *GormStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("processed_at IS NULL").Count(&count).Error
	if err != nil {
		return 0, errs.Transient("queue.pending", err)
	}
	return count, nil
}

// PurgeProcessed deletes successfully processed entries older than before.
// Failed entries are kept for inspection.
func (s *GormStore) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", model.QueueStatusDone, before.UTC()).
		Delete(&model.QueueEntry{})
	if result.Error != nil {
		return 0, errs.Transient("queue.purge", result.Error)
	}
	return result.RowsAffected, nil
}
