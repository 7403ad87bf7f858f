package debounce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/id"
	"slack-intake-go/internal/metrics"
)

// Flush triggers
const (
	TriggerDeadline  = "deadline"
	TriggerManual    = "manual"
	TriggerImmediate = "immediate"
)

// maxExpiredCloses bounds how often Ingest closes a due batch before giving up
const maxExpiredCloses = 3

// Sink receives closed batches. It runs off the request path.
type Sink interface {
	HandleBatch(ctx context.Context, batch Batch) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, batch Batch) error

// HandleBatch calls f
func (f SinkFunc) HandleBatch(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Buffer accumulates events per conversation and releases each batch
// exactly once, when its fixed window elapses or on an explicit flush.
type Buffer struct {
	store   BatchStore
	sink    Sink
	window  time.Duration
	now     func() time.Time
	newID   func() int64
	metrics *metrics.Metrics

	// handoffs outlive the request that produced them
	baseCtx context.Context
	wg      sync.WaitGroup
}

// Option configures a Buffer
type Option func(*Buffer)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// WithIDs overrides batch id generation
func WithIDs(newID func() int64) Option {
	return func(b *Buffer) { b.newID = newID }
}

// WithBaseContext sets the context handoffs run under
func WithBaseContext(ctx context.Context) Option {
	return func(b *Buffer) { b.baseCtx = ctx }
}

// NewBuffer creates a new debounce buffer. A zero window disables batching.
func NewBuffer(store BatchStore, sink Sink, window time.Duration, opts ...Option) *Buffer {
	b := &Buffer{
		store:   store,
		sink:    sink,
		window:  window,
		now:     time.Now,
		newID:   id.New,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = metrics.NewNop()
	}
	return b
}

// Window returns the configured debounce window
func (b *Buffer) Window() time.Duration {
	return b.window
}

// Ingest adds ev to its conversation's batch. It returns the batch only when
// the event was released immediately (zero window or no conversation key);
// otherwise the batch is released later by Tick or Flush.
func (b *Buffer) Ingest(ctx context.Context, ev Event) (*Batch, error) {
	now := b.now()

	if b.window <= 0 || ev.ConversationKey == "" {
		batch := Batch{
			ID:              b.newID(),
			ConversationKey: ev.ConversationKey,
			Events:          []Event{ev},
			OpenedAt:        now,
			Deadline:        now,
		}
		b.handoff(batch, TriggerImmediate)
		return &batch, nil
	}

	newID := b.newID()
	p, err := b.store.Append(ctx, ev.ConversationKey, ev, newID, now, b.window)
	for attempt := 0; errors.Is(err, ErrBatchExpired) && attempt < maxExpiredCloses; attempt++ {
		// the previous batch is due but the ticker has not released it yet
		if err := b.closeExpired(ctx, p); err != nil {
			return nil, errs.Transient("debounce.close", err)
		}
		p, err = b.store.Append(ctx, ev.ConversationKey, ev, newID, now, b.window)
	}
	if err != nil {
		return nil, errs.Transient("debounce.append", err)
	}

	logrus.WithFields(logrus.Fields{
		"conversation": ev.ConversationKey,
		"batch_id":     p.BatchID,
		"deadline":     p.Deadline,
	}).Debug("Event buffered")
	return nil, nil
}

func (b *Buffer) closeExpired(ctx context.Context, p Pending) error {
	batch, err := b.store.Close(ctx, p.Key, p.BatchID)
	if err != nil {
		return err
	}
	if batch != nil {
		b.handoff(*batch, TriggerDeadline)
	}
	return nil
}

// Tick releases every batch whose deadline is not after now
func (b *Buffer) Tick(ctx context.Context, now time.Time) ([]Batch, error) {
	due, err := b.store.Due(ctx, now)
	if err != nil {
		return nil, err
	}

	var flushed []Batch
	for _, p := range due {
		batch, err := b.store.Close(ctx, p.Key, p.BatchID)
		if err != nil {
			logrus.WithError(err).WithField("conversation", p.Key).Error("Failed to close batch")
			continue
		}
		if batch == nil {
			continue
		}
		b.handoff(*batch, TriggerDeadline)
		flushed = append(flushed, *batch)
	}

	b.refreshOpenGauge(ctx)
	return flushed, nil
}

// Flush releases the open batch for key ahead of its deadline.
// It returns nil when nothing was open.
func (b *Buffer) Flush(ctx context.Context, key string) (*Batch, error) {
	batch, err := b.store.Close(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	b.handoff(*batch, TriggerManual)
	b.refreshOpenGauge(ctx)
	return batch, nil
}

// OpenBatches lists the batches still accumulating
func (b *Buffer) OpenBatches(ctx context.Context) ([]Pending, error) {
	return b.store.Open(ctx)
}

// Run calls Tick every interval until ctx is cancelled
func (b *Buffer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"window":   b.window,
		"interval": interval,
	}).Info("Debounce ticker started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Debounce ticker stopped")
			return
		case <-ticker.C:
			if _, err := b.Tick(ctx, b.now()); err != nil {
				logrus.WithError(err).Error("Debounce tick failed")
			}
		}
	}
}

// Wait blocks until every handed off batch has been processed by the sink
func (b *Buffer) Wait() {
	b.wg.Wait()
}

func (b *Buffer) handoff(batch Batch, trigger string) {
	b.metrics.BatchesFlushed.WithLabelValues(trigger).Inc()
	b.metrics.BatchSize.Observe(float64(len(batch.Events)))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("batch_id", batch.ID).Errorf("Batch sink panicked: %v", r)
			}
		}()

		if err := b.sink.HandleBatch(b.baseCtx, batch); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"batch_id":     batch.ID,
				"conversation": batch.ConversationKey,
				"events":       len(batch.Events),
			}).Error("Failed to hand off batch")
		}
	}()
}

func (b *Buffer) refreshOpenGauge(ctx context.Context) {
	open, err := b.store.Open(ctx)
	if err != nil {
		return
	}
	b.metrics.OpenBatches.Set(float64(len(open)))
}
