// Package drainer processes claimed queue entries and records each outcome.
package drainer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/model"
	"slack-intake-go/internal/queue"
)

// Defaults used when the drainer is built with zero values
const (
	DefaultBatchSize  = 5
	DefaultMaxRetries = 3
)

// Handler performs the work an entry describes
type Handler interface {
	Handle(ctx context.Context, entry model.QueueEntry) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, entry model.QueueEntry) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, entry model.QueueEntry) error {
	return f(ctx, entry)
}

// Result summarizes one drain cycle
type Result struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	// Deferred entries were claimed but left untouched because the claim's
	// lock window ran out; the next cycle picks them up
	Deferred int `json:"deferred"`
}

// Drainer claims batches from the queue and runs them through a handler
type Drainer struct {
	store      queue.Store
	handler    Handler
	batchSize  int
	maxRetries int
	metrics    *metrics.Metrics
}

// New creates a new drainer. maxRetries is the number of failed attempts
// after which an entry becomes terminal.
func New(store queue.Store, handler Handler, batchSize, maxRetries int, m *metrics.Metrics) *Drainer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Drainer{
		store:      store,
		handler:    handler,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		metrics:    m,
	}
}

// BatchSize returns the configured claim size
func (d *Drainer) BatchSize() int {
	return d.batchSize
}

// DrainOnce claims one batch of the default size and processes it
func (d *Drainer) DrainOnce(ctx context.Context) (Result, error) {
	return d.Drain(ctx, d.batchSize)
}

// Drain claims up to max entries and processes each. A failing entry never
// stops the others. If the outcomes cannot be recorded the whole claim is
// rolled back and its entries will be claimed again.
func (d *Drainer) Drain(ctx context.Context, max int) (Result, error) {
	var res Result
	if max <= 0 {
		max = d.batchSize
	}

	start := time.Now()
	defer func() {
		d.metrics.DrainDuration.Observe(time.Since(start).Seconds())
		d.refreshPending(ctx)
	}()

	claim, err := d.store.ClaimBatch(ctx, max)
	if err != nil {
		return res, fmt.Errorf("failed to claim queue entries: %w", err)
	}

	entries := claim.Entries()
	res.Claimed = len(entries)
	if res.Claimed == 0 {
		return res, claim.Rollback()
	}

	logrus.Infof("Draining %d queue entries", res.Claimed)

	budget := newLockBudget(claim, time.Now())
	for i, entry := range entries {
		if budget.spent(time.Now()) {
			res.Deferred = len(entries) - i
			logrus.Warnf("Claim lock window spent, leaving %d entries for the next cycle", res.Deferred)
			break
		}
		outcome, err := d.process(ctx, budget, claim, entry)
		if err != nil {
			if rbErr := claim.Rollback(); rbErr != nil {
				logrus.Errorf("Failed to roll back claim: %v", rbErr)
			}
			return Result{Claimed: res.Claimed}, fmt.Errorf("failed to record outcome for entry %d: %w", entry.ID, err)
		}
		switch outcome {
		case outcomeSuccess:
			res.Succeeded++
		case outcomeRetry:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		}
	}

	if err := claim.Commit(); err != nil {
		return Result{Claimed: res.Claimed}, fmt.Errorf("failed to commit claim: %w", err)
	}

	d.metrics.DrainOutcomes.WithLabelValues(outcomeSuccess).Add(float64(res.Succeeded))
	d.metrics.DrainOutcomes.WithLabelValues(outcomeRetry).Add(float64(res.Retried))
	d.metrics.DrainOutcomes.WithLabelValues(outcomeFailed).Add(float64(res.Failed))

	logrus.WithFields(logrus.Fields{
		"claimed":   res.Claimed,
		"succeeded": res.Succeeded,
		"retried":   res.Retried,
		"failed":    res.Failed,
		"deferred":  res.Deferred,
		"duration":  time.Since(start),
	}).Info("Drain cycle completed")
	return res, nil
}

const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
)

func (d *Drainer) process(ctx context.Context, budget lockBudget, claim queue.Claim, entry model.QueueEntry) (string, error) {
	handleCtx, cancel := budget.context(ctx)
	handleErr := d.safeHandle(handleCtx, entry)
	cancel()
	if handleErr == nil {
		return outcomeSuccess, claim.Complete(ctx, entry.ID, nil)
	}

	log := logrus.WithFields(logrus.Fields{
		"entry_id":    entry.ID,
		"entry_type":  entry.EntryType,
		"retry_count": entry.RetryCount,
	})

	if errs.IsPermanent(handleErr) || entry.RetryCount+1 >= d.maxRetries {
		log.Errorf("Queue entry failed permanently: %v", handleErr)
		return outcomeFailed, claim.Complete(ctx, entry.ID, handleErr)
	}

	log.Warnf("Queue entry failed, will retry: %v", handleErr)
	return outcomeRetry, claim.Retry(ctx, entry.ID, handleErr)
}

// maxBookkeepingReserve caps the share of a claim's lock window kept back
// for recording outcomes and committing
const maxBookkeepingReserve = 5 * time.Second

// lockBudget bounds handler time by the claim's lock window. Outcomes must
// be recorded before the claim expires or the retry count never moves.
type lockBudget struct {
	handlersDone time.Time
	bounded      bool
}

func newLockBudget(claim queue.Claim, now time.Time) lockBudget {
	deadline, ok := claim.Deadline()
	if !ok {
		return lockBudget{}
	}
	reserve := deadline.Sub(now) / 4
	if reserve > maxBookkeepingReserve {
		reserve = maxBookkeepingReserve
	}
	return lockBudget{handlersDone: deadline.Add(-reserve), bounded: true}
}

func (b lockBudget) spent(now time.Time) bool {
	return b.bounded && !now.Before(b.handlersDone)
}

func (b lockBudget) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if !b.bounded {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, b.handlersDone)
}

func (d *Drainer) safeHandle(ctx context.Context, entry model.QueueEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("entry_id", entry.ID).Errorf("Handler panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.Handle(ctx, entry)
}

func (d *Drainer) refreshPending(ctx context.Context) {
	n, err := d.store.PendingCount(ctx)
	if err != nil {
		logrus.Warnf("Failed to count pending queue entries: %v", err)
		return
	}
	d.metrics.PendingEntries.Set(float64(n))
}
