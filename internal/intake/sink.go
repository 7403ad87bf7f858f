package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/debounce"
	"slack-intake-go/internal/dedup"
	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/queue"
)

// Enqueue retry defaults
const (
	DefaultEnqueueTries    = 5
	DefaultEnqueueInterval = 500 * time.Millisecond
	maxEnqueueInterval     = 10 * time.Second
)

// FlushSink classifies released batches and enqueues the resulting work.
// A batch whose classification fails is enqueued unclassified so the
// drainer retries it under the retry ceiling.
type FlushSink struct {
	classifier    classify.Classifier
	queue         queue.Store
	minConfidence float64
	metrics       *metrics.Metrics
	now           func() time.Time

	tries    uint
	interval time.Duration
	dedup    dedup.Store
}

// SinkOption configures a FlushSink
type SinkOption func(*FlushSink)

// WithEnqueueRetry sets how often a failed enqueue is attempted and the
// first backoff interval
func WithEnqueueRetry(tries uint, interval time.Duration) SinkOption {
	return func(s *FlushSink) {
		s.tries = tries
		s.interval = interval
	}
}

// WithDedupRelease forgets the event ids of a batch that could not be
// enqueued, so Slack redeliveries of those events are accepted again
func WithDedupRelease(store dedup.Store) SinkOption {
	return func(s *FlushSink) { s.dedup = store }
}

// NewFlushSink creates a new flush sink
func NewFlushSink(c classify.Classifier, q queue.Store, minConfidence float64, m *metrics.Metrics, opts ...SinkOption) *FlushSink {
	if m == nil {
		m = metrics.NewNop()
	}
	s := &FlushSink{
		classifier:    c,
		queue:         q,
		minConfidence: minConfidence,
		metrics:       m,
		now:           time.Now,
		tries:         DefaultEnqueueTries,
		interval:      DefaultEnqueueInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tries == 0 {
		s.tries = 1
	}
	return s
}

// HandleBatch implements debounce.Sink
func (s *FlushSink) HandleBatch(ctx context.Context, batch debounce.Batch) error {
	log := logrus.WithFields(logrus.Fields{
		"batch_id":     batch.ID,
		"conversation": batch.ConversationKey,
		"events":       len(batch.Events),
	})

	result, err := classifyBatch(ctx, s.classifier, batch, s.metrics)
	if err != nil {
		log.Warnf("Classification failed, deferring batch to the queue: %v", err)
		payload, mErr := json.Marshal(batch)
		if mErr != nil {
			return fmt.Errorf("failed to encode batch: %w", mErr)
		}
		return s.enqueue(ctx, batch, EntryBatch, IdempotencyKey(batch), payload)
	}

	if !classify.Actionable(result, s.minConfidence) {
		log.WithFields(logrus.Fields{
			"kind":       result.Kind(),
			"confidence": result.Score(),
		}).Info("Batch not actionable, skipping")
		return nil
	}

	item := newWorkItem(batch, result, s.now())
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode work item: %w", err)
	}
	if err := s.enqueue(ctx, batch, EntryClassified, item.IdempotencyKey, payload); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"kind":            result.Kind(),
		"confidence":      result.Score(),
		"idempotency_key": item.IdempotencyKey,
	}).Info("Batch classified and enqueued")
	return nil
}

// enqueue writes the entry, retrying transient store failures with
// exponential backoff. When every attempt fails the batch is released.
func (s *FlushSink) enqueue(ctx context.Context, batch debounce.Batch, entryType, key string, payload []byte) error {
	item := queue.Item{EntryType: entryType, IdempotencyKey: key, Payload: payload}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	b.MaxInterval = maxEnqueueInterval

	_, err := backoff.Retry(ctx, func() (uint64, error) {
		id, err := s.queue.Enqueue(ctx, item)
		if err != nil && errs.IsPermanent(err) {
			return 0, backoff.Permanent(err)
		}
		return id, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logrus.WithError(err).WithFields(logrus.Fields{
				"batch_id":   batch.ID,
				"entry_type": entryType,
				"wait":       wait,
			}).Warn("Enqueue failed, retrying")
		}),
	)
	if err != nil {
		s.metrics.HandoffFailures.Inc()
		s.release(ctx, batch)
		return fmt.Errorf("failed to enqueue %s entry: %w", entryType, err)
	}
	s.metrics.EntriesEnqueued.WithLabelValues(entryType).Inc()
	return nil
}

// release forgets the batch's events in the dedup store
func (s *FlushSink) release(ctx context.Context, batch debounce.Batch) {
	ids := make([]string, 0, len(batch.Events))
	for _, ev := range batch.Events {
		ids = append(ids, ev.ID)
	}
	log := logrus.WithFields(logrus.Fields{
		"batch_id":     batch.ID,
		"conversation": batch.ConversationKey,
		"event_ids":    ids,
	})
	if s.dedup == nil {
		log.Error("Batch dropped after enqueue retries")
		return
	}

	for _, id := range ids {
		if err := s.dedup.Forget(ctx, id); err != nil {
			log.WithError(err).WithField("event_id", id).Error("Failed to forget event of dropped batch")
		}
	}
	log.Error("Batch dropped after enqueue retries, events released for redelivery")
}

// classifyBatch runs the classifier and records its metrics
func classifyBatch(ctx context.Context, c classify.Classifier, batch debounce.Batch, m *metrics.Metrics) (classify.Result, error) {
	start := time.Now()
	result, err := c.Classify(ctx, classifierInput(batch))
	m.ClassificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.ClassificationFailures.Inc()
		return nil, err
	}
	m.ClassificationResults.WithLabelValues(string(result.Kind())).Inc()
	return result, nil
}
