// Package retention removes dedup records and processed queue entries
// that have aged past their horizon.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/dedup"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/queue"
)

// Result reports how many rows a sweep removed
type Result struct {
	DedupRecords int64 `json:"dedup_records"`
	QueueEntries int64 `json:"queue_entries"`
}

// Sweeper purges expired rows
type Sweeper struct {
	dedup            dedup.Store
	queue            queue.Store
	dedupHorizon     time.Duration
	processedHorizon time.Duration
	metrics          *metrics.Metrics
}

// NewSweeper creates a new retention sweeper. A zero horizon disables the
// corresponding purge.
func NewSweeper(d dedup.Store, q queue.Store, dedupHorizon, processedHorizon time.Duration, m *metrics.Metrics) *Sweeper {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Sweeper{
		dedup:            d,
		queue:            q,
		dedupHorizon:     dedupHorizon,
		processedHorizon: processedHorizon,
		metrics:          m,
	}
}

// Sweep deletes dedup records first seen before now-dedupHorizon and
// successfully processed entries older than now-processedHorizon
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	if s.dedupHorizon > 0 {
		n, err := s.dedup.Purge(ctx, now.Add(-s.dedupHorizon))
		if err != nil {
			return res, fmt.Errorf("failed to purge dedup records: %w", err)
		}
		res.DedupRecords = n
		s.metrics.RetentionPurged.WithLabelValues("intake_events").Add(float64(n))
	}

	if s.processedHorizon > 0 {
		n, err := s.queue.PurgeProcessed(ctx, now.Add(-s.processedHorizon))
		if err != nil {
			return res, fmt.Errorf("failed to purge processed entries: %w", err)
		}
		res.QueueEntries = n
		s.metrics.RetentionPurged.WithLabelValues("intake_queue").Add(float64(n))
	}

	logrus.WithFields(logrus.Fields{
		"dedup_records": res.DedupRecords,
		"queue_entries": res.QueueEntries,
	}).Info("Retention sweep completed")
	return res, nil
}
