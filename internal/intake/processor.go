package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/debounce"
	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/model"
)

// Processor handles drained queue entries
type Processor struct {
	classifier    classify.Classifier
	ingestor      Ingestor
	minConfidence float64
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewProcessor creates a new queue entry processor
func NewProcessor(c classify.Classifier, ingestor Ingestor, minConfidence float64, m *metrics.Metrics) *Processor {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Processor{classifier: c, ingestor: ingestor, minConfidence: minConfidence, metrics: m, now: time.Now}
}

// Handle implements drainer.Handler. Payloads that cannot be decoded and
// unknown entry types are permanent failures.
func (p *Processor) Handle(ctx context.Context, entry model.QueueEntry) error {
	switch entry.EntryType {
	case EntryClassified:
		var item WorkItem
		if err := json.Unmarshal(entry.Payload, &item); err != nil {
			return errs.Permanent(fmt.Errorf("invalid work item: %w", err))
		}
		result, err := item.Classification.Result()
		if err != nil {
			return errs.Permanent(fmt.Errorf("invalid classification: %w", err))
		}
		return p.ingest(ctx, item, result)

	case EntryBatch:
		var batch debounce.Batch
		if err := json.Unmarshal(entry.Payload, &batch); err != nil {
			return errs.Permanent(fmt.Errorf("invalid batch: %w", err))
		}
		result, err := classifyBatch(ctx, p.classifier, batch, p.metrics)
		if err != nil {
			return err
		}
		if !classify.Actionable(result, p.minConfidence) {
			logrus.WithFields(logrus.Fields{
				"entry_id": entry.ID,
				"kind":     result.Kind(),
			}).Info("Deferred batch not actionable, skipping")
			return nil
		}
		return p.ingest(ctx, newWorkItem(batch, result, p.now()), result)

	default:
		return errs.Permanent(fmt.Errorf("unknown entry type %q", entry.EntryType))
	}
}

func (p *Processor) ingest(ctx context.Context, item WorkItem, result classify.Result) error {
	if err := p.ingestor.Ingest(ctx, item, result); err != nil {
		return fmt.Errorf("failed to ingest %s: %w", item.IdempotencyKey, err)
	}
	return nil
}
