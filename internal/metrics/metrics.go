package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	WebhookRequests        *prometheus.CounterVec
	DuplicateEvents        prometheus.Counter
	BatchesFlushed         *prometheus.CounterVec
	BatchSize              prometheus.Histogram
	OpenBatches            prometheus.Gauge
	ClassificationDuration prometheus.Histogram
	ClassificationFailures prometheus.Counter
	ClassificationResults  *prometheus.CounterVec
	EntriesEnqueued        *prometheus.CounterVec
	HandoffFailures        prometheus.Counter
	DrainOutcomes          *prometheus.CounterVec
	DrainDuration          prometheus.Histogram
	PendingEntries         prometheus.Gauge
	RetentionPurged        *prometheus.CounterVec
}

// NewMetrics registers the service metrics with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_intake_webhook_requests_total",
			Help: "Webhook requests by outcome",
		}, []string{"outcome"}),
		DuplicateEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "slack_intake_duplicate_events_total",
			Help: "Redelivered events dropped by deduplication",
		}),
		BatchesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_intake_batches_flushed_total",
			Help: "Debounce batches handed off, by trigger",
		}, []string{"trigger"}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "slack_intake_batch_size_events",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50},
		}),
		OpenBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slack_intake_open_batches",
			Help: "Debounce batches currently accumulating",
		}),
		ClassificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "slack_intake_classification_duration_seconds",
			Help:    "Time spent classifying a batch",
			Buckets: prometheus.DefBuckets,
		}),
		ClassificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "slack_intake_classification_failures_total",
			Help: "Classifier calls that failed",
		}),
		ClassificationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_intake_classification_results_total",
			Help: "Classification results by kind",
		}, []string{"kind"}),
		EntriesEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_intake_queue_enqueued_total",
			Help: "Entries written to the durable queue, by type",
		}, []string{"entry_type"}),
		HandoffFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "slack_intake_handoff_failures_total",
			Help: "Flushed batches that could not be enqueued",
		}),
		DrainOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_intake_drain_entries_total",
			Help: "Drained queue entries by outcome",
		}, []string{"outcome"}),
		DrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "slack_intake_drain_duration_seconds",
			Help:    "Time spent in one drain cycle",
			Buckets: prometheus.DefBuckets,
		}),
		PendingEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slack_intake_queue_pending_entries",
			Help: "Queue entries not yet processed",
		}),
		RetentionPurged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_intake_retention_purged_total",
			Help: "Rows removed by the retention sweep",
		}, []string{"table"}),
	}
}

// NewNop returns metrics registered on a private registry
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
