package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-intake-go/internal/dedup"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/queue"
	"slack-intake-go/internal/testutil"
)

func TestSweepPurgesExpiredRows(t *testing.T) {
	ctx := context.Background()
	d := dedup.NewGormStore(testutil.NewDB(t))
	q := queue.NewMemoryStore()

	_, err := d.Accept(ctx, "evt-1")
	require.NoError(t, err)

	for _, key := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, queue.Item{EntryType: "classified", IdempotencyKey: key, Payload: []byte(`{}`)})
		require.NoError(t, err)
	}
	claim, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	entries := claim.Entries()
	require.NoError(t, claim.Complete(ctx, entries[0].ID, nil))
	require.NoError(t, claim.Complete(ctx, entries[1].ID, errors.New("bad payload")))
	require.NoError(t, claim.Commit())

	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := NewSweeper(d, q, 24*time.Hour, 168*time.Hour, m)

	res, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	res, err = s.Sweep(ctx, time.Now().Add(200*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Result{DedupRecords: 1, QueueEntries: 1}, res)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RetentionPurged.WithLabelValues("intake_events")))

	// the redelivery window is over, so the id is accepted again
	outcome, err := d.Accept(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, dedup.Accepted, outcome)

	_, total, err := q.List(ctx, queue.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestZeroHorizonDisablesPurge(t *testing.T) {
	ctx := context.Background()
	d := dedup.NewGormStore(testutil.NewDB(t))
	_, err := d.Accept(ctx, "evt-1")
	require.NoError(t, err)

	s := NewSweeper(d, queue.NewMemoryStore(), 0, 0, nil)
	res, err := s.Sweep(ctx, time.Now().Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	outcome, err := d.Accept(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, dedup.Duplicate, outcome)
}
