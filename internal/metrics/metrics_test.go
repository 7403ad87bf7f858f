package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.WebhookRequests.WithLabelValues("accepted").Inc()
	m.DrainOutcomes.WithLabelValues("success").Add(2)
	m.PendingEntries.Set(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookRequests.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DrainOutcomes.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PendingEntries))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "slack_intake_webhook_requests_total")
	assert.Contains(t, names, "slack_intake_queue_pending_entries")
}

func TestRegistriesAreIndependent(t *testing.T) {
	// Registering twice on separate registries must not panic
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
