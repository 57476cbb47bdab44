package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("inventory:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:reconcile").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:reconcile", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:reconcile", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("inventory:reconcile")))
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddHealed(3, 40)
	m.AddHealed(3, 0)
	m.AddPurged(5)
	m.AddPurged(-1)

	require.Equal(t, 40.0, testutil.ToFloat64(m.healed.WithLabelValues("3")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.purged))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddHealed(1, 1)
	m.AddPurged(1)
	require.NoError(t, m.Track("x").End(nil))
}
