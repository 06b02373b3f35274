package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("maintenance:due_scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("maintenance:due_scan").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("maintenance:due_scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("maintenance:due_scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("maintenance:due_scan")))
	require.Positive(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("maintenance:due_scan")))
}

func TestFailedRunLeavesLastSuccessUnset(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	_ = m.Track("inventory:write_off").End(errors.New("boom"))

	count, err := testutil.GatherAndCount(reg, "stockroom_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.SetDueSchedules(map[string]int{"OVERDUE": 1})
	m.AddWriteOff()
	_, err := m.DueSchedulesGauge("OVERDUE")
	require.Error(t, err)
}
