// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the job collectors. A nil *Metrics is a no-op.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	dueCounts   *prometheus.GaugeVec
	writeOffs   prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on reg. A nil reg selects the process
// default registerer, registered at most once.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	defaultOnce.Do(func() { defaultMetrics = register(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_jobs_failures_total",
			Help: "Failed job runs by task type.",
		}, []string{"job"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockroom_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30},
		}, []string{"job"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockroom_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"job"}),
		dueCounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockroom_maintenance_schedules",
			Help: "Maintenance schedules by due status at the last scan.",
		}, []string{"status"}),
		writeOffs: f.NewCounter(prometheus.CounterOpts{
			Name: "stockroom_write_offs_total",
			Help: "Loans returned LOST and written off.",
		}),
	}
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(t.job).Inc()
		m.runs.WithLabelValues(t.job, outcomeFailure).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, outcomeSuccess).Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// SetDueSchedules publishes per-status schedule counts from the latest scan.
func (m *Metrics) SetDueSchedules(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.dueCounts.WithLabelValues(status).Set(float64(n))
	}
}

// DueSchedulesGauge returns the gauge for one due status.
func (m *Metrics) DueSchedulesGauge(status string) (prometheus.Gauge, error) {
	if m == nil {
		return nil, errors.New("jobmetrics: not configured")
	}
	return m.dueCounts.GetMetricWithLabelValues(status)
}

// AddWriteOff counts a processed write-off notice.
func (m *Metrics) AddWriteOff() {
	if m == nil {
		return
	}
	m.writeOffs.Inc()
}
