package actualize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments sync passes. A nil *Metrics records nothing.
type Metrics struct {
	duration   *prometheus.HistogramVec
	saved      *prometheus.CounterVec
	checked    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	unresolved *prometheus.GaugeVec
}

// NewMetrics creates sync metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buildwatch_scan_duration_seconds",
			Help:    "Duration of build reference sync tasks.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"server", "task"}),
		saved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildwatch_build_refs_saved_total",
			Help: "Build references written because they were new or changed.",
		}, []string{"server"}),
		checked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildwatch_builds_checked_total",
			Help: "Build references examined by sync passes.",
		}, []string{"server"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildwatch_scan_failures_total",
			Help: "Sync tasks that ended with an error.",
		}, []string{"server", "task"}),
		unresolved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "buildwatch_mandatory_unresolved",
			Help: "Queued or running builds the last incremental pass did not encounter.",
		}, []string{"server"}),
	}
	reg.MustRegister(m.duration, m.saved, m.checked, m.failures, m.unresolved)
	return m
}

// StartTask begins timing a named task and returns the function that ends it.
func (m *Metrics) StartTask(server, task string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		m.duration.WithLabelValues(server, task).Observe(time.Since(start).Seconds())
		if err != nil {
			m.failures.WithLabelValues(server, task).Inc()
		}
	}
}

func (m *Metrics) recordSummary(server string, s Summary, incremental bool) {
	if m == nil {
		return
	}
	m.saved.WithLabelValues(server).Add(float64(s.Saved))
	m.checked.WithLabelValues(server).Add(float64(s.Checked))
	if incremental {
		m.unresolved.WithLabelValues(server).Set(float64(s.RemainedToFind))
	}
}
