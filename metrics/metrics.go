// Package metrics exposes renewal runs as prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "acmerenew"

// Result labels of RenewalsTotal.
const (
	ResultSuccess  = "success"
	ResultNoChange = "nochange"
	ResultError    = "error"
)

// Metrics are the collectors updated by the renewal runner.
type Metrics struct {
	RenewalsTotal    *prometheus.CounterVec
	RenewalDuration  prometheus.Histogram
	RunsTotal        prometheus.Counter
	RunFailures      prometheus.Counter
	LastRunTimestamp prometheus.Gauge
	LastRunSuccess   prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RenewalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewals_total",
			Help:      "Certificate configurations processed, by result.",
		}, []string{"result"}),
		RenewalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "renewal_duration_seconds",
			Help:      "Time spent processing one certificate configuration.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Renewal runs started.",
		}),
		RunFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Renewal runs with at least one failed configuration.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last renewal run finished.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if every configuration of the last run succeeded, 0 otherwise.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RenewalsTotal,
			m.RenewalDuration,
			m.RunsTotal,
			m.RunFailures,
			m.LastRunTimestamp,
			m.LastRunSuccess,
		)
	}
	return m
}

// ObserveRenewal records one processed configuration. A nil Metrics ignores
// the call.
func (m *Metrics) ObserveRenewal(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RenewalsTotal.WithLabelValues(result).Inc()
	m.RenewalDuration.Observe(elapsed.Seconds())
}

// RunStarted counts a run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
}

// RunFinished records the end of a run at now.
func (m *Metrics) RunFinished(now time.Time, failed bool) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.Set(float64(now.Unix()))
	if failed {
		m.RunFailures.Inc()
		m.LastRunSuccess.Set(0)
		return
	}
	m.LastRunSuccess.Set(1)
}
