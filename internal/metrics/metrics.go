package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	scans         *prometheus.CounterVec
	issuances     *prometheus.CounterVec
	backfillRuns  *prometheus.CounterVec
	backfillRows  prometheus.Counter
	notifyErrors  prometheus.Counter
	storeDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "scans_total",
			Help:      "Token redemptions by outcome.",
		}, []string{"outcome"}),
		issuances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "token_issuances_total",
			Help:      "Token issuance requests by outcome.",
		}, []string{"outcome"}),
		backfillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "backfill_sessions_total",
			Help:      "Sessions visited by reconciliation, by result.",
		}, []string{"result"}),
		backfillRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "backfill_records_created_total",
			Help:      "ABSENT records created by reconciliation.",
		}),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be dispatched.",
		}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "store_operation_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.issuances, m.backfillRuns, m.backfillRows, m.notifyErrors, m.storeDuration)
	}
	return m
}

func (m *Metrics) Scan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Issuance(outcome string) {
	if m == nil {
		return
	}
	m.issuances.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BackfillSession(result string, created int) {
	if m == nil {
		return
	}
	m.backfillRuns.WithLabelValues(result).Inc()
	if created > 0 {
		m.backfillRows.Add(float64(created))
	}
}

func (m *Metrics) NotifyFailure() {
	if m == nil {
		return
	}
	m.notifyErrors.Inc()
}

// ObserveStore returns a func that records the elapsed time for operation when called.
func (m *Metrics) ObserveStore(operation string) func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.storeDuration.WithLabelValues(operation))
	return func() { timer.ObserveDuration() }
}
