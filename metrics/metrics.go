// Package metrics defines the Prometheus instruments of a join run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shpdata"

// JoinDurationBuckets covers small test layers up to province-sized joins.
var JoinDurationBuckets = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900}

// Metrics groups the counters the join engine and the exporters update.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsTotal         *prometheus.CounterVec
	RepairsTotal         *prometheus.CounterVec
	PredicateErrorsTotal prometheus.Counter
	JoinDuration         prometheus.Histogram
	ExportsTotal         *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Match records produced, by relation type.",
		}, []string{"relation"}),
		RepairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Geometry repairs attempted, by outcome.",
		}, []string{"outcome"}),
		PredicateErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicate_errors_total",
			Help:      "Spatial predicates or overlays that failed and were treated as no match.",
		}),
		JoinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "join_duration_seconds",
			Help:      "Wall time of a complete join.",
			Buckets:   JoinDurationBuckets,
		}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export writes, by format and status.",
		}, []string{"format", "status"}),
	}
	reg.MustRegister(m.RecordsTotal, m.RepairsTotal, m.PredicateErrorsTotal, m.JoinDuration, m.ExportsTotal)
	return m
}

func (m *Metrics) ObserveRecord(relation string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(relation).Inc()
}

func (m *Metrics) ObserveRepair(outcome string) {
	if m == nil {
		return
	}
	m.RepairsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePredicateError() {
	if m == nil {
		return
	}
	m.PredicateErrorsTotal.Inc()
}

func (m *Metrics) ObserveJoin(d time.Duration) {
	if m == nil {
		return
	}
	m.JoinDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveExport(format string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ExportsTotal.WithLabelValues(format, status).Inc()
}
