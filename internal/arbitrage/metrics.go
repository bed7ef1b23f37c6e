package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the path evaluators
type Metrics struct {
	recomputations *prometheus.CounterVec
	optimizations  *prometheus.CounterVec
	optimizeTime   prometheus.Histogram
	submissions    *prometheus.CounterVec
	activePaths    prometheus.Gauge
}

// NewMetrics creates and registers the evaluator metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recomputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_index_recomputations_total",
			Help: "Arbitrage index recomputations, labeled by reserve state.",
		}, []string{"state"}),
		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_optimizations_total",
			Help: "Optimizer invocations, labeled by result.",
		}, []string{"result"}),
		optimizeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arb_optimize_duration_seconds",
			Help:    "Time spent sizing a trade.",
			Buckets: prometheus.DefBuckets,
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_bundle_submissions_total",
			Help: "Bundle submissions, labeled by result.",
		}, []string{"result"}),
		activePaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_active_paths",
			Help: "Number of paths currently evaluated.",
		}),
	}
	reg.MustRegister(m.recomputations, m.optimizations, m.optimizeTime, m.submissions, m.activePaths)
	return m
}

// The methods below accept a nil receiver so evaluators can run unobserved.

func (m *Metrics) recomputed(state string) {
	if m != nil {
		m.recomputations.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) optimized(result string, seconds float64) {
	if m != nil {
		m.optimizations.WithLabelValues(result).Inc()
		m.optimizeTime.Observe(seconds)
	}
}

func (m *Metrics) submitted(result string) {
	if m != nil {
		m.submissions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) pathStarted() {
	if m != nil {
		m.activePaths.Inc()
	}
}

func (m *Metrics) pathStopped() {
	if m != nil {
		m.activePaths.Dec()
	}
}
