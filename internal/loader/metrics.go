package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports loader activity. A nil *Metrics records nothing.
type Metrics struct {
	FetchesStarted   *prometheus.CounterVec
	FetchesFailed    *prometheus.CounterVec
	FetchesCanceled  *prometheus.CounterVec
	ResultsDiscarded *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	BindingsEvicted  prometheus.Counter
	Bindings         prometheus.Gauge
	Entities         prometheus.Gauge
}

// NewMetrics registers the loader collectors with reg. A nil reg uses a
// private registry, which keeps repeated construction in tests harmless.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	labels := []string{"slot"}
	return &Metrics{
		FetchesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "fetches_started_total",
			Help:      "Node fetches issued, by slot.",
		}, labels),
		FetchesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "fetches_failed_total",
			Help:      "Node fetches that returned an error.",
		}, labels),
		FetchesCanceled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "fetches_canceled_total",
			Help:      "In-flight fetches canceled because their target left the window.",
		}, labels),
		ResultsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "results_discarded_total",
			Help:      "Late results of canceled fetches that were dropped.",
		}, labels),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "fetch_duration_seconds",
			Help:      "Time from issue to applied result.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		BindingsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "bindings_evicted_total",
			Help:      "Position bindings swept out by window shifts.",
		}),
		Bindings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "bindings",
			Help:      "Live position bindings.",
		}),
		Entities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lineage",
			Subsystem: "loader",
			Name:      "entities",
			Help:      "Distinct nodes in the entity store.",
		}),
	}
}

func (m *Metrics) started(s slot) {
	if m != nil {
		m.FetchesStarted.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) failed(s slot) {
	if m != nil {
		m.FetchesFailed.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) canceled(s slot) {
	if m != nil {
		m.FetchesCanceled.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) discarded(s slot) {
	if m != nil {
		m.ResultsDiscarded.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) observe(s slot, d time.Duration) {
	if m != nil {
		m.FetchDuration.WithLabelValues(s.String()).Observe(d.Seconds())
	}
}

func (m *Metrics) evicted(n int) {
	if m != nil {
		m.BindingsEvicted.Add(float64(n))
	}
}

func (m *Metrics) setBindings(n int) {
	if m != nil {
		m.Bindings.Set(float64(n))
	}
}

func (m *Metrics) setEntities(n int) {
	if m != nil {
		m.Entities.Set(float64(n))
	}
}
