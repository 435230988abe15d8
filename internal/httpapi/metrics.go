package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the chain service collectors. A nil *Metrics records nothing.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Subscribers     prometheus.Gauge
	Pushes          prometheus.Counter
	Dropped         prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage", Subsystem: "chainserver", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lineage", Subsystem: "chainserver", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lineage", Subsystem: "chainserver", Name: "location_subscribers",
			Help: "Connected location feed subscribers.",
		}),
		Pushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lineage", Subsystem: "chainserver", Name: "location_pushes_total",
			Help: "Location changes broadcast.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lineage", Subsystem: "chainserver", Name: "location_subscribers_dropped_total",
			Help: "Subscribers disconnected for falling behind.",
		}),
	}
}

func (m *Metrics) observeRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) setSubscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

func (m *Metrics) push() {
	if m != nil {
		m.Pushes.Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.Dropped.Inc()
	}
}
