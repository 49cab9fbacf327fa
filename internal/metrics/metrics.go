package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the roster service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations      *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	subscribers     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_operations_total",
			Help: "Roster operations by name and outcome.",
		}, []string{"op", "outcome"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_persistence_failures_total",
			Help: "Store load/save failures by operation.",
		}, []string{"op"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_store_duration_seconds",
			Help:    "Latency of roster store calls.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"action"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roster_event_subscribers",
			Help: "Open roster event feed subscriptions.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.operations,
		m.persistFailures,
		m.storeLatency,
		m.subscribers,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveOperation counts one finished roster operation.
func (m *Metrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// ObservePersistenceFailure counts a failed store call.
func (m *Metrics) ObservePersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

// ObserveStore records the latency of a load or save.
func (m *Metrics) ObserveStore(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(action).Observe(d.Seconds())
}

// AddSubscribers adjusts the open subscription gauge.
func (m *Metrics) AddSubscribers(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
