// Package metrics holds the Prometheus collectors of the route service.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	CallTotal          *prometheus.CounterVec   // service, result=success|transient|business|circuit_open|cancelled|not_found
	CallLatency        *prometheus.HistogramVec // service
	BreakerState       *prometheus.GaugeVec     // service; 0=closed 1=half_open 2=open
	BreakerTransitions *prometheus.CounterVec   // service, to
	ProbeTotal         *prometheus.CounterVec   // service, result=healthy|unhealthy
	EventsTotal        *prometheus.CounterVec   // subject, outcome=applied|duplicate|malformed|rejected|retry
	PublishFailures    *prometheus.CounterVec   // subject
	LedgerCacheHits    *prometheus.CounterVec   // tier=lru|redis|db
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CallTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightlane_outbound_calls_total",
				Help: "Outbound service calls by final result",
			},
			[]string{"service", "result"},
		),
		CallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freightlane_outbound_call_seconds",
				Help:    "Latency of outbound service calls including retries",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
			},
			[]string{"service"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "freightlane_circuit_breaker_state",
				Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightlane_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions per service and target state",
			},
			[]string{"service", "to"},
		),
		ProbeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightlane_health_probes_total",
				Help: "Health probes by result",
			},
			[]string{"service", "result"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightlane_consumed_events_total",
				Help: "Consumed broker events by outcome",
			},
			[]string{"subject", "outcome"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightlane_publish_failures_total",
				Help: "Derived events that could not be published after commit",
			},
			[]string{"subject"},
		),
		LedgerCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightlane_ledger_hits_total",
				Help: "Processed-event lookups answered per tier",
			},
			[]string{"tier"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CallTotal,
		m.CallLatency,
		m.BreakerState,
		m.BreakerTransitions,
		m.ProbeTotal,
		m.EventsTotal,
		m.PublishFailures,
		m.LedgerCacheHits,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) ObserveCall(service, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CallTotal.WithLabelValues(service, result).Inc()
	m.CallLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

func (m *Metrics) SetBreakerState(service, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(service).Set(v)
	m.BreakerTransitions.WithLabelValues(service, state).Inc()
}

func (m *Metrics) ObserveProbe(service string, healthy bool) {
	if m == nil {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.ProbeTotal.WithLabelValues(service, result).Inc()
}

func (m *Metrics) ObserveEvent(subject, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(subject, outcome).Inc()
}

func (m *Metrics) ObservePublishFailure(subject string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(subject).Inc()
}

func (m *Metrics) ObserveLedgerHit(tier string) {
	if m == nil {
		return
	}
	m.LedgerCacheHits.WithLabelValues(tier).Inc()
}
