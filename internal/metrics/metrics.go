package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "loadbalancer"

// Outcome labels the final result of a request at the load balancer.
type Outcome string

const (
	OutcomeForwarded   Outcome = "forwarded"
	OutcomeBadGateway  Outcome = "bad_gateway"
	OutcomeNoBackend   Outcome = "no_backend"
	OutcomeRateLimited Outcome = "rate_limited"
)

const noBackendLabel = "none"

type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	responses   *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	backendUp   *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by selected backend and outcome.",
		}, []string{"backend", "outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Backend responses relayed to clients, by status code.",
		}, []string{"backend", "code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "Time from forwarding a request to relaying the backend response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "1 if the backend is currently healthy, 0 otherwise.",
		}, []string{"backend"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_transitions_total",
			Help:      "Backend health status changes, by new status.",
		}, []string{"backend", "status"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.responses,
		m.durations,
		m.backendUp,
		m.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordResponse counts a successfully relayed backend response.
func (m *Metrics) RecordResponse(backend string, duration time.Duration, statusCode int) {
	m.requests.WithLabelValues(backend, string(OutcomeForwarded)).Inc()
	m.responses.WithLabelValues(backend, strconv.Itoa(statusCode)).Inc()
	m.durations.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordOutcome counts a request that did not produce a backend response.
func (m *Metrics) RecordOutcome(backend string, outcome Outcome) {
	if backend == "" {
		backend = noBackendLabel
	}
	m.requests.WithLabelValues(backend, string(outcome)).Inc()
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	status := "unhealthy"
	up := 0.0
	if healthy {
		status = "healthy"
		up = 1
	}

	m.backendUp.WithLabelValues(backend).Set(up)
	m.transitions.WithLabelValues(backend, status).Inc()
}
