// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for edgemux.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Session metrics
	ActiveSessions  *prometheus.GaugeVec
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Connection metrics
	ActiveConnections *prometheus.GaugeVec
	ConnectionErrors  *prometheus.CounterVec

	// Routing metrics
	RoutingDecisions *prometheus.CounterVec

	// Migration metrics
	MigrationsTotal    *prometheus.CounterVec
	MigrationDuration  *prometheus.HistogramVec
	DroppedConnections *prometheus.CounterVec

	// Dispatch metrics
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Business handler metrics
	HandlerDuration *prometheus.HistogramVec
	HandlerErrors   *prometheus.CounterVec

	// Endpoint metrics
	HealthChecks    *prometheus.CounterVec
	EndpointHealthy *prometheus.GaugeVec
	EndpointLoad    *prometheus.GaugeVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedRequests *prometheus.CounterVec

	// Resource metrics
	GoroutinesActive *prometheus.GaugeVec
	MemoryAllocated  *prometheus.GaugeVec
}

// New creates a Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, namespace)
}

// NewWith creates a Metrics instance registered on the given registerer.
// Tests pass a fresh registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "edgemux"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently active sessions",
			},
			[]string{"protocol"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions",
			},
			[]string{"protocol", "status"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session lifetime in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800},
			},
			[]string{"protocol"},
		),
		ActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active transport connections",
			},
			[]string{"protocol"},
		),
		ConnectionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connection errors",
			},
			[]string{"protocol", "error_type"},
		),
		RoutingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_decisions_total",
				Help:      "Total number of routing decisions by target protocol",
			},
			[]string{"protocol", "rule"},
		),
		MigrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_total",
				Help:      "Total number of protocol migrations",
			},
			[]string{"strategy", "status"},
		),
		MigrationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "migration_duration_seconds",
				Help:      "Protocol migration duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		DroppedConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_dropped_connections_total",
				Help:      "Total connections dropped during migrations",
			},
			[]string{"strategy"},
		),
		DispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of backend dispatches",
			},
			[]string{"protocol", "status"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Backend dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Business handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		HandlerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of business handler failures",
			},
			[]string{"protocol"},
		),
		HealthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of endpoint health probes",
			},
			[]string{"protocol", "result"},
		),
		EndpointHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "endpoint_healthy",
				Help:      "Endpoint health (1=healthy, 0=unhealthy)",
			},
			[]string{"protocol", "endpoint"},
		),
		EndpointLoad: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "endpoint_load",
				Help:      "In-flight dispatches per endpoint",
			},
			[]string{"protocol", "endpoint"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"endpoint"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"endpoint"},
		),
		RateLimitedRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"protocol", "limiter_type"},
		),
		GoroutinesActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_active",
				Help:      "Number of active goroutines by component",
			},
			[]string{"component"},
		),
		MemoryAllocated: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_allocated_bytes",
				Help:      "Memory allocated in bytes",
			},
			[]string{"type"},
		),
	}
}

// ObserveDispatch tracks a backend dispatch lifecycle.
func (m *Metrics) ObserveDispatch(protocol string, f func() error) error {
	start := time.Now()
	err := f()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.DispatchesTotal.WithLabelValues(protocol, status).Inc()
	m.DispatchDuration.WithLabelValues(protocol).Observe(time.Since(start).Seconds())

	return err
}

// ObserveMigration tracks a migration lifecycle.
func (m *Metrics) ObserveMigration(strategy string, dropped int, took time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MigrationsTotal.WithLabelValues(strategy, status).Inc()
	m.MigrationDuration.WithLabelValues(strategy).Observe(took.Seconds())
	if dropped > 0 {
		m.DroppedConnections.WithLabelValues(strategy).Add(float64(dropped))
	}
}
