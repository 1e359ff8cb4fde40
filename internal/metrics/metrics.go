// Package metrics exposes Prometheus counters for HTTP traffic, GraphQL
// operations, and the persisted-query protocol, fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graphrelay/graphrelay/internal/eventbus"
	"github.com/graphrelay/graphrelay/internal/events"
)

// Metrics holds the registered collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	operations     *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	persistedQuery *prometheus.CounterVec
}

// Setup registers the collectors on a fresh registry and subscribes them to
// the event bus.
func Setup() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrelay_http_requests_total",
			Help: "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphrelay_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrelay_graphql_operations_total",
			Help: "GraphQL operations processed, by type and outcome.",
		}, []string{"type", "outcome"}),
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphrelay_graphql_operation_duration_seconds",
			Help:    "GraphQL operation latency through the pipeline.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		persistedQuery: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrelay_persisted_query_events_total",
			Help: "Persisted-query protocol events.",
		}, []string{"event"}),
	}

	m.subscribe()
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) subscribe() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		m.httpRequests.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
		m.httpDuration.WithLabelValues(e.Request.Method).Observe(e.Duration.Seconds())
	})

	eventbus.Subscribe(func(ctx context.Context, e events.OperationFinish) {
		outcome := "ok"
		if len(e.Errors) > 0 {
			outcome = "error"
		}
		m.operations.WithLabelValues(e.OperationType, outcome).Inc()
		m.opDuration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PersistedQueryHit) {
		m.persistedQuery.WithLabelValues("hit").Inc()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PersistedQueryRegister) {
		m.persistedQuery.WithLabelValues("register").Inc()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PersistedQueryWriteFailure) {
		m.persistedQuery.WithLabelValues("write_failure").Inc()
	})
}
