// Package metrics instruments the transport and query engine with
// Prometheus counters, carried as an ambient concern alongside logging.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Transport holds the counters owned by internal/transport.
type Transport struct {
	RequestsTotal prometheus.Counter
	RetriesTotal  *prometheus.CounterVec
}

// NewTransport registers Transport's metrics on reg, or on a private
// registry if reg is nil (e.g. in tests that don't care about exposition).
func NewTransport(reg prometheus.Registerer) *Transport {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	t := &Transport{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lento_transport_requests_total",
			Help: "Total number of HTTP requests dispatched to the coordinator.",
		}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lento_transport_retries_total",
			Help: "Total number of transport-level retries, by reason code.",
		}, []string{"reason"}),
	}
	reg.MustRegister(t.RequestsTotal, t.RetriesTotal)
	return t
}

// Engine holds the counters owned by internal/engine.
type Engine struct {
	QueriesStarted   prometheus.Counter
	QueryRestarts    prometheus.Counter
	QueriesFailed    prometheus.Counter
	QueriesCancelled prometheus.Counter
}

// NewEngine registers Engine's metrics on reg, or on a private registry
// if reg is nil.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e := &Engine{
		QueriesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lento_engine_queries_started_total",
			Help: "Total number of statements submitted; query-level restarts are counted separately.",
		}),
		QueryRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lento_engine_query_restarts_total",
			Help: "Total number of query-level restarts after a transient Presto error.",
		}),
		QueriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lento_engine_queries_failed_total",
			Help: "Total number of statements that terminated with an error.",
		}),
		QueriesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lento_engine_queries_cancelled_total",
			Help: "Total number of statements cancelled by the caller.",
		}),
	}
	reg.MustRegister(e.QueriesStarted, e.QueryRestarts, e.QueriesFailed, e.QueriesCancelled)
	return e
}
