// Package metrics instruments the bus with Prometheus counters and gauges,
// following the registry-scoped (non-global) instrumentation style used by
// ManuGH-xg2g rather than relying on the default global registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set groups every metric the bus exposes. The Bus holds it and records
// into it from its queue facade, RPC layer, and subscription handlers; the
// dispatcher feeds HandlerPanics through an OnPanic callback and never sees
// the Set itself.
type Set struct {
	EventsPublished   *prometheus.CounterVec
	EventsDispatched  *prometheus.CounterVec
	HandlerPanics     prometheus.Counter
	RpcInFlight       prometheus.Gauge
	RpcCalls          *prometheus.CounterVec
	RpcTimeouts       prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
}

// New registers a fresh metric Set on reg. Passing a dedicated registry
// (rather than prometheus.DefaultRegisterer) keeps multiple Bus instances
// in the same process from colliding on metric names.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pymq",
			Name:      "events_published_total",
			Help:      "Number of events published, labeled by channel.",
		}, []string{"channel"}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pymq",
			Name:      "events_dispatched_total",
			Help:      "Number of handler invocations, labeled by channel.",
		}, []string{"channel"}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pymq",
			Name:      "handler_panics_total",
			Help:      "Number of subscriber handlers that panicked during dispatch.",
		}),
		RpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pymq",
			Name:      "rpc_in_flight",
			Help:      "Number of RPC invocations currently awaiting a response.",
		}),
		RpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pymq",
			Name:      "rpc_calls_total",
			Help:      "Number of RPC calls, labeled by address and outcome.",
		}, []string{"address", "outcome"}),
		RpcTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pymq",
			Name:      "rpc_timeouts_total",
			Help:      "Number of RPC calls that timed out waiting for a response.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pymq",
			Name:      "queue_depth",
			Help:      "Last observed queue depth, labeled by queue name.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		s.EventsPublished,
		s.EventsDispatched,
		s.HandlerPanics,
		s.RpcInFlight,
		s.RpcCalls,
		s.RpcTimeouts,
		s.QueueDepth,
	)

	return s
}

// Noop returns a Set backed by a private, unregistered registry -- handy
// for components that want to record metrics unconditionally without a
// nil check, when the caller didn't ask for Prometheus wiring.
func Noop() *Set {
	return New(prometheus.NewRegistry())
}
