// Package metrics provides Prometheus instrumentation for the overlay
// mesh client runtime.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "overlaymesh"

// Metrics holds every Prometheus instrument the reactor and its
// subsystems record against.
type Metrics struct {
	LinksConnected prometheus.Gauge
	LinksTotal     prometheus.Counter
	LinksDropped   *prometheus.CounterVec

	AuthAttempts prometheus.Counter
	AuthFailures *prometheus.CounterVec
	AuthLatency  prometheus.Histogram

	RoutingTableSize   prometheus.Gauge
	PathsRegistered    prometheus.Counter
	PathsDeregistered  prometheus.Counter

	RelayForwarded prometheus.Counter
	RelayDelivered prometheus.Counter
	RelayDropped   *prometheus.CounterVec

	AgentInfoUpdates   prometheus.Counter
	AgentInfoRejected  prometheus.Counter

	ReconnectsScheduled prometheus.Counter
	TickDuration        prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default Metrics instance,
// registered against the default Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a Metrics instance registered against the default
// registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against reg,
// so tests can use a private registry instead of the global one.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LinksConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "links_connected",
			Help:      "Number of currently authenticated links",
		}),
		LinksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_total",
			Help:      "Total authenticated links created",
		}),
		LinksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_dropped_total",
			Help:      "Authenticated links dropped, by reason",
		}, []string{"reason"}),

		AuthAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Mutual authentication attempts started",
		}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Mutual authentication attempts that failed, by reason",
		}, []string{"reason"}),
		AuthLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_latency_seconds",
			Help:      "Time from attempt start to Done or Failed",
			Buckets:   prometheus.DefBuckets,
		}),

		RoutingTableSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_table_size",
			Help:      "Number of registered clients in the routing table",
		}),
		PathsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_registered_total",
			Help:      "Path registrations accepted",
		}),
		PathsDeregistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_deregistered_total",
			Help:      "Path deregistrations processed",
		}),

		RelayForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_forwarded_total",
			Help:      "Relay messages forwarded to a next hop",
		}),
		RelayDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_delivered_total",
			Help:      "Relay messages delivered to the local application",
		}),
		RelayDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Relay messages dropped, by reason",
		}, []string{"reason"}),

		AgentInfoUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_info_updates_total",
			Help:      "Agent information updates accepted",
		}),
		AgentInfoRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_info_rejected_total",
			Help:      "Agent information updates rejected as stale",
		}),

		ReconnectsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reactor_tick_duration_seconds",
			Help:      "Wall-clock duration of one reactor tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}
