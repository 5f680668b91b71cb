// Package metrics exposes the store's Prometheus instruments. Each Metrics
// value owns its registry so several stores (and tests) can coexist in one
// process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vault"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	objects         *prometheus.GaugeVec
	regions         prometheus.Gauge
	transfers       *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	zoneTransitions *prometheus.CounterVec
	rpcCalls        *prometheus.CounterVec
	connections     prometheus.Gauge
	busEvents       *prometheus.CounterVec
	busLatency      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_operations_total",
			Help:      "Object store operations by kind and result.",
		}, []string{"op", "result"}),
		objects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "region_objects",
			Help:      "Objects currently held per region.",
		}, []string{"region"}),
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regions",
			Help:      "Regions currently loaded.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Cross-region transfers by result.",
		}, []string{"result"}),
		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Latency of persistence calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"op"}),
		zoneTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_transitions_total",
			Help:      "Zone enter and exit transitions.",
		}, []string{"kind"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "RPC dispatches by method and result.",
		}, []string{"method", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Open websocket connections on the RPC gateway.",
		}),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Events delivered on the event bus by type and result.",
		}, []string{"type", "result"}),
		busLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_delivery_seconds",
			Help:      "Time spent running the handlers of one event.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.objects,
		m.regions,
		m.transfers,
		m.persistDuration,
		m.zoneTransitions,
		m.rpcCalls,
		m.connections,
		m.busEvents,
		m.busLatency,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// All recorders below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) SetObjects(region string, n int) {
	if m == nil {
		return
	}
	m.objects.WithLabelValues(region).Set(float64(n))
}

func (m *Metrics) SetRegions(n int) {
	if m == nil {
		return
	}
	m.regions.Set(float64(n))
}

func (m *Metrics) ObserveTransfer(err error) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObservePersist(op string, started time.Time) {
	if m == nil {
		return
	}
	m.persistDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveZoneTransition(kind string) {
	if m == nil {
		return
	}
	m.zoneTransitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, result(err)).Inc()
}

func (m *Metrics) AddConnections(delta int) {
	if m == nil {
		return
	}
	m.connections.Add(float64(delta))
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
