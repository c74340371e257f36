package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by every broadcast node
// (engine status, packet flow, error counts). Component-specific metrics
// are registered separately through the MetricsRegistry.
type Metrics struct {
	EngineStatus     *prometheus.GaugeVec
	PacketsPublished *prometheus.CounterVec
	PacketsReceived  *prometheus.CounterVec
	PacketsDelivered *prometheus.CounterVec
	PacketsForwarded *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	SendsTotal       *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EngineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "broadcast",
				Subsystem: "engine",
				Name:      "status",
				Help:      "Engine status (0=closed, 1=opening, 2=open, 3=closing)",
			},
			[]string{"node"},
		),

		PacketsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "packets",
				Name:      "published_total",
				Help:      "Total number of packets published by this node",
			},
			[]string{"node"},
		),

		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "packets",
				Name:      "received_total",
				Help:      "Total number of packets received from the transport",
			},
			[]string{"node"},
		),

		PacketsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "packets",
				Name:      "delivered_total",
				Help:      "Total number of novel packets delivered locally",
			},
			[]string{"node"},
		),

		PacketsForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "packets",
				Name:      "forwarded_total",
				Help:      "Total number of packets forwarded to neighbors",
			},
			[]string{"node"},
		),

		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "packets",
				Name:      "dropped_total",
				Help:      "Total number of packets dropped, by reason",
			},
			[]string{"node", "reason"},
		),

		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "transport",
				Name:      "sends_total",
				Help:      "Total number of per-neighbor send attempts, by status",
			},
			[]string{"node", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broadcast",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total number of non-fatal errors, by kind",
			},
			[]string{"node", "kind"},
		),
	}
}

// collectors returns all core metrics for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.EngineStatus,
		m.PacketsPublished,
		m.PacketsReceived,
		m.PacketsDelivered,
		m.PacketsForwarded,
		m.PacketsDropped,
		m.SendsTotal,
		m.ErrorsTotal,
	}
}
