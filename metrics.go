package broadcast

import (
	"github.com/dxos-deprecated/broadcast/metric"
)

// engineMetrics adapts the shared core metrics to one node's label set.
// A nil receiver is a no-op, so the engine records unconditionally.
type engineMetrics struct {
	node string
	core *metric.Metrics
}

func newEngineMetrics(registry *metric.MetricsRegistry, node string) *engineMetrics {
	if registry == nil {
		return nil
	}
	return &engineMetrics{node: node, core: registry.CoreMetrics()}
}

func (m *engineMetrics) setStatus(s State) {
	if m == nil {
		return
	}
	m.core.EngineStatus.WithLabelValues(m.node).Set(float64(s))
}

func (m *engineMetrics) published() {
	if m == nil {
		return
	}
	m.core.PacketsPublished.WithLabelValues(m.node).Inc()
}

func (m *engineMetrics) received() {
	if m == nil {
		return
	}
	m.core.PacketsReceived.WithLabelValues(m.node).Inc()
}

func (m *engineMetrics) delivered() {
	if m == nil {
		return
	}
	m.core.PacketsDelivered.WithLabelValues(m.node).Inc()
}

func (m *engineMetrics) forwarded() {
	if m == nil {
		return
	}
	m.core.PacketsForwarded.WithLabelValues(m.node).Inc()
}

func (m *engineMetrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.core.PacketsDropped.WithLabelValues(m.node, reason).Inc()
}

func (m *engineMetrics) send(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.core.SendsTotal.WithLabelValues(m.node, status).Inc()
}

func (m *engineMetrics) errorKind(kind string) {
	if m == nil {
		return
	}
	m.core.ErrorsTotal.WithLabelValues(m.node, kind).Inc()
}
