package seencache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dxos-deprecated/broadcast/metric"
)

// cacheMetrics exports cache counters to prometheus. Nil when the cache
// was built without a registry; callers nil-check before recording.
type cacheMetrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	adds        prometheus.Counter
	touches     prometheus.Counter
	deletes     prometheus.Counter
	evictions   prometheus.Counter
	expirations prometheus.Counter
	size        prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}

	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "hits_total",
			Help:        "Lookups that found a live token",
			ConstLabels: labels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "misses_total",
			Help:        "Lookups that found nothing",
			ConstLabels: labels,
		}),
		adds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "adds_total",
			Help:        "Insertions of previously unseen tokens",
			ConstLabels: labels,
		}),
		touches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "touches_total",
			Help:        "Re-adds of already live tokens",
			ConstLabels: labels,
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "deletes_total",
			Help:        "Explicit removals",
			ConstLabels: labels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "evictions_total",
			Help:        "Removals forced by the size cap",
			ConstLabels: labels,
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "expirations_total",
			Help:        "Removals caused by age",
			ConstLabels: labels,
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "broadcast",
			Subsystem:   "seencache",
			Name:        "size",
			Help:        "Current number of entries",
			ConstLabels: labels,
		}),
	}

	regs := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"hits_total", m.hits},
		{"misses_total", m.misses},
		{"adds_total", m.adds},
		{"touches_total", m.touches},
		{"deletes_total", m.deletes},
		{"evictions_total", m.evictions},
		{"expirations_total", m.expirations},
	}
	for _, r := range regs {
		if err := registry.RegisterCounter(prefix, r.name, r.collector.(prometheus.Counter)); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()        { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()       { m.misses.Inc() }
func (m *cacheMetrics) recordAdd()        { m.adds.Inc() }
func (m *cacheMetrics) recordTouch()      { m.touches.Inc() }
func (m *cacheMetrics) recordDelete()     { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction()   { m.evictions.Inc() }
func (m *cacheMetrics) recordExpiration() { m.expirations.Inc() }
func (m *cacheMetrics) updateSize(n int)  { m.size.Set(float64(n)) }
