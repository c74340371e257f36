package seencache

import "github.com/dxos-deprecated/broadcast/metric"

// EvictCallback is invoked after a token leaves the cache through
// eviction or expiry. Called outside the cache lock.
type EvictCallback func(token string)

type cacheOptions struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback
}

// Option configures optional cache behavior.
type Option func(*cacheOptions)

// WithMetrics exports cache counters to the registry under the given
// component prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(o *cacheOptions) {
		o.metricsReg = registry
		o.metricsPrefix = prefix
	}
}

// WithEvictionCallback registers a callback fired when tokens are
// evicted or expire.
func WithEvictionCallback(fn EvictCallback) Option {
	return func(o *cacheOptions) {
		o.evictCallback = fn
	}
}

func applyOptions(options ...Option) cacheOptions {
	var opts cacheOptions
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}
