package broadcast

import (
	"log/slog"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/metric"
	"github.com/dxos-deprecated/broadcast/packet"
	"github.com/dxos-deprecated/broadcast/seencache"
)

// Option configures the engine at construction time.
type Option func(*Broadcast)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcast) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCodec replaces the wire codec. Defaults to packet.BinaryCodec.
func WithCodec(codec packet.Codec) Option {
	return func(b *Broadcast) {
		if codec != nil {
			b.codec = codec
		}
	}
}

// WithDirectory replaces the peer directory. The default is a push
// directory fed by the transport's membership updates; pass a
// directory.PullDirectory over the transport's Lookup to switch to
// lookup-before-fanout.
func WithDirectory(dir directory.Directory) Option {
	return func(b *Broadcast) {
		if dir != nil {
			b.dir = dir
		}
	}
}

// WithCacheConfig sets the dedup cache bounds. Zero fields keep the
// cache defaults.
func WithCacheConfig(cfg seencache.Config) Option {
	return func(b *Broadcast) {
		b.cacheCfg = cfg
	}
}

// WithMetricsRegistry enables Prometheus metrics for the engine and its
// dedup cache.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(b *Broadcast) {
		b.registry = registry
	}
}

// WithAutoOpen makes Publish open the engine on first use instead of
// failing when closed.
func WithAutoOpen(autoOpen bool) Option {
	return func(b *Broadcast) {
		b.autoOpen = autoOpen
	}
}

// WithFanoutWorkers sizes the send dispatch pool. A full queue degrades
// to synchronous sending, so no packet is lost to sizing.
func WithFanoutWorkers(workers, queueSize int) Option {
	return func(b *Broadcast) {
		if workers > 0 {
			b.workers = workers
		}
		if queueSize > 0 {
			b.queueSize = queueSize
		}
	}
}

// WithDeliveryBuffer sizes the Delivered channel.
func WithDeliveryBuffer(n int) Option {
	return func(b *Broadcast) {
		if n > 0 {
			b.deliveryBuffer = n
		}
	}
}

// WithEventBuffer sizes the Events channel.
func WithEventBuffer(n int) Option {
	return func(b *Broadcast) {
		if n > 0 {
			b.eventBuffer = n
		}
	}
}

// PublishOption adjusts a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	seqno []byte
}

// WithSeqno supplies the packet's seqno instead of generating a random
// one. Callers using application-level ordering (vector timestamps,
// sequence counters) pass their own value here.
func WithSeqno(seqno []byte) PublishOption {
	return func(o *publishOptions) {
		o.seqno = seqno
	}
}
