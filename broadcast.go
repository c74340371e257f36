package broadcast

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/errors"
	"github.com/dxos-deprecated/broadcast/metric"
	"github.com/dxos-deprecated/broadcast/packet"
	"github.com/dxos-deprecated/broadcast/pkg/worker"
	"github.com/dxos-deprecated/broadcast/seencache"
	"github.com/dxos-deprecated/broadcast/transport"
)

// Defaults for engine construction.
const (
	DefaultFanoutWorkers  = 4
	DefaultFanoutQueue    = 256
	DefaultDeliveryBuffer = 256
	DefaultEventBuffer    = 256

	closeTimeout = 5 * time.Second
)

// Broadcast floods packets through an unstructured peer graph. Each node
// publishes to its neighbors and re-forwards novel inbound packets to
// everyone except the nodes that demonstrably already hold them, with a
// bounded seen cache suppressing duplicates.
type Broadcast struct {
	id        []byte
	transport transport.Transport
	dir       directory.Directory
	codec     packet.Codec
	logger    *slog.Logger
	metrics   *engineMetrics
	registry  *metric.MetricsRegistry

	cacheCfg       seencache.Config
	autoOpen       bool
	workers        int
	queueSize      int
	deliveryBuffer int
	eventBuffer    int

	delivered chan packet.Packet
	events    chan Event

	state atomic.Int32

	mu     sync.Mutex
	cache  *seencache.Cache
	pool   *worker.Pool[sendJob]
	unsub  transport.Unsubscribe
	cancel context.CancelFunc
}

// New creates an engine for the given node ID over the transport. The
// engine starts closed; call Open, or configure WithAutoOpen to let the
// first Publish open it.
func New(id []byte, tr transport.Transport, opts ...Option) (*Broadcast, error) {
	if len(id) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "broadcast", "New", "empty node id")
	}
	if tr == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "broadcast", "New", "nil transport")
	}

	b := &Broadcast{
		id:             append([]byte(nil), id...),
		transport:      tr,
		codec:          packet.BinaryCodec{},
		logger:         slog.Default(),
		cacheCfg:       seencache.DefaultConfig(),
		workers:        DefaultFanoutWorkers,
		queueSize:      DefaultFanoutQueue,
		deliveryBuffer: DefaultDeliveryBuffer,
		eventBuffer:    DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.dir == nil {
		b.dir = directory.NewPush()
	}
	b.logger = b.logger.With("node", hex.EncodeToString(b.id))
	b.metrics = newEngineMetrics(b.registry, hex.EncodeToString(b.id))

	b.delivered = make(chan packet.Packet, b.deliveryBuffer)
	b.events = make(chan Event, b.eventBuffer)
	b.metrics.setStatus(StateClosed)

	return b, nil
}

// ID returns the engine's node ID.
func (b *Broadcast) ID() []byte {
	return append([]byte(nil), b.id...)
}

// State returns the current lifecycle state.
func (b *Broadcast) State() State {
	return State(b.state.Load())
}

// Delivered carries each novel packet exactly once. Consumers that fall
// behind the channel buffer lose packets; the loss is counted.
func (b *Broadcast) Delivered() <-chan packet.Packet {
	return b.delivered
}

// Events carries diagnostic events. Same non-blocking contract as
// Delivered.
func (b *Broadcast) Events() <-chan Event {
	return b.events
}

// Open subscribes to the transport and starts the fan-out pool.
// Idempotent: opening an open engine is a no-op.
func (b *Broadcast) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State() {
	case StateOpen, StateOpening:
		return nil
	case StateClosing:
		return errors.WrapInvalid(errors.ErrClosing, "broadcast", "Open", "engine is closing")
	}

	b.setState(StateOpening)

	runCtx, cancel := context.WithCancel(context.Background())

	var cacheOpts []seencache.Option
	if b.registry != nil {
		cacheOpts = append(cacheOpts, seencache.WithMetrics(b.registry, "engine"))
	}
	cache, err := seencache.New(runCtx, b.cacheCfg, cacheOpts...)
	if err != nil {
		cancel()
		b.setState(StateClosed)
		return err
	}

	pool := worker.NewPool(b.workers, b.queueSize, b.processSend)
	if err := pool.Start(runCtx); err != nil {
		cancel()
		_ = cache.Close()
		b.setState(StateClosed)
		return errors.Wrap(err, "broadcast", "Open", "start fanout pool")
	}

	unsub, err := b.transport.Subscribe(b.onData, b.onPeersChanged)
	if err != nil {
		cancel()
		_ = pool.Stop(closeTimeout)
		_ = cache.Close()
		b.setState(StateClosed)
		return errors.WrapTransient(err, "broadcast", "Open", "transport subscription")
	}

	b.cache = cache
	b.pool = pool
	b.unsub = unsub
	b.cancel = cancel
	b.setState(StateOpen)
	b.logger.Info("engine opened")

	// Prime the directory so the first fan-out has a snapshot even in
	// pull mode. A failure here is the same non-fatal condition as a
	// failed pre-fanout refresh.
	if err := b.dir.Refresh(ctx); err != nil {
		b.emit(Event{Kind: EventLookupError, Err: err})
		b.metrics.errorKind("lookup")
	}
	return nil
}

// Close unsubscribes from the transport, stops the fan-out pool, and
// clears the dedup cache. Idempotent.
func (b *Broadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.State() {
	case StateClosed, StateClosing:
		return nil
	}

	b.setState(StateClosing)

	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}

	var firstErr error
	if b.pool != nil {
		if err := b.pool.Stop(closeTimeout); err != nil {
			firstErr = errors.Wrap(err, "broadcast", "Close", "stop fanout pool")
		}
		b.pool = nil
	}
	if b.cache != nil {
		b.cache.Clear()
		if err := b.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.cache = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}

	b.setState(StateClosed)
	b.logger.Info("engine closed")
	return firstErr
}

// Publish floods data to the peer graph and returns the finalized packet
// with this node as origin. Requires the engine to be open unless
// WithAutoOpen was configured.
func (b *Broadcast) Publish(ctx context.Context, data []byte, opts ...PublishOption) (*packet.Packet, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyPayload, "broadcast", "Publish", "empty data")
	}

	if b.State() != StateOpen {
		if !b.autoOpen {
			return nil, errors.WrapInvalid(errors.ErrNotOpen, "broadcast", "Publish", "engine not open")
		}
		if err := b.Open(ctx); err != nil {
			return nil, err
		}
	}

	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}

	seqno := po.seqno
	if len(seqno) == 0 {
		var err error
		seqno, err = packet.NewSeqno()
		if err != nil {
			return nil, err
		}
	}

	pkt := &packet.Packet{
		Seqno:  append([]byte(nil), seqno...),
		Origin: append([]byte(nil), b.id...),
		From:   append([]byte(nil), b.id...),
		Data:   append([]byte(nil), data...),
	}

	cache := b.currentCache()
	if cache == nil {
		return nil, errors.WrapInvalid(errors.ErrNotOpen, "broadcast", "Publish", "engine not open")
	}
	cache.Add(packet.Token(pkt.Seqno, b.id))

	if err := b.forward(ctx, pkt); err != nil {
		return nil, err
	}

	b.metrics.published()
	return pkt.Clone(), nil
}

// UpdateConfig replaces the dedup cache bounds. New values apply to
// subsequent cache operations; the next Open also starts from them.
func (b *Broadcast) UpdateConfig(maxSize int, maxAge time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if maxSize <= 0 || maxAge <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "broadcast", "UpdateConfig", "non-positive bounds")
	}

	b.cacheCfg.MaxSize = maxSize
	b.cacheCfg.MaxAge = maxAge
	if b.cache != nil {
		return b.cache.UpdateConfig(maxSize, maxAge)
	}
	return nil
}

// SeenTokens returns a snapshot of the live dedup tokens, oldest first.
func (b *Broadcast) SeenTokens() []string {
	cache := b.currentCache()
	if cache == nil {
		return nil
	}
	return cache.Tokens()
}

func (b *Broadcast) setState(s State) {
	b.state.Store(int32(s))
	b.metrics.setStatus(s)
}

func (b *Broadcast) currentCache() *seencache.Cache {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache
}

func (b *Broadcast) currentPool() *worker.Pool[sendJob] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pool
}

// onPeersChanged feeds transport membership updates into the directory.
func (b *Broadcast) onPeersChanged(peers []directory.Peer) {
	filtered := peers[:0:0]
	for _, p := range peers {
		if !bytes.Equal(p.ID, b.id) {
			filtered = append(filtered, p)
		}
	}
	b.dir.Update(filtered)
}
