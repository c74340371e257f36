package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/errors"
	"github.com/dxos-deprecated/broadcast/pkg/buffer"
	"github.com/dxos-deprecated/broadcast/pkg/retry"
)

// NATSConfig configures a NATS-backed transport.
type NATSConfig struct {
	// URL is the NATS server address, e.g. nats://127.0.0.1:4222.
	URL string

	// SubjectPrefix namespaces one broadcast mesh. Nodes with different
	// prefixes never see each other. Defaults to "broadcast".
	SubjectPrefix string

	// AnnounceInterval is how often the node advertises its presence.
	AnnounceInterval time.Duration

	// PeerTTL is how long a silent peer stays in the neighbor set.
	// Must exceed AnnounceInterval.
	PeerTTL time.Duration

	// ConnectTimeout bounds the initial connection attempt, including
	// backoff retries.
	ConnectTimeout time.Duration

	// InboundBuffer is the capacity of the inbound ring buffer.
	InboundBuffer int
}

// Defaults for NATSConfig zero values.
const (
	DefaultSubjectPrefix    = "broadcast"
	DefaultAnnounceInterval = time.Second
	DefaultPeerTTL          = 3 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultInboundBuffer    = 1024
)

func (c *NATSConfig) applyDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	if c.PeerTTL == 0 {
		c.PeerTTL = DefaultPeerTTL
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.InboundBuffer == 0 {
		c.InboundBuffer = DefaultInboundBuffer
	}
}

// Validate checks the configuration.
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "transport", "Validate", "nats url required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " .*>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "transport", "Validate",
			fmt.Sprintf("subject prefix %q contains reserved characters", c.SubjectPrefix))
	}
	if c.PeerTTL <= c.AnnounceInterval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "transport", "Validate",
			fmt.Sprintf("peer ttl %v must exceed announce interval %v", c.PeerTTL, c.AnnounceInterval))
	}
	return nil
}

type natsPeer struct {
	peer     directory.Peer
	lastSeen time.Time
}

// NATS carries packets over a NATS server. Each node listens on its own
// inbox subject and advertises itself on a shared presence subject;
// membership is everyone whose presence was heard within PeerTTL. The
// presence feed drives the subscriber's peers callback, so a push
// directory works with no extra wiring; Lookup serves pull directories
// from the same view.
type NATS struct {
	cfg     NATSConfig
	id      []byte
	session string
	logger  *slog.Logger

	conn    *nats.Conn
	inbound *buffer.Ring[[]byte]
	notify  chan struct{}

	mu          sync.RWMutex
	onData      OnDataFunc
	onPeers     OnPeersFunc
	peers       map[string]natsPeer
	inboxSub    *nats.Subscription
	presenceSub *nats.Subscription

	shutdown  chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

var (
	_ Transport = (*NATS)(nil)
	_ Lookuper  = (*NATS)(nil)
)

// NewNATS connects to the server and starts presence announcements.
// The connection attempt retries with backoff until ConnectTimeout.
func NewNATS(ctx context.Context, id []byte, cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if len(id) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "transport", "NewNATS", "empty node id")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &NATS{
		cfg:      cfg,
		id:       append([]byte(nil), id...),
		session:  uuid.NewString(),
		logger:   logger.With("transport", "nats", "node", hex.EncodeToString(id)),
		inbound:  buffer.NewRing[[]byte](cfg.InboundBuffer, buffer.DropOldest, nil),
		notify:   make(chan struct{}, 1),
		peers:    make(map[string]natsPeer),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := retry.DoWithResult(connectCtx, retry.Quick(), func() (*nats.Conn, error) {
		return nats.Connect(cfg.URL,
			nats.Name("broadcast-"+t.session),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					t.logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				t.logger.Info("nats reconnected")
			}),
		)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "NewNATS", "connect")
	}
	t.conn = conn

	go t.run()
	return t, nil
}

// ID returns the node ID the transport was created with.
func (t *NATS) ID() []byte { return t.id }

func (t *NATS) inboxSubject(id []byte) string {
	return t.cfg.SubjectPrefix + ".peer." + hex.EncodeToString(id)
}

func (t *NATS) presenceSubject() string {
	return t.cfg.SubjectPrefix + ".presence"
}

// Send publishes data to the peer's inbox subject.
func (t *NATS) Send(ctx context.Context, data []byte, peer directory.Peer) error {
	if t.closed.Load() {
		return errors.WrapInvalid(errors.ErrClosed, "transport", "Send", "transport closed")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "transport", "Send", "context done")
	}

	subject, ok := peer.Handle.(string)
	if !ok || subject == "" {
		subject = t.inboxSubject(peer.ID)
	}
	if err := t.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "transport", "Send",
			fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Subscribe starts inbound delivery on the node's inbox and membership
// tracking on the presence subject.
func (t *NATS) Subscribe(onData OnDataFunc, onPeers OnPeersFunc) (Unsubscribe, error) {
	if onData == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "transport", "Subscribe", "nil data callback")
	}
	if t.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrClosed, "transport", "Subscribe", "transport closed")
	}

	t.mu.Lock()
	if t.inboxSub != nil {
		t.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrSubscriptionFailed, "transport", "Subscribe",
			"already subscribed")
	}
	t.onData = onData
	t.onPeers = onPeers
	t.mu.Unlock()

	inboxSub, err := t.conn.Subscribe(t.inboxSubject(t.id), func(msg *nats.Msg) {
		data := append([]byte(nil), msg.Data...)
		if err := t.inbound.Write(data); err != nil {
			return
		}
		select {
		case t.notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "Subscribe", "inbox subscription")
	}

	presenceSub, err := t.conn.Subscribe(t.presenceSubject(), func(msg *nats.Msg) {
		t.handlePresence(msg.Data)
	})
	if err != nil {
		_ = inboxSub.Unsubscribe()
		return nil, errors.WrapTransient(err, "transport", "Subscribe", "presence subscription")
	}

	t.mu.Lock()
	t.inboxSub = inboxSub
	t.presenceSub = presenceSub
	t.mu.Unlock()

	t.announce()
	return t.unsubscribe, nil
}

func (t *NATS) unsubscribe() {
	t.mu.Lock()
	inboxSub, presenceSub := t.inboxSub, t.presenceSub
	t.inboxSub, t.presenceSub = nil, nil
	t.onData = nil
	t.onPeers = nil
	t.mu.Unlock()

	if inboxSub != nil {
		_ = inboxSub.Unsubscribe()
	}
	if presenceSub != nil {
		_ = presenceSub.Unsubscribe()
	}
}

// Lookup returns the peers whose presence is current.
func (t *NATS) Lookup(_ context.Context) ([]directory.Peer, error) {
	if t.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrClosed, "transport", "Lookup", "transport closed")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(), nil
}

// Close stops the background loop and drains the connection.
func (t *NATS) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.shutdown)

		select {
		case <-t.done:
		case <-time.After(5 * time.Second):
			err = errors.WrapTransient(
				fmt.Errorf("timeout waiting for transport loop"),
				"transport", "Close", "stop background loop")
		}

		t.unsubscribe()
		t.inbound.Close()

		if drainErr := t.conn.Drain(); drainErr != nil {
			t.conn.Close()
		}
	})
	return err
}

// run announces presence, prunes silent peers, and dispatches buffered
// inbound data to the subscriber.
func (t *NATS) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			t.announce()
			t.prunePeers()
		case <-t.notify:
			t.dispatch()
		}
	}
}

func (t *NATS) dispatch() {
	t.mu.RLock()
	onData := t.onData
	t.mu.RUnlock()
	if onData == nil {
		return
	}

	for {
		batch := t.inbound.ReadBatch(64)
		if len(batch) == 0 {
			return
		}
		for _, data := range batch {
			onData(data)
		}
	}
}

func (t *NATS) announce() {
	payload := hex.EncodeToString(t.id) + " " + t.session
	if err := t.conn.Publish(t.presenceSubject(), []byte(payload)); err != nil {
		t.logger.Warn("presence announce failed", "error", err)
	}
}

func (t *NATS) handlePresence(payload []byte) {
	fields := strings.Fields(string(payload))
	if len(fields) != 2 {
		return
	}
	id, err := hex.DecodeString(fields[0])
	if err != nil || len(id) == 0 {
		return
	}
	key := peerKey(id)
	if key == peerKey(t.id) {
		return
	}

	t.mu.Lock()
	_, known := t.peers[key]
	t.peers[key] = natsPeer{
		peer:     directory.Peer{ID: id, Handle: t.inboxSubject(id)},
		lastSeen: time.Now(),
	}
	var snapshot []directory.Peer
	var onPeers OnPeersFunc
	if !known {
		snapshot = t.snapshotLocked()
		onPeers = t.onPeers
	}
	t.mu.Unlock()

	if onPeers != nil {
		onPeers(snapshot)
	}
}

func (t *NATS) prunePeers() {
	cutoff := time.Now().Add(-t.cfg.PeerTTL)

	t.mu.Lock()
	changed := false
	for key, p := range t.peers {
		if p.lastSeen.Before(cutoff) {
			delete(t.peers, key)
			changed = true
		}
	}
	var snapshot []directory.Peer
	var onPeers OnPeersFunc
	if changed {
		snapshot = t.snapshotLocked()
		onPeers = t.onPeers
	}
	t.mu.Unlock()

	if onPeers != nil {
		onPeers(snapshot)
	}
}

// snapshotLocked returns the peer set in a stable order. Caller holds
// at least a read lock.
func (t *NATS) snapshotLocked() []directory.Peer {
	peers := make([]directory.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p.peer)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Key() < peers[j].Key()
	})
	return peers
}
