package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/errors"
)

// MemoryNetwork is an in-process fabric for tests. Nodes join by ID,
// edges are wired explicitly, and sends deliver synchronously to the
// target's data callback.
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*Memory
}

// NewMemoryNetwork creates an empty fabric.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*Memory)}
}

// Join adds a node with the given ID and returns its transport.
func (n *MemoryNetwork) Join(id []byte) *Memory {
	t := &Memory{
		network: n,
		id:      append([]byte(nil), id...),
		peers:   make(map[string]directory.Peer),
	}

	n.mu.Lock()
	n.nodes[t.key()] = t
	n.mu.Unlock()
	return t
}

// Connect wires a bidirectional edge between two joined nodes. Both
// sides see the other in their neighbor set and get a peers update.
func (n *MemoryNetwork) Connect(a, b []byte) error {
	n.mu.RLock()
	ta := n.nodes[peerKey(a)]
	tb := n.nodes[peerKey(b)]
	n.mu.RUnlock()

	if ta == nil || tb == nil {
		return errors.WrapInvalid(errors.ErrPeerNotFound, "transport", "Connect",
			fmt.Sprintf("unknown node in edge %x-%x", a, b))
	}

	ta.addPeer(directory.Peer{ID: tb.id, Handle: tb})
	tb.addPeer(directory.Peer{ID: ta.id, Handle: ta})
	return nil
}

func (n *MemoryNetwork) lookup(key string) *Memory {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[key]
}

func (n *MemoryNetwork) remove(key string) {
	n.mu.Lock()
	delete(n.nodes, key)
	n.mu.Unlock()
}

// Memory is one node's endpoint on a MemoryNetwork. It implements both
// Transport and Lookuper so push and pull directories can be exercised
// against it.
type Memory struct {
	network *MemoryNetwork
	id      []byte

	mu      sync.RWMutex
	peers   map[string]directory.Peer
	onData  OnDataFunc
	onPeers OnPeersFunc
	closed  bool
}

var (
	_ Transport = (*Memory)(nil)
	_ Lookuper  = (*Memory)(nil)
)

// ID returns the node ID this endpoint was joined with.
func (t *Memory) ID() []byte { return t.id }

func (t *Memory) key() string { return peerKey(t.id) }

func peerKey(id []byte) string {
	return directory.Peer{ID: id}.Key()
}

// Send delivers data to the peer's data callback, synchronously.
func (t *Memory) Send(_ context.Context, data []byte, peer directory.Peer) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return errors.WrapInvalid(errors.ErrClosed, "transport", "Send", "endpoint closed")
	}

	target := t.network.lookup(peer.Key())
	if target == nil {
		return errors.WrapTransient(errors.ErrPeerNotFound, "transport", "Send",
			fmt.Sprintf("peer %s not on network", peer.Key()))
	}
	if bytes.Equal(target.id, t.id) {
		return errors.WrapInvalid(errors.ErrInvalidData, "transport", "Send", "send to self")
	}

	target.mu.RLock()
	onData := target.onData
	targetClosed := target.closed
	target.mu.RUnlock()

	if targetClosed || onData == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "transport", "Send",
			fmt.Sprintf("peer %s not subscribed", peer.Key()))
	}

	onData(append([]byte(nil), data...))
	return nil
}

// Subscribe installs the callbacks and replays the current neighbor set.
func (t *Memory) Subscribe(onData OnDataFunc, onPeers OnPeersFunc) (Unsubscribe, error) {
	if onData == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "transport", "Subscribe", "nil data callback")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrClosed, "transport", "Subscribe", "endpoint closed")
	}
	t.onData = onData
	t.onPeers = onPeers
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if onPeers != nil {
		onPeers(snapshot)
	}

	return func() {
		t.mu.Lock()
		t.onData = nil
		t.onPeers = nil
		t.mu.Unlock()
	}, nil
}

// Lookup returns the current neighbor set.
func (t *Memory) Lookup(_ context.Context) ([]directory.Peer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "transport", "Lookup", "endpoint closed")
	}
	return t.snapshotLocked(), nil
}

// Close removes the node from the fabric.
func (t *Memory) Close() error {
	t.mu.Lock()
	t.closed = true
	t.onData = nil
	t.onPeers = nil
	t.mu.Unlock()

	t.network.remove(t.key())
	return nil
}

func (t *Memory) addPeer(peer directory.Peer) {
	t.mu.Lock()
	t.peers[peer.Key()] = peer
	snapshot := t.snapshotLocked()
	onPeers := t.onPeers
	t.mu.Unlock()

	if onPeers != nil {
		onPeers(snapshot)
	}
}

func (t *Memory) snapshotLocked() []directory.Peer {
	peers := make([]directory.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	return peers
}
