package directory

import (
	"context"
	"encoding/hex"
	"sync"
)

// Peer is a reachable neighbor. ID identifies the node in packets;
// Handle is whatever the transport needs to reach it (a connection, a
// subject name) and is opaque to the engine.
type Peer struct {
	ID     []byte
	Handle any
}

// Key returns the string form of the peer ID, usable as a map key.
func (p Peer) Key() string {
	return hex.EncodeToString(p.ID)
}

// Directory supplies the current set of neighbors for fan-out.
//
// Peers returns the latest snapshot; the caller must not mutate it.
// Update atomically replaces the snapshot. Refresh asks the directory
// to obtain a fresh snapshot before the caller reads it; directories
// that are fed by pushes treat it as a no-op.
type Directory interface {
	Peers() []Peer
	Update(peers []Peer)
	Refresh(ctx context.Context) error
}

// PushDirectory holds a snapshot replaced by external Update calls,
// typically wired to a transport's neighbor notifications.
type PushDirectory struct {
	mu    sync.RWMutex
	peers []Peer
}

// NewPush creates an empty push-fed directory.
func NewPush() *PushDirectory {
	return &PushDirectory{}
}

// Peers returns the current snapshot.
func (d *PushDirectory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers
}

// Update replaces the snapshot.
func (d *PushDirectory) Update(peers []Peer) {
	snapshot := make([]Peer, len(peers))
	copy(snapshot, peers)

	d.mu.Lock()
	d.peers = snapshot
	d.mu.Unlock()
}

// Refresh is a no-op; the snapshot changes only through Update.
func (d *PushDirectory) Refresh(_ context.Context) error {
	return nil
}
