package transport

import (
	"context"

	"github.com/dxos-deprecated/broadcast/directory"
)

// OnDataFunc receives raw encoded packets from the wire. Implementations
// must not retain the slice past the call.
type OnDataFunc func(data []byte)

// OnPeersFunc receives the full current neighbor set whenever membership
// changes.
type OnPeersFunc func(peers []directory.Peer)

// Unsubscribe tears down a subscription. Safe to call more than once.
type Unsubscribe func()

// Transport moves encoded packets between a node and its neighbors. The
// engine treats it as a dumb pipe: dedup, fan-out decisions, and codec
// concerns all live above it.
type Transport interface {
	// Send delivers data to a single neighbor. A failure affects that
	// neighbor only.
	Send(ctx context.Context, data []byte, peer directory.Peer) error

	// Subscribe starts delivery of inbound data and, for transports that
	// track membership, neighbor updates. onPeers may be nil.
	Subscribe(onData OnDataFunc, onPeers OnPeersFunc) (Unsubscribe, error)
}

// Lookuper is implemented by transports that can answer an on-demand
// membership query, for directories that pull instead of being pushed.
type Lookuper interface {
	Lookup(ctx context.Context) ([]directory.Peer, error)
}
