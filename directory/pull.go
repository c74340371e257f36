package directory

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dxos-deprecated/broadcast/errors"
)

// LookupFunc fetches the current neighbor set from an external source.
type LookupFunc func(ctx context.Context) ([]Peer, error)

// PullDirectory fetches its snapshot on demand through a LookupFunc.
// Overlapping Refresh calls coalesce into a single in-flight lookup; all
// callers get that lookup's result. A failed lookup keeps the previous
// snapshot so fan-out can proceed on possibly stale neighbors.
type PullDirectory struct {
	lookup LookupFunc
	group  singleflight.Group

	mu    sync.RWMutex
	peers []Peer
}

// NewPull creates a directory backed by the given lookup.
func NewPull(lookup LookupFunc) (*PullDirectory, error) {
	if lookup == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "directory", "NewPull", "nil lookup")
	}
	return &PullDirectory{lookup: lookup}, nil
}

// Peers returns the snapshot from the most recent successful lookup.
func (d *PullDirectory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers
}

// Update replaces the snapshot directly, bypassing the lookup. The next
// Refresh overwrites it.
func (d *PullDirectory) Update(peers []Peer) {
	snapshot := make([]Peer, len(peers))
	copy(snapshot, peers)

	d.mu.Lock()
	d.peers = snapshot
	d.mu.Unlock()
}

// Refresh runs the lookup and installs its result. Concurrent callers
// share one in-flight lookup. On error the previous snapshot stays.
func (d *PullDirectory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("lookup", func() (any, error) {
		peers, err := d.lookup(ctx)
		if err != nil {
			return nil, errors.WrapTransient(err, "directory", "Refresh", "peer lookup")
		}

		snapshot := make([]Peer, len(peers))
		copy(snapshot, peers)

		d.mu.Lock()
		d.peers = snapshot
		d.mu.Unlock()
		return nil, nil
	})
	return err
}
