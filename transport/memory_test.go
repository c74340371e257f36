package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/errors"
)

func TestMemorySendDelivers(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	var mu sync.Mutex
	var got [][]byte
	_, err := b.Subscribe(func(data []byte) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Send(context.Background(), []byte("hello"), directory.Peer{ID: b.ID()}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("hello"), got[0])
}

func TestMemorySendCopiesData(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	var mu sync.Mutex
	var got []byte
	_, err := b.Subscribe(func(data []byte) {
		mu.Lock()
		got = data
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	payload := []byte("hello")
	require.NoError(t, a.Send(context.Background(), payload, directory.Peer{ID: b.ID()}))
	payload[0] = 'X'

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("hello"), got)
}

func TestMemorySendToUnknownPeer(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))

	err := a.Send(context.Background(), []byte("x"), directory.Peer{ID: []byte("ghost")})
	assert.ErrorIs(t, err, errors.ErrPeerNotFound)
}

func TestMemorySendToUnsubscribedPeer(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	err := a.Send(context.Background(), []byte("x"), directory.Peer{ID: b.ID()})
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestMemoryConnectNotifiesPeers(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	c := net.Join([]byte("c"))

	var mu sync.Mutex
	var lastUpdate []directory.Peer
	_, err := a.Subscribe(func([]byte) {}, func(peers []directory.Peer) {
		mu.Lock()
		lastUpdate = peers
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, net.Connect(a.ID(), b.ID()))
	require.NoError(t, net.Connect(a.ID(), c.ID()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, lastUpdate, 2)
}

func TestMemoryLookup(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	peers, err := a.Lookup(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, b.ID(), peers[0].ID)
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	var mu sync.Mutex
	count := 0
	unsub, err := b.Subscribe(func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Send(context.Background(), []byte("x"), directory.Peer{ID: b.ID()}))
	unsub()
	err = a.Send(context.Background(), []byte("y"), directory.Peer{ID: b.ID()})
	assert.Error(t, err, "delivery to an unsubscribed endpoint should fail")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMemoryCloseRemovesFromNetwork(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))
	b := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), b.ID()))
	require.NoError(t, b.Close())

	err := a.Send(context.Background(), []byte("x"), directory.Peer{ID: b.ID()})
	assert.ErrorIs(t, err, errors.ErrPeerNotFound)
}

func TestMemorySendToSelf(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.Join([]byte("a"))

	err := a.Send(context.Background(), []byte("x"), directory.Peer{ID: a.ID()})
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestNATSConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     NATSConfig
		wantErr bool
	}{
		{"valid", NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "bc", AnnounceInterval: time.Second, PeerTTL: 3 * time.Second}, false},
		{"missing url", NATSConfig{SubjectPrefix: "bc", AnnounceInterval: time.Second, PeerTTL: 3 * time.Second}, true},
		{"bad prefix", NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "a.b", AnnounceInterval: time.Second, PeerTTL: 3 * time.Second}, true},
		{"ttl below interval", NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "bc", AnnounceInterval: 3 * time.Second, PeerTTL: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
