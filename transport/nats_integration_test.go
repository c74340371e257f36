package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dxos-deprecated/broadcast/directory"
)

// startNATSContainer runs a NATS server in a container and returns its
// client URL. Cleanup is registered on t.
func startNATSContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start NATS container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func newNATSNode(t *testing.T, url string, id []byte) *NATS {
	t.Helper()

	tr, err := NewNATS(context.Background(), id, NATSConfig{
		URL:              url,
		SubjectPrefix:    "bctest",
		AnnounceInterval: 100 * time.Millisecond,
		PeerTTL:          500 * time.Millisecond,
		ConnectTimeout:   10 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestNATSSendAndReceive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startNATSContainer(t)

	a := newNATSNode(t, url, []byte("node-a"))
	b := newNATSNode(t, url, []byte("node-b"))

	var mu sync.Mutex
	var got [][]byte
	_, err := b.Subscribe(func(data []byte) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	_, err = a.Subscribe(func([]byte) {}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Send(context.Background(), []byte("over the wire"),
		directory.Peer{ID: b.ID()}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && string(got[0]) == "over the wire"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNATSPresenceDiscovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startNATSContainer(t)

	a := newNATSNode(t, url, []byte("node-a"))
	b := newNATSNode(t, url, []byte("node-b"))

	var mu sync.Mutex
	var lastUpdate []directory.Peer
	_, err := a.Subscribe(func([]byte) {}, func(peers []directory.Peer) {
		mu.Lock()
		lastUpdate = peers
		mu.Unlock()
	})
	require.NoError(t, err)
	_, err = b.Subscribe(func([]byte) {}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lastUpdate) == 1 && lastUpdate[0].Key() == peerKey(b.ID())
	}, 5*time.Second, 20*time.Millisecond, "a should discover b through presence")

	peers, err := a.Lookup(context.Background())
	require.NoError(t, err)
	assert.Len(t, peers, 1)
}

func TestNATSPeerExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startNATSContainer(t)

	a := newNATSNode(t, url, []byte("node-a"))
	b := newNATSNode(t, url, []byte("node-b"))

	_, err := a.Subscribe(func([]byte) {}, nil)
	require.NoError(t, err)
	_, err = b.Subscribe(func([]byte) {}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		peers, lookupErr := a.Lookup(context.Background())
		return lookupErr == nil && len(peers) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Close())

	assert.Eventually(t, func() bool {
		peers, lookupErr := a.Lookup(context.Background())
		return lookupErr == nil && len(peers) == 0
	}, 5*time.Second, 20*time.Millisecond, "silent peer should age out")
}
