package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/errors"
	"github.com/dxos-deprecated/broadcast/packet"
	"github.com/dxos-deprecated/broadcast/seencache"
	"github.com/dxos-deprecated/broadcast/transport"
)

func newNode(t *testing.T, net *transport.MemoryNetwork, id string, opts ...Option) *Broadcast {
	t.Helper()
	b, err := New([]byte(id), net.Join([]byte(id)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func openNode(t *testing.T, net *transport.MemoryNetwork, id string, opts ...Option) *Broadcast {
	t.Helper()
	b := newNode(t, net, id, opts...)
	require.NoError(t, b.Open(context.Background()))
	return b
}

// waitDelivered returns the next delivered packet or fails the test.
func waitDelivered(t *testing.T, b *Broadcast) packet.Packet {
	t.Helper()
	select {
	case pkt := <-b.Delivered():
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for delivery on node %x", b.ID())
		return packet.Packet{}
	}
}

// waitEvent returns the next event of the given kind, skipping others.
func waitEvent(t *testing.T, b *Broadcast, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v event", kind)
			return Event{}
		}
	}
}

func TestPublishRequiresOpen(t *testing.T) {
	net := transport.NewMemoryNetwork()
	b := newNode(t, net, "a")

	_, err := b.Publish(context.Background(), []byte("payload"))
	assert.ErrorIs(t, err, errors.ErrNotOpen)
}

func TestPublishEmptyPayload(t *testing.T) {
	net := transport.NewMemoryNetwork()
	b := openNode(t, net, "a")

	_, err := b.Publish(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrEmptyPayload)
}

func TestAutoOpen(t *testing.T) {
	net := transport.NewMemoryNetwork()
	b := newNode(t, net, "a", WithAutoOpen(true))

	require.Equal(t, StateClosed, b.State())
	_, err := b.Publish(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestLifecycleIdempotence(t *testing.T) {
	net := transport.NewMemoryNetwork()
	b := newNode(t, net, "a")
	ctx := context.Background()

	require.NoError(t, b.Open(ctx))
	require.NoError(t, b.Open(ctx), "double open is a no-op")
	assert.Equal(t, StateOpen, b.State())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "double close is a no-op")
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Open(ctx), "engine can reopen after close")
	assert.Equal(t, StateOpen, b.State())
}

func TestPublishReturnsFinalizedPacket(t *testing.T) {
	net := transport.NewMemoryNetwork()
	b := openNode(t, net, "a")

	pkt, err := b.Publish(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), pkt.Origin)
	assert.Equal(t, []byte("a"), pkt.From)
	assert.Equal(t, []byte("payload"), pkt.Data)
	assert.Len(t, pkt.Seqno, packet.SeqnoLength)
}

func TestPublishWithCustomSeqno(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	b := openNode(t, net, "b")
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	seqno := []byte("custom-seqno")
	pkt, err := a.Publish(context.Background(), []byte("payload"), WithSeqno(seqno))
	require.NoError(t, err)
	assert.Equal(t, seqno, pkt.Seqno)

	got := waitDelivered(t, b)
	assert.Equal(t, seqno, got.Seqno, "seqno should survive the hop unchanged")
	assert.Equal(t, []byte("payload"), got.Data)
	assert.Equal(t, pkt.MessageID(), got.MessageID())
}

func TestTwoNodeDelivery(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	b := openNode(t, net, "b")
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	_, err := a.Publish(context.Background(), []byte("hello"))
	require.NoError(t, err)

	got := waitDelivered(t, b)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, []byte("a"), got.Origin)
}

func TestDeliverOnceInCycle(t *testing.T) {
	// Full triangle: every packet reaches each node over two paths, and
	// each node must deliver it exactly once.
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	b := openNode(t, net, "b")
	c := openNode(t, net, "c")
	require.NoError(t, net.Connect(a.ID(), b.ID()))
	require.NoError(t, net.Connect(b.ID(), c.ID()))
	require.NoError(t, net.Connect(a.ID(), c.ID()))

	_, err := a.Publish(context.Background(), []byte("once"))
	require.NoError(t, err)

	waitDelivered(t, b)
	waitDelivered(t, c)

	// Let any redundant copies settle, then confirm nothing else came.
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, b.Delivered())
	assert.Empty(t, c.Delivered())
	assert.Empty(t, a.Delivered(), "origin never delivers its own packet")
}

func TestFloodTerminates(t *testing.T) {
	// The dedup cache must quench re-forwarding in a cyclic graph: after
	// the flood settles no node keeps sending.
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	b := openNode(t, net, "b")
	c := openNode(t, net, "c")
	require.NoError(t, net.Connect(a.ID(), b.ID()))
	require.NoError(t, net.Connect(b.ID(), c.ID()))
	require.NoError(t, net.Connect(a.ID(), c.ID()))

	_, err := a.Publish(context.Background(), []byte("quench"))
	require.NoError(t, err)

	waitDelivered(t, b)
	waitDelivered(t, c)
	time.Sleep(200 * time.Millisecond)

	// Each edge carries a packet at most once per direction, so the
	// token count is bounded by nodes plus directed edges.
	total := len(a.SeenTokens()) + len(b.SeenTokens()) + len(c.SeenTokens())
	assert.LessOrEqual(t, total, 3*3, "flood should quench, not circulate")
}

func TestOwnOriginDropped(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")

	// Hand-craft a packet authored by a and push it back at a.
	pkt := &packet.Packet{
		Seqno:  []byte("seq-echo"),
		Origin: []byte("a"),
		From:   []byte("z"),
		Data:   []byte("echo"),
	}
	encoded, err := packet.BinaryCodec{}.Encode(pkt)
	require.NoError(t, err)

	outsider := net.Join([]byte("z"))
	require.NoError(t, net.Connect(outsider.ID(), a.ID()))
	require.NoError(t, outsider.Send(context.Background(), encoded, directory.Peer{ID: a.ID()}))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, a.Delivered(), "a node must not deliver packets it authored")
}

func TestDecodeErrorEvent(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")

	outsider := net.Join([]byte("x"))
	require.NoError(t, net.Connect(outsider.ID(), a.ID()))
	require.NoError(t, outsider.Send(context.Background(), []byte("not a packet"), directory.Peer{ID: a.ID()}))

	ev := waitEvent(t, a, EventDecodeError)
	assert.Error(t, ev.Err)
	assert.Empty(t, a.Delivered())
}

func TestSendErrorEvent(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")

	// b is wired into a's neighbor set but never subscribes, so every
	// send to it fails.
	bEndpoint := net.Join([]byte("b"))
	require.NoError(t, net.Connect(a.ID(), bEndpoint.ID()))

	_, err := a.Publish(context.Background(), []byte("payload"))
	require.NoError(t, err, "per-neighbor failure must not fail the publish")

	ev := waitEvent(t, a, EventSendError)
	assert.Error(t, ev.Err)
	assert.Equal(t, bEndpoint.ID(), ev.Peer.ID)
}

func TestSentEvent(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	b := openNode(t, net, "b")
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	_, err := a.Publish(context.Background(), []byte("payload"))
	require.NoError(t, err)

	ev := waitEvent(t, a, EventSent)
	assert.Equal(t, b.ID(), ev.Peer.ID)
	require.NotNil(t, ev.Packet)
	assert.Equal(t, []byte("a"), ev.Packet.From)
}

func TestLookupErrorEvent(t *testing.T) {
	net := transport.NewMemoryNetwork()

	failing, err := directory.NewPull(func(_ context.Context) ([]directory.Peer, error) {
		return nil, fmt.Errorf("membership service down")
	})
	require.NoError(t, err)

	a := newNode(t, net, "a", WithDirectory(failing))
	require.NoError(t, a.Open(context.Background()))

	_, err = a.Publish(context.Background(), []byte("payload"))
	require.NoError(t, err, "lookup failure is non-fatal")

	ev := waitEvent(t, a, EventLookupError)
	assert.Error(t, ev.Err)
}

func TestPullDirectoryFanout(t *testing.T) {
	net := transport.NewMemoryNetwork()

	aEndpoint := net.Join([]byte("a"))
	pull, err := directory.NewPull(aEndpoint.Lookup)
	require.NoError(t, err)

	a, err := New([]byte("a"), aEndpoint, WithDirectory(pull))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b := openNode(t, net, "b")
	require.NoError(t, net.Connect(aEndpoint.ID(), b.ID()))
	require.NoError(t, a.Open(context.Background()))

	_, err = a.Publish(context.Background(), []byte("pulled"))
	require.NoError(t, err)

	got := waitDelivered(t, b)
	assert.Equal(t, []byte("pulled"), got.Data)
}

func TestCloseClearsSeenState(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	b := openNode(t, net, "b")
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	seqno := []byte("replayed-seqno")
	_, err := a.Publish(context.Background(), []byte("first"), WithSeqno(seqno))
	require.NoError(t, err)
	waitDelivered(t, b)

	require.NoError(t, a.Close())
	require.NoError(t, a.Open(context.Background()))

	// After close+reopen the dedup state is gone, so the same seqno
	// floods again.
	_, err = a.Publish(context.Background(), []byte("second"), WithSeqno(seqno))
	require.NoError(t, err)

	// b still remembers the seqno and must not deliver it twice.
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, b.Delivered())
}

func TestUpdateConfigForwardsToCache(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")

	require.NoError(t, a.UpdateConfig(50, time.Minute))
	assert.Error(t, a.UpdateConfig(0, time.Minute))
	assert.Error(t, a.UpdateConfig(50, 0))
}

func TestPublishWhileClosedAfterClose(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := openNode(t, net, "a")
	require.NoError(t, a.Close())

	_, err := a.Publish(context.Background(), []byte("payload"))
	assert.ErrorIs(t, err, errors.ErrNotOpen)
}

func TestNewValidation(t *testing.T) {
	net := transport.NewMemoryNetwork()

	_, err := New(nil, net.Join([]byte("a")))
	assert.Error(t, err)

	_, err = New([]byte("a"), nil)
	assert.Error(t, err)
}

func TestSeenTokensDrainAfterMaxAge(t *testing.T) {
	net := transport.NewMemoryNetwork()
	cfg := seencache.Config{
		MaxSize:         1000,
		MaxAge:          150 * time.Millisecond,
		CleanupInterval: 30 * time.Millisecond,
	}
	a := openNode(t, net, "a", WithCacheConfig(cfg))
	b := openNode(t, net, "b", WithCacheConfig(cfg))
	require.NoError(t, net.Connect(a.ID(), b.ID()))

	_, err := a.Publish(context.Background(), []byte("transient"))
	require.NoError(t, err)
	waitDelivered(t, b)

	require.NotEmpty(t, a.SeenTokens())

	assert.Eventually(t, func() bool {
		return len(a.SeenTokens()) == 0 && len(b.SeenTokens()) == 0
	}, 2*time.Second, 25*time.Millisecond, "dedup state should age out completely")
}
