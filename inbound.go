package broadcast

import (
	"bytes"
	"context"
	stderrors "errors"

	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/errors"
	"github.com/dxos-deprecated/broadcast/packet"
	"github.com/dxos-deprecated/broadcast/pkg/worker"
)

// sendJob is one per-neighbor transmission.
type sendJob struct {
	peer    directory.Peer
	data    []byte
	forward *packet.Packet
}

// onData is the transport's inbound callback. It runs the full receive
// pipeline: decode, drop echoes and duplicates, deliver novel packets
// locally, then re-forward.
func (b *Broadcast) onData(data []byte) {
	if b.State() != StateOpen {
		return
	}
	b.metrics.received()

	pkt, err := b.codec.Decode(data)
	if err != nil {
		b.metrics.dropped("decode")
		b.metrics.errorKind("decode")
		b.emit(Event{Kind: EventDecodeError, Err: err})
		b.logger.Debug("inbound decode failed", "error", err)
		return
	}

	// A copy of a message this node authored has completed a cycle
	// through the graph. Nothing downstream wants it.
	if bytes.Equal(pkt.Origin, b.id) {
		b.metrics.dropped("own_origin")
		return
	}

	cache := b.currentCache()
	if cache == nil {
		return
	}

	// The relay provably holds this packet. Recording that suppresses
	// the echo back to it during fan-out.
	cache.Add(packet.Token(pkt.Seqno, pkt.From))

	b.noteUnknownRelay(pkt.From)

	// One winner per (seqno, self): concurrent copies of the same packet
	// race here and exactly one proceeds to delivery.
	if !cache.Add(packet.Token(pkt.Seqno, b.id)) {
		b.metrics.dropped("duplicate")
		return
	}

	b.deliver(pkt)

	if err := b.forward(context.Background(), pkt); err != nil {
		b.logger.Debug("forward failed", "message", pkt.MessageID(), "error", err)
	}
}

// deliver hands a novel packet to the consumer, without blocking.
func (b *Broadcast) deliver(pkt *packet.Packet) {
	select {
	case b.delivered <- *pkt.Clone():
		b.metrics.delivered()
	default:
		b.metrics.dropped("delivery_backpressure")
	}
}

// noteUnknownRelay logs when a packet arrives from a node the directory
// does not currently list. Membership is eventually consistent, so this
// is advisory and never gates processing.
func (b *Broadcast) noteUnknownRelay(from []byte) {
	fromKey := directory.Peer{ID: from}.Key()
	for _, p := range b.dir.Peers() {
		if p.Key() == fromKey {
			return
		}
	}
	b.logger.Debug("packet relayed by peer not in directory", "from", fromKey)
}

// forward fans a packet out to the current neighbor snapshot, skipping
// the origin and every neighbor already recorded as holding it. The
// outbound copy carries this node as From and is encoded once.
func (b *Broadcast) forward(ctx context.Context, pkt *packet.Packet) error {
	if err := b.dir.Refresh(ctx); err != nil {
		b.metrics.errorKind("lookup")
		b.emit(Event{Kind: EventLookupError, Err: err})
	}

	peers := b.dir.Peers()
	if len(peers) == 0 {
		return nil
	}

	cache := b.currentCache()
	pool := b.currentPool()
	if cache == nil || pool == nil {
		return errors.WrapInvalid(errors.ErrNotOpen, "broadcast", "forward", "engine not open")
	}

	out := pkt.Clone()
	out.From = append([]byte(nil), b.id...)
	encoded, err := b.codec.Encode(out)
	if err != nil {
		return errors.Wrap(err, "broadcast", "forward", "encode packet")
	}

	originKey := directory.Peer{ID: pkt.Origin}.Key()
	selfKey := directory.Peer{ID: b.id}.Key()

	for _, peer := range peers {
		key := peer.Key()
		if key == originKey || key == selfKey {
			continue
		}
		// Mark before dispatch. A false return means some other path
		// already committed to (or observed) this neighbor holding the
		// packet, so the send is redundant.
		if !cache.Add(packet.Token(pkt.Seqno, peer.ID)) {
			continue
		}

		job := sendJob{peer: peer, data: encoded, forward: out}
		if err := pool.Submit(job); err != nil {
			if stderrors.Is(err, worker.ErrQueueFull) {
				// Degrade to synchronous dispatch rather than lose the send.
				_ = b.processSend(ctx, job)
				continue
			}
			b.metrics.send(false)
			b.emit(Event{Kind: EventSendError, Peer: peer, Packet: out, Err: err})
		}
	}
	return nil
}

// processSend transmits one job. Failures are per-neighbor and reported
// as events, never returned up the fan-out.
func (b *Broadcast) processSend(ctx context.Context, job sendJob) error {
	if err := b.transport.Send(ctx, job.data, job.peer); err != nil {
		b.metrics.send(false)
		b.metrics.errorKind("send")
		b.emit(Event{Kind: EventSendError, Peer: job.peer, Packet: job.forward, Err: err})
		b.logger.Debug("send failed", "peer", job.peer.Key(), "error", err)
		return err
	}
	b.metrics.send(true)
	b.metrics.forwarded()
	b.emit(Event{Kind: EventSent, Peer: job.peer, Packet: job.forward})
	return nil
}
