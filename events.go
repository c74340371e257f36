package broadcast

import (
	"github.com/dxos-deprecated/broadcast/directory"
	"github.com/dxos-deprecated/broadcast/packet"
)

// EventKind classifies diagnostic events.
type EventKind int

// Event kinds emitted on the Events channel.
const (
	// EventSent reports a successful per-neighbor send.
	EventSent EventKind = iota

	// EventSendError reports a failed per-neighbor send. The failure
	// never aborts the rest of the fan-out.
	EventSendError

	// EventDecodeError reports inbound bytes the codec rejected.
	EventDecodeError

	// EventLookupError reports a failed peer lookup before fan-out.
	// Fan-out proceeds on the previous snapshot.
	EventLookupError
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSent:
		return "sent"
	case EventSendError:
		return "send_error"
	case EventDecodeError:
		return "decode_error"
	case EventLookupError:
		return "lookup_error"
	default:
		return "unknown"
	}
}

// Event is a diagnostic observation from the engine. Peer and Packet are
// set for send events; Err is set for the error kinds.
type Event struct {
	Kind   EventKind
	Peer   directory.Peer
	Packet *packet.Packet
	Err    error
}

// emit delivers an event without blocking. A full channel drops the
// event and counts the drop.
func (b *Broadcast) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.metrics.errorKind("event_dropped")
	}
}
