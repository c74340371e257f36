// Package packet defines the broadcast envelope and its wire codec.
//
// A Packet carries four fields: seqno (publisher-chosen instance id),
// origin (author node id), from (most recent relay id, rewritten at every
// hop), and an opaque data payload. The logical message identity is
// (seqno, origin) and is stable across hops; the engine never interprets
// data.
package packet

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dxos-deprecated/broadcast/errors"
)

// SeqnoLength is the size of generated seqno values in bytes.
const SeqnoLength = 32

// wireVersion identifies the envelope layout on the wire.
const wireVersion byte = 0x01

// Packet is the logical broadcast message.
type Packet struct {
	// Seqno is the publisher-chosen instance identifier,
	// unique enough to avoid collision within the dedup window.
	Seqno []byte

	// Origin is the id of the node that authored the message.
	// Immutable across all hops.
	Origin []byte

	// From is the id of the node that most recently retransmitted the
	// message. Rewritten by every forwarding node before re-send.
	From []byte

	// Data is the application payload, never interpreted by the engine.
	Data []byte
}

// MessageID returns the network-wide identity of the logical message,
// independent of how many hops it traversed.
func (p *Packet) MessageID() string {
	return hex.EncodeToString(p.Seqno) + ":" + hex.EncodeToString(p.Origin)
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	return &Packet{
		Seqno:  bytes.Clone(p.Seqno),
		Origin: bytes.Clone(p.Origin),
		From:   bytes.Clone(p.From),
		Data:   bytes.Clone(p.Data),
	}
}

// Validate checks that the packet is complete enough to put on the wire.
// From must already be stamped; it is rewritten at fan-out time.
func (p *Packet) Validate() error {
	if len(p.Seqno) == 0 {
		return errors.WrapInvalid(errors.ErrMissingField, "packet", "Validate", "seqno")
	}
	if len(p.Origin) == 0 {
		return errors.WrapInvalid(errors.ErrMissingField, "packet", "Validate", "origin")
	}
	if len(p.From) == 0 {
		return errors.WrapInvalid(errors.ErrMissingField, "packet", "Validate", "from")
	}
	return nil
}

// NewSeqno returns a fresh random seqno of SeqnoLength bytes.
func NewSeqno() ([]byte, error) {
	seqno := make([]byte, SeqnoLength)
	if _, err := io.ReadFull(rand.Reader, seqno); err != nil {
		return nil, errors.WrapFatal(err, "packet", "NewSeqno", "read random bytes")
	}
	return seqno, nil
}

// Token builds the composite dedup key for a (seqno, id) pair. The same
// function backs both the local-delivery check (id = engine id) and the
// per-neighbor suppression check (id = neighbor id).
func Token(seqno, id []byte) string {
	return hex.EncodeToString(seqno) + ":" + hex.EncodeToString(id)
}

// Codec encodes packets to and decodes packets from transport-opaque
// byte buffers. A decode failure is a reportable error, never a crash.
type Codec interface {
	Encode(p *Packet) ([]byte, error)
	Decode(data []byte) (*Packet, error)
}

// BinaryCodec is the default codec: a version byte followed by the four
// fields, each as a uvarint length prefix and raw bytes.
type BinaryCodec struct{}

var _ Codec = BinaryCodec{}

// Encode serializes p. The packet must pass Validate.
func (BinaryCodec) Encode(p *Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	size := 1
	for _, field := range [][]byte{p.Seqno, p.Origin, p.From, p.Data} {
		size += binary.MaxVarintLen64 + len(field)
	}

	buf := make([]byte, 1, size)
	buf[0] = wireVersion
	for _, field := range [][]byte{p.Seqno, p.Origin, p.From, p.Data} {
		buf = binary.AppendUvarint(buf, uint64(len(field)))
		buf = append(buf, field...)
	}
	return buf, nil
}

// Decode parses an encoded envelope. The returned packet owns its own
// copies of all fields.
func (BinaryCodec) Decode(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.WrapInvalid(errors.ErrDecodeFailed, "packet", "Decode", "empty buffer")
	}
	if data[0] != wireVersion {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown envelope version %#x", errors.ErrDecodeFailed, data[0]),
			"packet", "Decode", "version check")
	}

	rest := data[1:]
	fields := make([][]byte, 4)
	for i := range fields {
		length, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: truncated length prefix for field %d", errors.ErrDecodeFailed, i),
				"packet", "Decode", "length prefix")
		}
		rest = rest[n:]
		if uint64(len(rest)) < length {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: field %d length %d exceeds remaining %d",
					errors.ErrDecodeFailed, i, length, len(rest)),
				"packet", "Decode", "bounds check")
		}
		fields[i] = bytes.Clone(rest[:length])
		rest = rest[length:]
	}
	if len(rest) != 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d trailing bytes", errors.ErrDecodeFailed, len(rest)),
			"packet", "Decode", "trailing data")
	}

	p := &Packet{Seqno: fields[0], Origin: fields[1], From: fields[2], Data: fields[3]}
	if err := p.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "packet", "Decode", "schema validation")
	}
	return p, nil
}
