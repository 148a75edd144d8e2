package network

import (
	"encoding/binary"

	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/isheff/het-paxos-ref/pkg/identity"
	"github.com/isheff/het-paxos-ref/pkg/message"
)

const (
	// ProtocolID identifies the consensus message protocol on the wire.
	ProtocolID = protocol.ID("/hetpaxos/consensus/1.0.0")

	// MaxEnvelopeSize bounds a single envelope: a PEM certificate, a
	// consensus message and a signature fit comfortably in a few KiB,
	// so anything near this limit is garbage or abuse.
	MaxEnvelopeSize = 1 << 20
)

// Envelope is the unit carried on a consensus stream: the sender's
// certificate PEM text, the canonical bytes of one consensus message, and
// the sender's signature over exactly those bytes. The certificate text
// doubles as the sender's name; receivers match it against their trusted
// registry before any signature check.
type Envelope struct {
	Certificate string
	Payload     []byte
	Signature   identity.Signature
}

// NewEnvelope serializes msg canonically, signs the bytes with the local
// identity and wraps everything for the wire. Construction cannot fail:
// canonical serialization is total and signing with a well-formed private
// identity does not error.
func NewEnvelope(pub *identity.PublicKey, priv *identity.PrivateKey, msg *message.ConsensusMessage) *Envelope {
	payload := msg.MarshalCanonical()
	return &Envelope{
		Certificate: pub.PEM(),
		Payload:     payload,
		Signature:   priv.Sign(payload),
	}
}

// Encode renders the envelope as three length-prefixed fields.
func (e *Envelope) Encode() []byte {
	buf := make([]byte, 0, 12+len(e.Certificate)+len(e.Payload)+len(e.Signature))
	buf = appendField(buf, []byte(e.Certificate))
	buf = appendField(buf, e.Payload)
	buf = appendField(buf, e.Signature)
	return buf
}

// DecodeEnvelope parses an envelope and rejects any deviation from the
// encoding: short fields, oversized length prefixes and trailing bytes
// all fail, so a byte stream has exactly one reading as an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	cert, rest, err := takeField(data)
	if err != nil {
		return nil, err
	}
	payload, rest, err := takeField(rest)
	if err != nil {
		return nil, err
	}
	sig, rest, err := takeField(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ErrEnvelopeTrailing
	}
	return &Envelope{
		Certificate: string(cert),
		Payload:     payload,
		Signature:   identity.Signature(sig),
	}, nil
}

// appendField appends a big-endian uint32 length prefix followed by the
// field bytes.
func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// takeField consumes one length-prefixed field and returns it with the
// remaining bytes.
func takeField(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrEnvelopeTruncated
	}
	n := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	if uint32(len(rest)) < n {
		return nil, nil, ErrEnvelopeTruncated
	}
	return rest[:n], rest[n:], nil
}
