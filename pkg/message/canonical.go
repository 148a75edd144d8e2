package message

import (
	"encoding/binary"
	"errors"
)

// Canonical is implemented by every wire type in this package: a stable,
// deterministic binary encoding. Fixed-width integers are big-endian,
// optional fields carry a one-byte presence tag, and variable-length
// fields carry a uint32 length prefix. There is no padding and no map
// iteration, so identical logical content always encodes to identical
// bytes. Content fingerprints and detached signatures are computed over
// this encoding and depend on that property.
type Canonical interface {
	MarshalCanonical() []byte
}

// Decode errors. Undecodable input is ordinary Byzantine traffic to the
// protocol; these exist so transports can say why a frame was dropped.
var (
	ErrTruncated       = errors.New("message: truncated canonical encoding")
	ErrTrailingData    = errors.New("message: trailing bytes after canonical encoding")
	ErrInvalidPresence = errors.New("message: invalid presence tag")
	ErrUnknownArm      = errors.New("message: unknown consensus message arm")
)

const (
	tagAbsent  byte = 0x00
	tagPresent byte = 0x01

	hashWireSize      = 32
	timestampWireSize = 12
)

// decoder walks a canonical encoding, latching the first error so callers
// can read a whole structure before checking.
type decoder struct {
	buf []byte
	err error
}

func newDecoder(data []byte) *decoder {
	return &decoder{buf: data}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = ErrTruncated
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// presence reads an optional-field tag. Anything but the two defined tag
// values is rejected: the encoding is canonical, not merely parseable.
func (d *decoder) presence() bool {
	switch d.byte() {
	case tagPresent:
		return true
	case tagAbsent:
		return false
	default:
		if d.err == nil {
			d.err = ErrInvalidPresence
		}
		return false
	}
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// bytes reads a uint32-length-prefixed field into a fresh slice. The
// length is bounded in unsigned space: through int, a prefix past 2^31
// goes negative on 32-bit platforms and clears the check.
func (d *decoder) bytes() []byte {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(d.buf)) {
		d.err = ErrTruncated
		return nil
	}
	out := make([]byte, n)
	copy(out, d.take(int(n)))
	return out
}

func (d *decoder) hash() Hash256 {
	b := d.take(hashWireSize)
	if b == nil {
		return Hash256{}
	}
	var digest [32]byte
	copy(digest[:], b)
	return FromBytes(digest)
}

func (d *decoder) remaining() int {
	return len(d.buf)
}

// finish returns the latched error, or ErrTrailingData when input remains
// after a complete read.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return ErrTrailingData
	}
	return nil
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendBytes(buf, field []byte) []byte {
	buf = appendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}
