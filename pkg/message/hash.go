package message

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Hash256 is a 256-bit content fingerprint packed as four uint64 words,
// word 0 holding the most significant eight bytes of the digest. Values
// are comparable with == and usable as map keys.
type Hash256 [4]uint64

// Hash fingerprints a message: the SHA3-256 digest of its canonical
// encoding. Identical logical content produces the identical fingerprint
// on every participant.
func Hash(m Canonical) Hash256 {
	return Sum(m.MarshalCanonical())
}

// Sum fingerprints raw bytes with SHA3-256.
func Sum(data []byte) Hash256 {
	return FromBytes(sha3.Sum256(data))
}

// FromBytes packs a 32-byte digest into the four-word form, big-endian.
func FromBytes(digest [32]byte) Hash256 {
	return Hash256{
		binary.BigEndian.Uint64(digest[0:8]),
		binary.BigEndian.Uint64(digest[8:16]),
		binary.BigEndian.Uint64(digest[16:24]),
		binary.BigEndian.Uint64(digest[24:32]),
	}
}

// Bytes repacks the words into the 32-byte digest they came from.
func (h Hash256) Bytes() [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[0:8], h[0])
	binary.BigEndian.PutUint64(out[8:16], h[1])
	binary.BigEndian.PutUint64(out[16:24], h[2])
	binary.BigEndian.PutUint64(out[24:32], h[3])
	return out
}

// Compare orders fingerprints lexicographically over the word tuple, word
// 0 most significant, and returns -1, 0 or +1. The order is total, so any
// set of fingerprints has a single maximum every participant agrees on.
func (h Hash256) Compare(other Hash256) int {
	for i := range h {
		switch {
		case h[i] < other[i]:
			return -1
		case h[i] > other[i]:
			return 1
		}
	}
	return 0
}

// MarshalCanonical renders the fixed 32-byte big-endian layout.
func (h Hash256) MarshalCanonical() []byte {
	b := h.Bytes()
	return b[:]
}

// String renders the fingerprint as 64 hex characters.
func (h Hash256) String() string {
	return fmt.Sprintf("Hash256{%016x%016x%016x%016x}", h[0], h[1], h[2], h[3])
}
