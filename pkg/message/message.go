// Package message defines the wire-facing data model of the consensus
// core: content fingerprints, ballots and the consensus message union,
// together with the canonical encoding that fingerprints and detached
// signatures are computed over.
package message

import (
	"fmt"

	"github.com/isheff/het-paxos-ref/pkg/identity"
)

// Message arm tags of the canonical encoding.
const (
	armNone          byte = 0x00
	armBallot        byte = 0x01
	armSignedHashSet byte = 0x02
)

// HashSet is an ordered list of message fingerprints a participant
// references. The canonical encoding is order-sensitive, so senders fix
// the order before signing.
type HashSet []Hash256

// MarshalCanonical renders the count followed by each fingerprint.
func (s HashSet) MarshalCanonical() []byte {
	buf := make([]byte, 0, 4+len(s)*hashWireSize)
	buf = appendUint32(buf, uint32(len(s)))
	for _, h := range s {
		buf = append(buf, h.MarshalCanonical()...)
	}
	return buf
}

// SignedHashSet is the reference-set arm used by the later protocol
// phases: the fingerprints of previously delivered messages, signed by
// the sender so receivers can attribute the reference set.
type SignedHashSet struct {
	Hashes    HashSet
	Signature identity.Signature
}

// NewSignedHashSet signs the reference set with the sender's identity.
func NewSignedHashSet(hashes HashSet, key *identity.PrivateKey) *SignedHashSet {
	return &SignedHashSet{Hashes: hashes, Signature: key.SignMessage(hashes)}
}

// Verify checks the embedded signature against the claimed sender.
func (s *SignedHashSet) Verify(sender *identity.PublicKey) bool {
	return sender.VerifyMessage(s.Hashes, s.Signature)
}

// MarshalCanonical renders the hash set followed by the length-prefixed
// signature bytes.
func (s *SignedHashSet) MarshalCanonical() []byte {
	buf := s.Hashes.MarshalCanonical()
	return appendBytes(buf, s.Signature)
}

// UnmarshalCanonical parses the layout produced by MarshalCanonical.
func (s *SignedHashSet) UnmarshalCanonical(data []byte) error {
	d := newDecoder(data)
	// The count is bounded in unsigned space: through int, a crafted
	// count past 2^31 goes negative on 32-bit platforms and clears the
	// check.
	n := d.uint32()
	if d.err == nil && uint64(n) > uint64(d.remaining()/hashWireSize) {
		return ErrTruncated
	}
	hashes := make(HashSet, 0, n)
	for i := uint32(0); i < n; i++ {
		hashes = append(hashes, d.hash())
	}
	sig := d.bytes()
	if err := d.finish(); err != nil {
		return err
	}
	s.Hashes = hashes
	s.Signature = sig
	return nil
}

// ConsensusMessage is the payload of every protocol exchange: exactly one
// arm is set. The zero value carries no arm and fails Validate.
type ConsensusMessage struct {
	Ballot        *Ballot
	SignedHashSet *SignedHashSet
}

// IsOneA reports whether the message is a phase-1a proposal: a ballot
// carrying both a timestamp and a value fingerprint. The protocol roles
// use this as a shape guard before treating an incoming message as the
// start of a proposal round.
func (m *ConsensusMessage) IsOneA() bool {
	return m.Ballot != nil && m.Ballot.Timestamp != nil && m.Ballot.ValueHash != nil
}

// Kind names the populated arm for logs.
func (m *ConsensusMessage) Kind() string {
	switch {
	case m.Ballot != nil:
		return "ballot"
	case m.SignedHashSet != nil:
		return "signed_hash_set"
	}
	return "empty"
}

// Validate checks the structural invariant: exactly one arm must be set.
func (m *ConsensusMessage) Validate() error {
	arms := 0
	if m.Ballot != nil {
		arms++
	}
	if m.SignedHashSet != nil {
		arms++
	}
	if arms != 1 {
		return fmt.Errorf("consensus message must carry exactly one arm, has %d", arms)
	}
	return nil
}

// MarshalCanonical renders the arm tag followed by the arm's encoding.
func (m *ConsensusMessage) MarshalCanonical() []byte {
	switch {
	case m.Ballot != nil:
		return append([]byte{armBallot}, m.Ballot.MarshalCanonical()...)
	case m.SignedHashSet != nil:
		return append([]byte{armSignedHashSet}, m.SignedHashSet.MarshalCanonical()...)
	}
	return []byte{armNone}
}

// UnmarshalCanonical parses the layout produced by MarshalCanonical. The
// empty arm decodes so that Validate, not the codec, owns the structural
// judgement.
func (m *ConsensusMessage) UnmarshalCanonical(data []byte) error {
	if len(data) == 0 {
		return ErrTruncated
	}
	*m = ConsensusMessage{}
	body := data[1:]
	switch data[0] {
	case armNone:
		if len(body) != 0 {
			return ErrTrailingData
		}
		return nil
	case armBallot:
		var b Ballot
		if err := b.UnmarshalCanonical(body); err != nil {
			return err
		}
		m.Ballot = &b
		return nil
	case armSignedHashSet:
		var s SignedHashSet
		if err := s.UnmarshalCanonical(body); err != nil {
			return err
		}
		m.SignedHashSet = &s
		return nil
	}
	return ErrUnknownArm
}

// String renders the message for logs.
func (m *ConsensusMessage) String() string {
	switch {
	case m.Ballot != nil:
		return fmt.Sprintf("ConsensusMessage{%s}", m.Ballot)
	case m.SignedHashSet != nil:
		return fmt.Sprintf("ConsensusMessage{signed_hash_set: %d hashes}", len(m.SignedHashSet.Hashes))
	}
	return "ConsensusMessage{}"
}
