package message

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Timestamp is the wire clock reading carried by ballots: whole seconds
// since the Unix epoch plus a nanosecond remainder. Accessors tolerate a
// nil receiver, which reads as the epoch, the same fallback the ballot
// order uses for unstamped ballots.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// NewTimestamp converts a time.Time to its wire form.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// AsTime converts the wire form to a time.Time in UTC.
func (t *Timestamp) AsTime() time.Time {
	seconds, nanos := t.tuple()
	return time.Unix(seconds, int64(nanos)).UTC()
}

// Compare orders timestamps by (seconds, nanos) and returns -1, 0 or +1.
// A nil timestamp orders as the epoch.
func (t *Timestamp) Compare(other *Timestamp) int {
	ts, tn := t.tuple()
	os, on := other.tuple()
	switch {
	case ts < os:
		return -1
	case ts > os:
		return 1
	case tn < on:
		return -1
	case tn > on:
		return 1
	}
	return 0
}

// tuple reads the effective (seconds, nanos) pair; nil is the epoch.
func (t *Timestamp) tuple() (int64, int32) {
	if t == nil {
		return 0, 0
	}
	return t.Seconds, t.Nanos
}

func (t *Timestamp) appendCanonical(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Seconds))
	return binary.BigEndian.AppendUint32(buf, uint32(t.Nanos))
}

// String renders the timestamp as RFC 3339 with nanoseconds.
func (t *Timestamp) String() string {
	return t.AsTime().Format(time.RFC3339Nano)
}

// Ballot dates a proposal: a wall-clock timestamp plus the fingerprint of
// the proposed value. Either field may be absent on the wire. Ballots are
// compared to decide which proposal dominates, so both fields take part
// in a fixed total order.
type Ballot struct {
	Timestamp *Timestamp
	ValueHash *Hash256
}

// NewBallot stamps a proposal fingerprint with the given wall-clock time.
func NewBallot(at time.Time, value Hash256) *Ballot {
	return &Ballot{Timestamp: NewTimestamp(at), ValueHash: &value}
}

// Compare orders ballots by (effective timestamp, value fingerprint) and
// returns -1, 0 or +1. A missing timestamp compares as the epoch, so an
// unstamped ballot is indistinguishable from one stamped exactly (0,0);
// a missing fingerprint orders before every present one. Every correct
// participant computes the same maximum over the same set of ballots,
// independent of wall-clock skew.
func (b *Ballot) Compare(other *Ballot) int {
	if c := b.Timestamp.Compare(other.Timestamp); c != 0 {
		return c
	}
	switch {
	case b.ValueHash == nil && other.ValueHash == nil:
		return 0
	case b.ValueHash == nil:
		return -1
	case other.ValueHash == nil:
		return 1
	}
	return b.ValueHash.Compare(*other.ValueHash)
}

// MarshalCanonical renders the ballot deterministically: a presence tag
// and payload for the timestamp, then the same for the value fingerprint.
func (b *Ballot) MarshalCanonical() []byte {
	buf := make([]byte, 0, 2+timestampWireSize+hashWireSize)
	if b.Timestamp != nil {
		buf = append(buf, tagPresent)
		buf = b.Timestamp.appendCanonical(buf)
	} else {
		buf = append(buf, tagAbsent)
	}
	if b.ValueHash != nil {
		buf = append(buf, tagPresent)
		buf = append(buf, b.ValueHash.MarshalCanonical()...)
	} else {
		buf = append(buf, tagAbsent)
	}
	return buf
}

// UnmarshalCanonical parses the layout produced by MarshalCanonical.
func (b *Ballot) UnmarshalCanonical(data []byte) error {
	d := newDecoder(data)
	b.Timestamp = nil
	if d.presence() {
		ts := Timestamp{Seconds: int64(d.uint64()), Nanos: int32(d.uint32())}
		if d.err == nil {
			b.Timestamp = &ts
		}
	}
	b.ValueHash = nil
	if d.presence() {
		h := d.hash()
		if d.err == nil {
			b.ValueHash = &h
		}
	}
	return d.finish()
}

// String renders the ballot for logs; absent fields print as "none".
func (b *Ballot) String() string {
	timestamp, value := "none", "none"
	if b.Timestamp != nil {
		timestamp = b.Timestamp.String()
	}
	if b.ValueHash != nil {
		value = b.ValueHash.String()
	}
	return fmt.Sprintf("Ballot{timestamp: %s, value: %s}", timestamp, value)
}
