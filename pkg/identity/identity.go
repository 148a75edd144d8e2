// Package identity implements the participant identities of the consensus
// protocol: X.509 certificates paired with negotiated TLS signature schemes.
//
// A participant is identified by the canonical PEM text of its certificate.
// Construction parses the PEM material once, negotiates a signature scheme
// the certificate's key supports, and binds the matching signing or
// verifying capability. After construction identities are immutable and
// safe for concurrent use; signing and verification never fail at runtime.
// Each certificate is its own sole trust anchor: verification asks whether
// this exact certificate's key produced a signature, never whether a chain
// of authorities vouches for it.
package identity

// Signature holds detached signature bytes produced by a PrivateKey. The
// bytes carry no scheme tag: the scheme is a property of the identity that
// produced them and of the identity that verifies them.
type Signature []byte

// Message is the surface identities require from wire messages: a stable
// canonical encoding. Identical logical content must always marshal to
// identical bytes, since signatures and content fingerprints are computed
// over this encoding.
type Message interface {
	MarshalCanonical() []byte
}
