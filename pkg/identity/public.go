package identity

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePrivateKey  = "PRIVATE KEY"
)

// PublicKey is the public half of a participant identity: an X.509
// certificate acting as its own sole trust anchor. Two PublicKeys denote
// the same participant exactly when their canonical PEM texts are equal;
// the parsed certificate and the bound verifier are derived objects and
// never take part in comparisons.
//
// A PublicKey is immutable after construction. A single value is typically
// shared by many concurrent inbound-message handlers; no locking is needed.
type PublicKey struct {
	pemText  string
	cert     *x509.Certificate
	schemeID tls.SignatureScheme
	verifier verifier
}

// NewPublicKey builds the public identity described by certPEM. The first
// CERTIFICATE block is parsed and a signature scheme is negotiated from its
// public key: DefaultScheme when supported, otherwise any supported scheme.
// Certificates offering no supported scheme are rejected with a ConfigError.
//
// The exact PEM text is retained as the identity's canonical form.
func NewPublicKey(certPEM string) (*PublicKey, error) {
	block := findPEMBlock(certPEM, pemTypeCertificate)
	if block == nil {
		return nil, ErrNoCertificate
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, newConfigErrorCause(ErrorTypeCertificate, "certificate does not parse", err)
	}
	schemeID, err := negotiateScheme(supportedVerifySchemes(cert.PublicKey))
	if err != nil {
		return nil, err
	}
	v, err := newVerifier(schemeID, cert.PublicKey)
	if err != nil {
		return nil, err
	}
	return &PublicKey{pemText: certPEM, cert: cert, schemeID: schemeID, verifier: v}, nil
}

// Verify reports whether sig was produced over exactly data by the private
// key matching this certificate, under the negotiated scheme. Forged,
// truncated or foreign signatures report false; verification never errors.
func (k *PublicKey) Verify(data []byte, sig Signature) bool {
	return k.verifier.verify(data, sig)
}

// VerifyMessage canonically serializes m and verifies sig over the result.
func (k *PublicKey) VerifyMessage(m Message, sig Signature) bool {
	return k.Verify(m.MarshalCanonical(), sig)
}

// Scheme returns the signature scheme negotiated at construction.
func (k *PublicKey) Scheme() tls.SignatureScheme {
	return k.schemeID
}

// SupportedSchemes lists, in preference order, every scheme this
// certificate's key can verify. Scheme() is always a member.
func (k *PublicKey) SupportedSchemes() []tls.SignatureScheme {
	return supportedVerifySchemes(k.cert.PublicKey)
}

// PEM returns the canonical PEM text. Equality, ordering and map keying
// are all defined over this text and nothing else.
func (k *PublicKey) PEM() string {
	return k.pemText
}

// Certificate returns the parsed certificate for inspection (host names,
// subject, validity). Callers must treat it as read-only.
func (k *PublicKey) Certificate() *x509.Certificate {
	return k.cert
}

// Equal reports whether both identities carry byte-identical PEM text.
// Identities parsed independently from the same text are equal even though
// their verifier capabilities are distinct objects.
func (k *PublicKey) Equal(other *PublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.pemText == other.pemText
}

// Compare orders identities lexicographically by canonical PEM text and
// returns -1, 0 or +1. The order is total and consistent with Equal.
func (k *PublicKey) Compare(other *PublicKey) int {
	return strings.Compare(k.pemText, other.pemText)
}

// String returns a short debugging form: the subject and negotiated
// scheme, deliberately not the PEM text. Logging an identity must not
// emit certificate material; PEM is the canonical rendering.
func (k *PublicKey) String() string {
	return fmt.Sprintf("PublicKey{subject: %s, scheme: %s}", k.cert.Subject.CommonName, k.schemeID)
}

// findPEMBlock scans text for the first PEM block of the given type,
// skipping unrelated blocks such as bundled chain certificates.
func findPEMBlock(text, blockType string) *pem.Block {
	rest := []byte(text)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if block.Type == blockType {
			return block
		}
	}
}
