package identity

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// PrivateKey is the private half of a participant identity: a PKCS#8 key
// with a signing capability bound to one negotiated scheme. Immutable and
// safe for concurrent use.
type PrivateKey struct {
	pemText  string
	schemeID tls.SignatureScheme
	signer   signer
}

// NewPrivateKey parses the first PRIVATE KEY block in keyPEM and binds a
// signer for the first scheme in schemes the key material supports. The
// scheme list normally comes from the matching certificate's negotiation;
// a key that supports none of the offered schemes is a ConfigError.
func NewPrivateKey(keyPEM string, schemes []tls.SignatureScheme) (*PrivateKey, error) {
	block := findPEMBlock(keyPEM, pemTypePrivateKey)
	if block == nil {
		return nil, ErrNoPrivateKey
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, newConfigErrorCause(ErrorTypePrivateKey, "private key does not parse", err)
	}
	for _, schemeID := range schemes {
		s, err := newSigner(schemeID, key)
		if err == nil {
			return &PrivateKey{pemText: keyPEM, schemeID: schemeID, signer: s}, nil
		}
	}
	return nil, newConfigError(ErrorTypeScheme,
		fmt.Sprintf("private key type %T supports none of the offered schemes %v", key, schemes))
}

// Sign produces a signature over exactly data using the bound scheme. The
// underlying algorithm may be randomized, so repeated calls over identical
// input may yield different, equally valid signatures. Signing cannot fail
// once the identity is constructed; it panics only if the process entropy
// source breaks, which is not a recoverable condition.
func (k *PrivateKey) Sign(data []byte) Signature {
	return k.signer.sign(data)
}

// SignMessage canonically serializes m and signs the resulting bytes.
func (k *PrivateKey) SignMessage(m Message) Signature {
	return k.Sign(m.MarshalCanonical())
}

// Scheme returns the signature scheme the signer is bound to.
func (k *PrivateKey) Scheme() tls.SignatureScheme {
	return k.schemeID
}

// PEM returns the private key's PEM text as supplied at construction.
func (k *PrivateKey) PEM() string {
	return k.pemText
}

// String returns a debugging form that never includes key material.
func (k *PrivateKey) String() string {
	return fmt.Sprintf("PrivateKey{scheme: %s}", k.schemeID)
}
