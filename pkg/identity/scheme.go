package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"fmt"

	// Digests used by the supported schemes.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// DefaultScheme is preferred whenever scheme negotiation offers a choice.
// GenerateKeyPair produces certificates that negotiate to exactly this
// scheme, so a federation provisioned with generated identities signs and
// verifies with ECDSA P-256 over SHA-256 throughout.
const DefaultScheme = tls.ECDSAWithP256AndSHA256

// signer is the signing capability bound into a PrivateKey at construction
// time. Key material and scheme compatibility are checked by newSigner, so
// implementations do not fail at runtime.
type signer interface {
	scheme() tls.SignatureScheme
	sign(data []byte) Signature
}

// verifier is the verifying capability bound into a PublicKey at
// construction time. Verification reports a plain boolean: malformed or
// forged signatures are ordinary protocol input, not errors.
type verifier interface {
	scheme() tls.SignatureScheme
	verify(data []byte, sig Signature) bool
}

// supportedVerifySchemes lists, in preference order, the schemes a verifier
// anchored on the given certificate key accepts. An empty result means the
// key type cannot verify any supported scheme.
func supportedVerifySchemes(pub crypto.PublicKey) []tls.SignatureScheme {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if schemeID, ok := ecdsaScheme(key.Curve); ok {
			return []tls.SignatureScheme{schemeID}
		}
	case ed25519.PublicKey:
		return []tls.SignatureScheme{tls.Ed25519}
	case *rsa.PublicKey:
		return []tls.SignatureScheme{tls.PSSWithSHA256, tls.PSSWithSHA384, tls.PSSWithSHA512}
	}
	return nil
}

// negotiateScheme picks DefaultScheme when it is offered and any supported
// scheme otherwise. Certificates whose keys support no scheme at all are
// rejected: such an identity could never authenticate a message.
func negotiateScheme(supported []tls.SignatureScheme) (tls.SignatureScheme, error) {
	if len(supported) == 0 {
		return 0, ErrNoSupportedScheme
	}
	for _, schemeID := range supported {
		if schemeID == DefaultScheme {
			return DefaultScheme, nil
		}
	}
	return supported[0], nil
}

// ecdsaScheme maps a supported NIST curve to its TLS signature scheme.
func ecdsaScheme(curve elliptic.Curve) (tls.SignatureScheme, bool) {
	switch curve {
	case elliptic.P256():
		return tls.ECDSAWithP256AndSHA256, true
	case elliptic.P384():
		return tls.ECDSAWithP384AndSHA384, true
	case elliptic.P521():
		return tls.ECDSAWithP521AndSHA512, true
	}
	return 0, false
}

func isPSS(schemeID tls.SignatureScheme) bool {
	return schemeID == tls.PSSWithSHA256 || schemeID == tls.PSSWithSHA384 || schemeID == tls.PSSWithSHA512
}

// schemeHash returns the digest a scheme signs. Ed25519 signs the message
// directly and reports crypto.Hash(0).
func schemeHash(schemeID tls.SignatureScheme) (crypto.Hash, bool) {
	switch schemeID {
	case tls.ECDSAWithP256AndSHA256, tls.PSSWithSHA256:
		return crypto.SHA256, true
	case tls.ECDSAWithP384AndSHA384, tls.PSSWithSHA384:
		return crypto.SHA384, true
	case tls.ECDSAWithP521AndSHA512, tls.PSSWithSHA512:
		return crypto.SHA512, true
	case tls.Ed25519:
		return crypto.Hash(0), true
	}
	return 0, false
}

func digest(h crypto.Hash, data []byte) []byte {
	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil)
}

// newVerifier binds a verifying capability for schemeID around a
// certificate public key. schemeID normally comes from negotiateScheme
// over supportedVerifySchemes of the same key.
func newVerifier(schemeID tls.SignatureScheme, pub crypto.PublicKey) (verifier, error) {
	hash, ok := schemeHash(schemeID)
	if !ok {
		return nil, newConfigError(ErrorTypeScheme, fmt.Sprintf("unsupported signature scheme %s", schemeID))
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if curveScheme, _ := ecdsaScheme(key.Curve); curveScheme == schemeID {
			return &ecdsaVerifier{key: key, hash: hash, schemeID: schemeID}, nil
		}
	case ed25519.PublicKey:
		if schemeID == tls.Ed25519 {
			return &ed25519Verifier{key: key}, nil
		}
	case *rsa.PublicKey:
		if isPSS(schemeID) {
			return &rsaVerifier{key: key, hash: hash, schemeID: schemeID}, nil
		}
	}
	return nil, newConfigError(ErrorTypeScheme,
		fmt.Sprintf("certificate key type %T cannot verify scheme %s", pub, schemeID))
}

// newSigner binds a signing capability for schemeID around parsed PKCS#8
// key material.
func newSigner(schemeID tls.SignatureScheme, priv crypto.PrivateKey) (signer, error) {
	hash, ok := schemeHash(schemeID)
	if !ok {
		return nil, newConfigError(ErrorTypeScheme, fmt.Sprintf("unsupported signature scheme %s", schemeID))
	}
	switch key := priv.(type) {
	case *ecdsa.PrivateKey:
		if curveScheme, _ := ecdsaScheme(key.Curve); curveScheme == schemeID {
			return &ecdsaSigner{key: key, hash: hash, schemeID: schemeID}, nil
		}
	case ed25519.PrivateKey:
		if schemeID == tls.Ed25519 {
			return &ed25519Signer{key: key}, nil
		}
	case *rsa.PrivateKey:
		if isPSS(schemeID) {
			return &rsaSigner{key: key, hash: hash, schemeID: schemeID}, nil
		}
	}
	return nil, newConfigError(ErrorTypeScheme,
		fmt.Sprintf("private key type %T cannot sign scheme %s", priv, schemeID))
}

type ecdsaVerifier struct {
	key      *ecdsa.PublicKey
	hash     crypto.Hash
	schemeID tls.SignatureScheme
}

func (v *ecdsaVerifier) scheme() tls.SignatureScheme { return v.schemeID }

func (v *ecdsaVerifier) verify(data []byte, sig Signature) bool {
	return ecdsa.VerifyASN1(v.key, digest(v.hash, data), sig)
}

type ed25519Verifier struct {
	key ed25519.PublicKey
}

func (v *ed25519Verifier) scheme() tls.SignatureScheme { return tls.Ed25519 }

func (v *ed25519Verifier) verify(data []byte, sig Signature) bool {
	return ed25519.Verify(v.key, data, sig)
}

type rsaVerifier struct {
	key      *rsa.PublicKey
	hash     crypto.Hash
	schemeID tls.SignatureScheme
}

func (v *rsaVerifier) scheme() tls.SignatureScheme { return v.schemeID }

func (v *rsaVerifier) verify(data []byte, sig Signature) bool {
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: v.hash}
	return rsa.VerifyPSS(v.key, v.hash, digest(v.hash, data), sig, opts) == nil
}

type ecdsaSigner struct {
	key      *ecdsa.PrivateKey
	hash     crypto.Hash
	schemeID tls.SignatureScheme
}

func (s *ecdsaSigner) scheme() tls.SignatureScheme { return s.schemeID }

func (s *ecdsaSigner) sign(data []byte) Signature {
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest(s.hash, data))
	if err != nil {
		// Reachable only when the process entropy source fails.
		panic(fmt.Sprintf("identity: ECDSA signing failed: %v", err))
	}
	return sig
}

type ed25519Signer struct {
	key ed25519.PrivateKey
}

func (s *ed25519Signer) scheme() tls.SignatureScheme { return tls.Ed25519 }

func (s *ed25519Signer) sign(data []byte) Signature {
	return ed25519.Sign(s.key, data)
}

type rsaSigner struct {
	key      *rsa.PrivateKey
	hash     crypto.Hash
	schemeID tls.SignatureScheme
}

func (s *rsaSigner) scheme() tls.SignatureScheme { return s.schemeID }

func (s *rsaSigner) sign(data []byte) Signature {
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: s.hash}
	sig, err := rsa.SignPSS(rand.Reader, s.key, s.hash, digest(s.hash, data), opts)
	if err != nil {
		// Reachable only when the process entropy source fails.
		panic(fmt.Sprintf("identity: RSA-PSS signing failed: %v", err))
	}
	return sig
}
