package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"
)

// certValidity is how long generated certificates stay valid. Identities
// are provisioned out of band, so rotation is an operator concern.
const certValidity = 10 * 365 * 24 * time.Hour

// GenerateKeyPair creates a fresh identity for the given host names: an
// ECDSA P-256 key and a self-signed certificate listing the names as SANs,
// both PEM-encoded. The pair is rebuilt from its own PEM text, so the
// scheme it binds is exactly the scheme any remote participant will
// negotiate when reconstructing the identity, always DefaultScheme.
func GenerateKeyPair(hostnames []string) (*PublicKey, *PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, newConfigErrorCause(ErrorTypePrivateKey, "generating P-256 key", err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, nil, newConfigErrorCause(ErrorTypeCertificate, "generating serial number", err)
	}

	commonName := "het-paxos-node"
	if len(hostnames) > 0 {
		commonName = hostnames[0]
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              hostnames,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, newConfigErrorCause(ErrorTypeCertificate, "creating self-signed certificate", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, newConfigErrorCause(ErrorTypePrivateKey, "encoding PKCS#8 key", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: keyDER})
	return KeyPairFromPEM(string(certPEM), string(keyPEM))
}

// KeyPairFromPEM reconstructs an identity pair from its PEM halves. Each
// half is parsed independently; the private half is constrained to the
// scheme the public half negotiated, so a mismatched pair fails here
// rather than at first use.
func KeyPairFromPEM(certPEM, keyPEM string) (*PublicKey, *PrivateKey, error) {
	pub, err := NewPublicKey(certPEM)
	if err != nil {
		return nil, nil, err
	}
	priv, err := NewPrivateKey(keyPEM, []tls.SignatureScheme{pub.Scheme()})
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// newSerial draws a random 128-bit certificate serial number.
func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}
