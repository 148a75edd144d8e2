package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedPEM builds a minimal self-signed certificate and PKCS#8 key in
// PEM form around the given key material.
func selfSignedPEM(t *testing.T, priv crypto.Signer) (string, string) {
	t.Helper()

	serial, err := newSerial()
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "test-node"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		DNSNames:     []string{"test-node"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: keyDER})
	return string(certPEM), string(keyPEM)
}

// staticMessage gives tests a trivial canonical encoding.
type staticMessage []byte

func (m staticMessage) MarshalCanonical() []byte { return m }

func TestGenerateKeyPair(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1.example.com", "node1"})

	require.NoError(t, err)
	require.NotNil(t, pub)
	require.NotNil(t, priv)
	assert.Equal(t, DefaultScheme, pub.Scheme())
	assert.Equal(t, DefaultScheme, priv.Scheme())
	assert.Contains(t, pub.PEM(), "BEGIN CERTIFICATE")
	assert.Contains(t, priv.PEM(), "BEGIN PRIVATE KEY")
	assert.Equal(t, []string{"node1.example.com", "node1"}, pub.Certificate().DNSNames)
	assert.Equal(t, "node1.example.com", pub.Certificate().Subject.CommonName)
}

func TestGenerateKeyPair_NoHostnames(t *testing.T) {
	pub, _, err := GenerateKeyPair(nil)

	require.NoError(t, err)
	assert.Equal(t, "het-paxos-node", pub.Certificate().Subject.CommonName)
	assert.Empty(t, pub.Certificate().DNSNames)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	payload := []byte("propose value 42 at ballot 7")
	sig := priv.Sign(payload)

	assert.True(t, pub.Verify(payload, sig))
}

func TestVerify_TamperedPayload(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	payload := []byte("original payload")
	sig := priv.Sign(payload)

	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0x01
	assert.False(t, pub.Verify(tampered, sig))
}

func TestVerify_MalformedSignature(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	payload := []byte("payload")
	sig := priv.Sign(payload)

	t.Run("flipped byte", func(t *testing.T) {
		bad := append(Signature(nil), sig...)
		bad[len(bad)/2] ^= 0xff
		assert.False(t, pub.Verify(payload, bad))
	})
	t.Run("truncated", func(t *testing.T) {
		assert.False(t, pub.Verify(payload, sig[:len(sig)-4]))
	})
	t.Run("empty", func(t *testing.T) {
		assert.False(t, pub.Verify(payload, nil))
	})
	t.Run("garbage", func(t *testing.T) {
		assert.False(t, pub.Verify(payload, Signature("not an ASN.1 signature")))
	})
}

func TestVerify_CrossIdentity(t *testing.T) {
	pubA, privA, err := GenerateKeyPair([]string{"nodeA"})
	require.NoError(t, err)
	pubB, _, err := GenerateKeyPair([]string{"nodeB"})
	require.NoError(t, err)

	payload := []byte("signed by A")
	sig := privA.Sign(payload)

	assert.True(t, pubA.Verify(payload, sig))
	assert.False(t, pubB.Verify(payload, sig))
}

func TestSign_RandomizedButAlwaysValid(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	payload := []byte("same payload twice")
	first := priv.Sign(payload)
	second := priv.Sign(payload)

	assert.True(t, pub.Verify(payload, first))
	assert.True(t, pub.Verify(payload, second))
}

func TestSignMessage_VerifyMessage(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	m := staticMessage("canonical bytes of some message")
	sig := priv.SignMessage(m)

	assert.True(t, pub.VerifyMessage(m, sig))
	assert.False(t, pub.VerifyMessage(staticMessage("different bytes"), sig))
}

func TestKeyPairFromPEM_Reconstruction(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	payload := []byte("signed before the identity was re-parsed")
	sig := priv.Sign(payload)

	rebuiltPub, rebuiltPriv, err := KeyPairFromPEM(pub.PEM(), priv.PEM())
	require.NoError(t, err)

	assert.True(t, pub.Equal(rebuiltPub))
	assert.Zero(t, pub.Compare(rebuiltPub))
	assert.Equal(t, pub.Scheme(), rebuiltPub.Scheme())
	assert.True(t, rebuiltPub.Verify(payload, sig),
		"reconstructed identity must verify signatures from before reconstruction")
	assert.True(t, pub.Verify(payload, rebuiltPriv.Sign(payload)))
}

func TestPublicKey_EqualityIsPEMTextOnly(t *testing.T) {
	pub, _, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	first, err := NewPublicKey(pub.PEM())
	require.NoError(t, err)
	second, err := NewPublicKey(pub.PEM())
	require.NoError(t, err)

	// Distinct objects with distinct verifier capabilities, same identity.
	assert.NotSame(t, first, second)
	assert.True(t, first.Equal(second))
	assert.Zero(t, first.Compare(second))
	assert.Equal(t, first.PEM(), second.PEM())
}

func TestPublicKey_CompareIsTotal(t *testing.T) {
	pubA, _, err := GenerateKeyPair([]string{"nodeA"})
	require.NoError(t, err)
	pubB, _, err := GenerateKeyPair([]string{"nodeB"})
	require.NoError(t, err)

	require.False(t, pubA.Equal(pubB))
	assert.NotZero(t, pubA.Compare(pubB))
	assert.Equal(t, -pubB.Compare(pubA), pubA.Compare(pubB))
	assert.Zero(t, pubA.Compare(pubA))
}

func TestNewPublicKey_NoCertificate(t *testing.T) {
	_, err := NewPublicKey("not pem at all")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCertificate))
}

func TestNewPublicKey_MalformedCertificate(t *testing.T) {
	bad := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: []byte("junk DER")})

	_, err := NewPublicKey(string(bad))

	require.Error(t, err)
	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, ErrorTypeCertificate, configErr.Type)
}

func TestNewPublicKey_SkipsForeignBlocks(t *testing.T) {
	pub, _, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	bundled := "-----BEGIN GARBAGE-----\nZm9v\n-----END GARBAGE-----\n" + pub.PEM()
	parsed, err := NewPublicKey(bundled)

	require.NoError(t, err)
	// Canonical text is the full input, so the bundle is a distinct identity.
	assert.False(t, parsed.Equal(pub))
	assert.Equal(t, pub.Scheme(), parsed.Scheme())
}

func TestNewPrivateKey_NoKey(t *testing.T) {
	_, err := NewPrivateKey("nothing here", []tls.SignatureScheme{DefaultScheme})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPrivateKey))
}

func TestNewPrivateKey_SchemeMismatch(t *testing.T) {
	_, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	// A P-256 key cannot serve an Ed25519-only negotiation.
	_, err = NewPrivateKey(priv.PEM(), []tls.SignatureScheme{tls.Ed25519})

	require.Error(t, err)
	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, ErrorTypeScheme, configErr.Type)
}

func TestNewPrivateKey_PicksFirstSupportedScheme(t *testing.T) {
	_, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	rebuilt, err := NewPrivateKey(priv.PEM(), []tls.SignatureScheme{tls.Ed25519, tls.ECDSAWithP256AndSHA256})

	require.NoError(t, err)
	assert.Equal(t, tls.ECDSAWithP256AndSHA256, rebuilt.Scheme())
}

func TestKeyPairFromPEM_Ed25519(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	certPEM, keyPEM := selfSignedPEM(t, key)

	pub, priv, err := KeyPairFromPEM(certPEM, keyPEM)

	require.NoError(t, err)
	assert.Equal(t, tls.Ed25519, pub.Scheme())
	payload := []byte("ed25519 payload")
	assert.True(t, pub.Verify(payload, priv.Sign(payload)))
}

func TestKeyPairFromPEM_ECDSAP384(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	certPEM, keyPEM := selfSignedPEM(t, key)

	pub, priv, err := KeyPairFromPEM(certPEM, keyPEM)

	require.NoError(t, err)
	assert.Equal(t, tls.ECDSAWithP384AndSHA384, pub.Scheme())
	payload := []byte("p384 payload")
	assert.True(t, pub.Verify(payload, priv.Sign(payload)))
}

func TestKeyPairFromPEM_RSAPSS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certPEM, keyPEM := selfSignedPEM(t, key)

	pub, priv, err := KeyPairFromPEM(certPEM, keyPEM)

	require.NoError(t, err)
	assert.Equal(t, tls.PSSWithSHA256, pub.Scheme())
	payload := []byte("rsa payload")
	assert.True(t, pub.Verify(payload, priv.Sign(payload)))
}

func TestPublicKey_ConcurrentVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	payload := []byte("shared payload")
	sig := priv.Sign(payload)

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = pub.Verify(payload, sig)
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "verifier %d", i)
	}
}

func TestPrivateKey_StringHidesKeyMaterial(t *testing.T) {
	_, priv, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	assert.NotContains(t, priv.String(), "PRIVATE KEY")
	assert.Contains(t, priv.String(), "ECDSAWithP256AndSHA256")
}

func TestPublicKey_StringHidesCertificateText(t *testing.T) {
	pub, _, err := GenerateKeyPair([]string{"node1"})
	require.NoError(t, err)

	assert.NotContains(t, pub.String(), "BEGIN CERTIFICATE",
		"the canonical PEM text is PEM's to render, never String's")
	assert.Contains(t, pub.String(), "node1")
	assert.Contains(t, pub.String(), "ECDSAWithP256AndSHA256")
}
