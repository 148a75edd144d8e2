package network

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"

	"github.com/isheff/het-paxos-ref/pkg/identity"
)

// Connection manager watermarks. A federation trust set is small, so the
// grace period matters more than the watermarks: fresh connections must
// survive long enough to finish the first message exchange.
const (
	connLowWater  = 32
	connHighWater = 96
	connGrace     = 30 * time.Second
)

// newHost builds the libp2p host for this node. The host identity is the
// node's own signing key, so the peer ID every other participant derives
// from this node's certificate is the ID the transport authenticates.
func newHost(listenAddrs []string, priv *identity.PrivateKey) (host.Host, error) {
	key, err := hostKeyFromIdentity(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to derive host key: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
	}

	connManager, err := connmgr.NewConnManager(
		connLowWater,
		connHighWater,
		connmgr.WithGracePeriod(connGrace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	opts = append(opts, libp2p.ConnectionManager(connManager))

	// Cap connections per peer at one in each direction: simultaneous
	// dials between two participants then settle on at most two
	// connections instead of an unbounded pile.
	limits := rcmgr.PartialLimitConfig{
		System: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(256),
			ConnsInbound:  rcmgr.LimitVal(128),
			ConnsOutbound: rcmgr.LimitVal(128),
		},
		PeerDefault: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(2),
			ConnsInbound:  rcmgr.LimitVal(1),
			ConnsOutbound: rcmgr.LimitVal(1),
		},
	}.Build(rcmgr.DefaultLimits.AutoScale())

	resourceManager, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(limits))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}
	opts = append(opts, libp2p.ResourceManager(resourceManager))

	var addrs []multiaddr.Multiaddr
	for _, addrStr := range listenAddrs {
		addr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", addrStr, err)
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) > 0 {
		opts = append(opts, libp2p.ListenAddrs(addrs...))
	}

	return libp2p.New(opts...)
}

// hostKeyFromIdentity converts the node's PKCS#8 signing key into a libp2p
// host key. Ed25519 keys come out of PKCS#8 parsing by value and libp2p
// wants a pointer, so they are normalized first.
func hostKeyFromIdentity(priv *identity.PrivateKey) (libp2pcrypto.PrivKey, error) {
	block := findPEMBlock(priv.PEM(), "PRIVATE KEY")
	if block == nil {
		return nil, fmt.Errorf("no PRIVATE KEY block in identity PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
	}
	if edKey, ok := parsed.(ed25519.PrivateKey); ok {
		parsed = &edKey
	}
	key, _, err := libp2pcrypto.KeyPairFromStdKey(parsed)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// derivePeerID computes the libp2p peer ID of the participant named by a
// certificate. Because every node uses its signing key as its host key,
// this ID is dialable and the transport handshake proves the remote holds
// the certificate's private key.
func derivePeerID(pub *identity.PublicKey) (peer.ID, error) {
	var key libp2pcrypto.PubKey
	var err error

	switch k := pub.Certificate().PublicKey.(type) {
	case *ecdsa.PublicKey:
		key, err = libp2pcrypto.ECDSAPublicKeyFromPubKey(*k)
	case ed25519.PublicKey:
		key, err = libp2pcrypto.UnmarshalEd25519PublicKey(k)
	case *rsa.PublicKey:
		der, merr := x509.MarshalPKIXPublicKey(k)
		if merr != nil {
			return "", fmt.Errorf("failed to encode RSA public key: %w", merr)
		}
		key, err = libp2pcrypto.UnmarshalRsaPublicKey(der)
	default:
		return "", fmt.Errorf("unsupported certificate key type %T", k)
	}
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(key)
}

// findPEMBlock scans text for the first PEM block of the given type.
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
