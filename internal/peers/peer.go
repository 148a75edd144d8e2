// Package peers maintains the trusted participant registry: the set of
// certificates this node accepts consensus messages from, together with the
// network addresses each participant listens on.
//
// The registry is backed by a peers.yaml file and hands out shared, parsed
// identity values, so concurrent message handlers verify signatures against
// one certificate object instead of re-parsing PEM text per message.
package peers

import (
	"fmt"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/isheff/het-paxos-ref/pkg/identity"
)

// Constants for peer validation
const (
	// MaxAddresses defines the maximum number of addresses per peer
	MaxAddresses = 10
	// MinAddresses defines the minimum number of addresses per peer
	MinAddresses = 1
)

// Peer is one trusted participant as recorded in peers.yaml: the PEM
// certificate text naming it and the multiaddresses it can be reached at.
// The certificate text is the participant's canonical name; every equality
// and lookup in the registry compares that text and nothing else.
type Peer struct {
	Certificate string   `yaml:"certificate" json:"certificate"`
	Addresses   []string `yaml:"addresses" json:"addresses"`
}

// PeerList represents the root structure for the peers.yaml file
type PeerList struct {
	Peers []Peer `yaml:"peers" json:"peers"`
}

// Validate validates the peer record: the certificate must parse into a
// usable identity and every address must be a well-formed multiaddress.
func (p *Peer) Validate() error {
	if _, err := p.Identity(); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}

	if err := p.validateAddresses(); err != nil {
		return fmt.Errorf("invalid addresses: %w", err)
	}

	return nil
}

// Identity parses the certificate into a public identity. Each call builds
// a fresh value; the registry caches and shares one per certificate.
func (p *Peer) Identity() (*identity.PublicKey, error) {
	if p.Certificate == "" {
		return nil, fmt.Errorf("certificate cannot be empty")
	}
	return identity.NewPublicKey(p.Certificate)
}

// validateAddresses validates the address list format and constraints
func (p *Peer) validateAddresses() error {
	if len(p.Addresses) < MinAddresses {
		return fmt.Errorf("peer must have at least %d address", MinAddresses)
	}

	if len(p.Addresses) > MaxAddresses {
		return fmt.Errorf("peer cannot have more than %d addresses", MaxAddresses)
	}

	for i, addr := range p.Addresses {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("address %d is invalid: %w", i, err)
		}
	}

	return nil
}

// Equal checks if two peers name the same participant. Peers are compared
// solely by certificate PEM text, matching identity equality.
func (p *Peer) Equal(other *Peer) bool {
	return p.Certificate == other.Certificate
}

// HasAddress checks if the peer lists a specific address
func (p *Peer) HasAddress(address string) bool {
	for _, addr := range p.Addresses {
		if addr == address {
			return true
		}
	}
	return false
}

// String returns a short representation that keeps the PEM text out of logs
func (p *Peer) String() string {
	return fmt.Sprintf("Peer{certificate: %d bytes, addresses: %v}", len(p.Certificate), p.Addresses)
}
