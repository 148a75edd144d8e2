package network

import (
	"context"

	"github.com/multiformats/go-multiaddr"

	"github.com/isheff/het-paxos-ref/pkg/identity"
	"github.com/isheff/het-paxos-ref/pkg/message"
)

// Transport is what the consensus layer sees of the network: a way to
// broadcast signed messages and a stream of verified inbound ones.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error

	// Broadcast sends msg to every connected trusted peer and reports
	// how many received it.
	Broadcast(ctx context.Context, msg *message.ConsensusMessage) (int, error)

	// RegisterMessageHandler subscribes to verified inbound messages.
	// Handlers registered after Start still receive subsequent messages.
	RegisterMessageHandler(handler MessageHandler)

	// ConnectedPeers reports how many trusted peers are reachable now.
	ConnectedPeers() int

	// Addrs returns the listen addresses actually bound.
	Addrs() []multiaddr.Multiaddr
}

// MessageHandler receives messages whose envelope signature verified
// against a registered peer certificate. The sender is the shared
// identity from the registry, so handlers can compare it by pointer or
// with Equal.
type MessageHandler interface {
	HandleConsensusMessage(sender *identity.PublicKey, msg *message.ConsensusMessage)
}

var _ Transport = (*Manager)(nil)
