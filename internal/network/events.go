package network

import (
	corenetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"
)

// networkNotifiee feeds transport-level connection events back into the
// peer handlers, so an inbound connection counts as connected and a closed
// connection triggers redial instead of lingering until the next periodic
// check.
type networkNotifiee struct {
	manager *Manager
}

var _ corenetwork.Notifiee = (*networkNotifiee)(nil)

func (n *networkNotifiee) Connected(net corenetwork.Network, conn corenetwork.Conn) {
	n.manager.log.Debug("connection established",
		"remote_peer", conn.RemotePeer().String(),
		"direction", conn.Stat().Direction.String())
	n.manager.handlePeerConnect(conn.RemotePeer())
}

func (n *networkNotifiee) Disconnected(net corenetwork.Network, conn corenetwork.Conn) {
	n.manager.log.Debug("connection closed",
		"remote_peer", conn.RemotePeer().String())
	n.manager.handlePeerDisconnect(conn.RemotePeer())
}

func (n *networkNotifiee) Listen(net corenetwork.Network, addr multiaddr.Multiaddr) {
	n.manager.log.Debug("listening", "address", addr.String())
}

func (n *networkNotifiee) ListenClose(net corenetwork.Network, addr multiaddr.Multiaddr) {
	n.manager.log.Debug("stopped listening", "address", addr.String())
}
