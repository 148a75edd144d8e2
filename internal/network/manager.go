// Package network carries consensus messages between trusted participants.
// Every outbound message travels in a signed envelope; every inbound
// envelope is matched against the trusted registry and verified before its
// message is handed to the node. Unknown or forged envelopes are dropped
// and logged, never answered.
package network

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	corenetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/isheff/het-paxos-ref/internal/config"
	"github.com/isheff/het-paxos-ref/internal/logger"
	"github.com/isheff/het-paxos-ref/internal/peers"
	"github.com/isheff/het-paxos-ref/pkg/identity"
	"github.com/isheff/het-paxos-ref/pkg/message"
)

// defaultConnectionTimeout bounds dials and stream writes when the
// configuration leaves the timeout unset.
const defaultConnectionTimeout = 10 * time.Second

// Manager implements the Transport interface on a libp2p host.
type Manager struct {
	pub  *identity.PublicKey
	priv *identity.PrivateKey

	registry peers.Registry
	host     host.Host
	log      *logger.Logger

	connectionTimeout time.Duration

	peerHandlers map[string]*PeerHandler // keyed by certificate PEM text
	peerMutex    sync.RWMutex

	msgHandlers      []MessageHandler
	msgHandlersMutex sync.RWMutex

	isStarted  bool
	startMutex sync.Mutex
}

// NewManager creates the network manager: a libp2p host listening on the
// configured addresses, whose transport identity is the node's signing key.
func NewManager(cfg *config.Config, pub *identity.PublicKey, priv *identity.PrivateKey, registry peers.Registry) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if pub == nil || priv == nil {
		return nil, fmt.Errorf("node identity cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("peer registry cannot be nil")
	}

	h, err := newHost(cfg.Network.Addresses, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	timeout := cfg.Peers.ConnectionTimeout.AsDuration()
	if timeout <= 0 {
		timeout = defaultConnectionTimeout
	}

	return &Manager{
		pub:               pub,
		priv:              priv,
		registry:          registry,
		host:              h,
		log:               logger.Component("network"),
		connectionTimeout: timeout,
		peerHandlers:      make(map[string]*PeerHandler),
	}, nil
}

// Start registers the consensus protocol and begins dialing every peer in
// the registry. A node with an empty registry starts fine and simply talks
// to nobody until peers are configured.
func (m *Manager) Start(ctx context.Context) error {
	m.startMutex.Lock()
	defer m.startMutex.Unlock()

	if m.isStarted {
		return ErrAlreadyStarted
	}

	m.host.SetStreamHandler(ProtocolID, m.handleStream)
	m.host.Network().Notify(&networkNotifiee{manager: m})

	m.peerMutex.Lock()
	for _, record := range m.registry.GetPeers() {
		pub, ok := m.registry.Identity(record.Certificate)
		if !ok {
			continue
		}
		if pub.Equal(m.pub) {
			// The registry may list this node itself; nothing to dial.
			continue
		}

		handler, err := NewPeerHandler(record, pub, m.host, m.connectionTimeout, m.log)
		if err != nil {
			m.log.Warn("skipping undialable peer",
				"peer", pub.String(),
				"error", err.Error())
			continue
		}
		handler.SetStateChangeCallback(m.onPeerStateChange)
		m.peerHandlers[record.Certificate] = handler
	}
	handlers := make([]*PeerHandler, 0, len(m.peerHandlers))
	for _, handler := range m.peerHandlers {
		handlers = append(handlers, handler)
	}
	m.peerMutex.Unlock()

	for _, handler := range handlers {
		handler.Start()
	}
	if len(handlers) == 0 {
		m.log.Info("no peers configured, running standalone")
	}

	m.isStarted = true
	m.log.Info("network manager started",
		"peer_id", m.host.ID().String(),
		"addresses", addrStrings(m.host.Addrs()),
		"peers", len(handlers))
	return nil
}

// Stop closes all peer handlers and the host. Stopping twice is a no-op.
func (m *Manager) Stop() error {
	m.startMutex.Lock()
	defer m.startMutex.Unlock()

	if !m.isStarted {
		return nil
	}

	m.host.RemoveStreamHandler(ProtocolID)

	m.peerMutex.Lock()
	for _, handler := range m.peerHandlers {
		handler.Stop()
	}
	m.peerHandlers = make(map[string]*PeerHandler)
	m.peerMutex.Unlock()

	if err := m.host.Close(); err != nil {
		return fmt.Errorf("failed to close host: %w", err)
	}

	m.isStarted = false
	return nil
}

// RegisterMessageHandler adds a handler for verified inbound messages.
func (m *Manager) RegisterMessageHandler(handler MessageHandler) {
	m.msgHandlersMutex.Lock()
	defer m.msgHandlersMutex.Unlock()
	m.msgHandlers = append(m.msgHandlers, handler)
}

// Broadcast signs msg once and sends the envelope to every currently
// connected peer. It returns how many peers were reached. Per-peer send
// failures are logged and skipped, not returned; the protocol above
// decides what partial delivery means for the round.
func (m *Manager) Broadcast(ctx context.Context, msg *message.ConsensusMessage) (int, error) {
	m.startMutex.Lock()
	started := m.isStarted
	m.startMutex.Unlock()
	if !started {
		return 0, ErrNotStarted
	}

	data := NewEnvelope(m.pub, m.priv, msg).Encode()

	m.peerMutex.RLock()
	targets := make([]*PeerHandler, 0, len(m.peerHandlers))
	for _, handler := range m.peerHandlers {
		if handler.IsConnected() {
			targets = append(targets, handler)
		}
	}
	m.peerMutex.RUnlock()

	delivered := 0
	for _, handler := range targets {
		if err := m.sendToPeer(ctx, handler.PeerID(), data); err != nil {
			m.log.Warn("send failed",
				"peer", handler.Identity().String(),
				"error", err.Error())
			continue
		}
		delivered++
	}

	m.log.Debug("broadcast complete",
		"kind", msg.Kind(),
		"delivered", delivered,
		"connected", len(targets))
	return delivered, nil
}

// sendToPeer opens one stream, writes one envelope and half-closes it.
func (m *Manager) sendToPeer(ctx context.Context, peerID peer.ID, data []byte) error {
	sctx, cancel := context.WithTimeout(ctx, m.connectionTimeout)
	defer cancel()

	stream, err := m.host.NewStream(sctx, peerID, ProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if deadline, ok := sctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if _, err := stream.Write(data); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return stream.Close()
}

// handleStream reads one envelope from an inbound stream, verifies it and
// dispatches the message. Every rejection is logged with the transport
// peer that delivered it; nothing is written back.
func (m *Manager) handleStream(stream corenetwork.Stream) {
	defer stream.Close()
	remote := stream.Conn().RemotePeer()

	_ = stream.SetReadDeadline(time.Now().Add(m.connectionTimeout))
	data, err := io.ReadAll(io.LimitReader(stream, MaxEnvelopeSize+1))
	if err != nil {
		m.log.Warn("failed to read envelope",
			"remote_peer", remote.String(),
			"error", err.Error())
		_ = stream.Reset()
		return
	}
	if len(data) > MaxEnvelopeSize {
		m.log.Warn("dropping oversized envelope",
			"remote_peer", remote.String(),
			"size", len(data),
			"error", ErrEnvelopeTooLarge.Error())
		return
	}

	envelope, err := DecodeEnvelope(data)
	if err != nil {
		m.log.Warn("dropping malformed envelope",
			"remote_peer", remote.String(),
			"error", err.Error())
		return
	}

	sender, msg, err := m.openEnvelope(envelope)
	if err != nil {
		m.log.Warn("dropping unverified message",
			"remote_peer", remote.String(),
			"error", err.Error())
		return
	}

	m.log.Debug("received message",
		"sender", sender.String(),
		"kind", msg.Kind())
	m.dispatch(sender, msg)
}

// openEnvelope checks an envelope against the trusted registry: the
// sender's certificate text must be registered, the signature must verify
// over the payload under that certificate, and the payload must decode
// into a valid consensus message.
func (m *Manager) openEnvelope(envelope *Envelope) (*identity.PublicKey, *message.ConsensusMessage, error) {
	sender, ok := m.registry.Identity(envelope.Certificate)
	if !ok {
		return nil, nil, ErrUnknownSender
	}
	if !sender.Verify(envelope.Payload, envelope.Signature) {
		return nil, nil, ErrBadSignature
	}

	var msg message.ConsensusMessage
	if err := msg.UnmarshalCanonical(envelope.Payload); err != nil {
		return nil, nil, fmt.Errorf("payload does not decode: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid message: %w", err)
	}
	return sender, &msg, nil
}

// dispatch hands a verified message to every registered handler.
func (m *Manager) dispatch(sender *identity.PublicKey, msg *message.ConsensusMessage) {
	m.msgHandlersMutex.RLock()
	handlers := make([]MessageHandler, len(m.msgHandlers))
	copy(handlers, m.msgHandlers)
	m.msgHandlersMutex.RUnlock()

	for _, handler := range handlers {
		handler.HandleConsensusMessage(sender, msg)
	}
}

// ConnectedPeers returns how many trusted peers are currently connected.
func (m *Manager) ConnectedPeers() int {
	m.peerMutex.RLock()
	defer m.peerMutex.RUnlock()

	connected := 0
	for _, handler := range m.peerHandlers {
		if handler.IsConnected() {
			connected++
		}
	}
	return connected
}

// PeerID returns this node's transport peer ID.
func (m *Manager) PeerID() peer.ID {
	return m.host.ID()
}

// Addrs returns the listen addresses the host actually bound.
func (m *Manager) Addrs() []multiaddr.Multiaddr {
	return m.host.Addrs()
}

// onPeerStateChange logs peer lifecycle transitions.
func (m *Manager) onPeerStateChange(handler *PeerHandler, oldState, newState PeerState) {
	m.log.Info("peer state changed",
		"peer", handler.Identity().String(),
		"from", oldState.String(),
		"to", newState.String())
}

// handlePeerDisconnect routes a transport disconnect to the affected handler.
func (m *Manager) handlePeerDisconnect(peerID peer.ID) {
	m.peerMutex.RLock()
	defer m.peerMutex.RUnlock()

	for _, handler := range m.peerHandlers {
		if handler.PeerID() == peerID {
			handler.onDisconnected()
			return
		}
	}
}

// handlePeerConnect lets a handler adopt a connection the remote side opened.
func (m *Manager) handlePeerConnect(peerID peer.ID) {
	m.peerMutex.RLock()
	defer m.peerMutex.RUnlock()

	for _, handler := range m.peerHandlers {
		if handler.PeerID() == peerID {
			handler.markConnected()
			return
		}
	}
}

// addrStrings renders multiaddrs for logging.
func addrStrings(addrs []multiaddr.Multiaddr) []string {
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.String())
	}
	return result
}
