package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	corenetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/isheff/het-paxos-ref/internal/logger"
	"github.com/isheff/het-paxos-ref/internal/peers"
	"github.com/isheff/het-paxos-ref/pkg/identity"
)

// PeerState represents the current state of a peer
type PeerState int

const (
	PeerStateIdle PeerState = iota
	PeerStateConnecting
	PeerStateConnected
	PeerStateTemporaryFailure
	PeerStatePermanentFailure
)

// String returns string representation of peer state
func (s PeerState) String() string {
	switch s {
	case PeerStateIdle:
		return "idle"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateConnected:
		return "connected"
	case PeerStateTemporaryFailure:
		return "temporary_failure"
	case PeerStatePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Retry policy for peer connections.
const (
	maxFailures    = 5
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 5 * time.Minute
	checkInterval  = 30 * time.Second
)

// PeerHandler keeps one trusted participant dialed: it derives the peer's
// transport ID from its certificate, walks the address list until a dial
// succeeds, and retries with backoff until the failure budget is spent.
type PeerHandler struct {
	record    peers.Peer
	identity  *identity.PublicKey
	peerID    peer.ID
	addresses []multiaddr.Multiaddr

	host host.Host
	log  *logger.Logger

	state        PeerState
	stateMutex   sync.RWMutex
	failureCount int
	nextRetry    time.Time

	connectionTimeout time.Duration

	onStateChange func(handler *PeerHandler, oldState, newState PeerState)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPeerHandler creates a handler for one registry entry. pub must be the
// parsed identity of record's certificate; the handler fails construction
// when no transport peer ID can be derived from it or no address parses.
func NewPeerHandler(record peers.Peer, pub *identity.PublicKey, h host.Host, connectionTimeout time.Duration, log *logger.Logger) (*PeerHandler, error) {
	peerID, err := derivePeerID(pub)
	if err != nil {
		return nil, fmt.Errorf("cannot derive peer ID: %w", err)
	}

	addresses := make([]multiaddr.Multiaddr, 0, len(record.Addresses))
	for _, addrStr := range record.Addresses {
		addr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %s: %w", addrStr, err)
		}
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no valid addresses for peer")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PeerHandler{
		record:            record,
		identity:          pub,
		peerID:            peerID,
		addresses:         addresses,
		host:              h,
		log:               log,
		state:             PeerStateIdle,
		connectionTimeout: connectionTimeout,
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

// SetStateChangeCallback sets a callback for state changes
func (h *PeerHandler) SetStateChangeCallback(callback func(handler *PeerHandler, oldState, newState PeerState)) {
	h.onStateChange = callback
}

// Start begins managing this peer's connection lifecycle
func (h *PeerHandler) Start() {
	go h.connectionLoop()
}

// Stop stops managing this peer
func (h *PeerHandler) Stop() {
	h.cancel()
}

// State returns the current state of this peer
func (h *PeerHandler) State() PeerState {
	h.stateMutex.RLock()
	defer h.stateMutex.RUnlock()
	return h.state
}

// IsConnected returns true if the peer is currently connected
func (h *PeerHandler) IsConnected() bool {
	return h.State() == PeerStateConnected
}

// PeerID returns the transport peer ID derived from the certificate
func (h *PeerHandler) PeerID() peer.ID {
	return h.peerID
}

// Identity returns the participant identity this handler dials
func (h *PeerHandler) Identity() *identity.PublicKey {
	return h.identity
}

// setState changes the peer state and triggers the callback
func (h *PeerHandler) setState(newState PeerState) {
	h.stateMutex.Lock()
	oldState := h.state
	h.state = newState
	h.stateMutex.Unlock()

	if oldState != newState && h.onStateChange != nil {
		h.onStateChange(h, oldState, newState)
	}
}

// connectionLoop manages the connection lifecycle for this peer
func (h *PeerHandler) connectionLoop() {
	h.attemptConnection()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.handlePeriodicCheck()
		}
	}
}

// attemptConnection tries each address until one dial succeeds
func (h *PeerHandler) attemptConnection() {
	switch h.State() {
	case PeerStateConnecting, PeerStateConnected, PeerStatePermanentFailure:
		return
	case PeerStateTemporaryFailure:
		h.stateMutex.RLock()
		tooEarly := time.Now().Before(h.nextRetry)
		h.stateMutex.RUnlock()
		if tooEarly {
			return
		}
	}

	// Adopt a live connection if the other side dialed first
	if h.host.Network().Connectedness(h.peerID) == corenetwork.Connected {
		h.markConnected()
		return
	}

	h.setState(PeerStateConnecting)

	for _, addr := range h.addresses {
		select {
		case <-h.ctx.Done():
			return
		default:
		}

		if h.connectToAddress(addr) {
			h.markConnected()
			h.log.Info("connected to peer",
				"peer", h.identity.String(),
				"peer_id", h.peerID.String(),
				"address", addr.String())
			return
		}

		h.log.Debug("dial failed",
			"peer", h.identity.String(),
			"address", addr.String())
	}

	h.handleConnectionFailure()
}

// connectToAddress attempts to connect via a specific address
func (h *PeerHandler) connectToAddress(addr multiaddr.Multiaddr) bool {
	ctx, cancel := context.WithTimeout(h.ctx, h.connectionTimeout)
	defer cancel()

	h.host.Peerstore().AddAddr(h.peerID, addr, time.Hour)

	err := h.host.Connect(ctx, peer.AddrInfo{
		ID:    h.peerID,
		Addrs: []multiaddr.Multiaddr{addr},
	})
	return err == nil
}

// markConnected records a successful connection and resets the failure budget
func (h *PeerHandler) markConnected() {
	h.stateMutex.Lock()
	h.failureCount = 0
	h.stateMutex.Unlock()
	h.setState(PeerStateConnected)
}

// onDisconnected is called by the manager when the transport reports the
// connection to this peer closed
func (h *PeerHandler) onDisconnected() {
	if h.State() != PeerStateConnected {
		return
	}
	// Another connection to the same peer may still be up
	if h.host.Network().Connectedness(h.peerID) == corenetwork.Connected {
		return
	}
	h.setState(PeerStateIdle)
}

// handleConnectionFailure schedules a retry with linear backoff, giving up
// after the failure budget is spent
func (h *PeerHandler) handleConnectionFailure() {
	h.stateMutex.Lock()
	h.failureCount++

	if h.failureCount >= maxFailures {
		h.stateMutex.Unlock()
		h.setState(PeerStatePermanentFailure)
		h.log.Warn("peer marked as permanently failed",
			"peer", h.identity.String(),
			"failure_count", maxFailures)
		return
	}

	retryDelay := time.Duration(h.failureCount) * baseRetryDelay
	if retryDelay > maxRetryDelay {
		retryDelay = maxRetryDelay
	}
	h.nextRetry = time.Now().Add(retryDelay)
	failures := h.failureCount
	h.stateMutex.Unlock()

	h.setState(PeerStateTemporaryFailure)
	h.log.Warn("peer dial failed, will retry",
		"peer", h.identity.String(),
		"attempt", failures,
		"max_failures", maxFailures,
		"retry_in", retryDelay.String())
}

// handlePeriodicCheck re-dials dropped or due-for-retry peers
func (h *PeerHandler) handlePeriodicCheck() {
	switch h.State() {
	case PeerStateIdle:
		h.attemptConnection()

	case PeerStateTemporaryFailure:
		h.stateMutex.RLock()
		due := time.Now().After(h.nextRetry)
		h.stateMutex.RUnlock()
		if due {
			h.attemptConnection()
		}

	case PeerStateConnected:
		if h.host.Network().Connectedness(h.peerID) != corenetwork.Connected {
			h.log.Warn("connection to peer lost, reconnecting",
				"peer", h.identity.String())
			h.setState(PeerStateIdle)
			h.attemptConnection()
		}
	}
}
