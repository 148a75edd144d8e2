// Package node contains end-to-end tests that assemble full participants
// the same way cmd/hetpaxos does: a configuration file with a provisioned
// identity, an on-disk peer registry and the signed transport over real
// sockets.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isheff/het-paxos-ref/internal/config"
	"github.com/isheff/het-paxos-ref/internal/logger"
	"github.com/isheff/het-paxos-ref/internal/network"
	"github.com/isheff/het-paxos-ref/internal/peers"
	"github.com/isheff/het-paxos-ref/pkg/identity"
	"github.com/isheff/het-paxos-ref/pkg/message"
)

// testNode is one federation participant assembled from its on-disk
// configuration.
type testNode struct {
	name      string
	pub       *identity.PublicKey
	priv      *identity.PrivateKey
	registry  peers.Registry
	transport *network.Manager
	received  chan receivedMessage
}

type receivedMessage struct {
	sender *identity.PublicKey
	msg    *message.ConsensusMessage
}

// HandleConsensusMessage implements network.MessageHandler.
func (n *testNode) HandleConsensusMessage(sender *identity.PublicKey, msg *message.ConsensusMessage) {
	n.received <- receivedMessage{sender: sender, msg: msg}
}

// newTestNode provisions a participant in its own temp directory: a seed
// config without identity material, loaded back so a fresh identity is
// generated and saved, then a registry and a transport on an ephemeral
// port. The transport is not started; callers fill the registry first.
func newTestNode(t *testing.T, name string) *testNode {
	t.Helper()
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yaml")
	peersPath := filepath.Join(dir, "peers.yaml")

	manager := config.NewManager()
	seed := &config.Config{
		Node: config.NodeConfig{
			Hostnames: []string{name + ".test"},
		},
		Network: config.NetworkConfig{
			Addresses: []string{"/ip4/127.0.0.1/tcp/0"},
		},
		Peers: config.PeersConfig{
			File:              peersPath,
			ConnectionTimeout: config.Duration(5 * time.Second),
		},
		Logging: logger.Config{
			Level: "error",
		},
	}
	require.NoError(t, manager.CreateConfigFile(configPath, seed), "Should write seed config")

	cfg, err := manager.LoadConfig(configPath)
	require.NoError(t, err, "Should load and provision config")
	pub, priv := manager.Identity()
	require.NotNil(t, pub, "Provisioned identity should be available")

	registry, err := peers.NewFileRegistry(cfg.Peers.File)
	require.NoError(t, err, "Should open peer registry")

	transport, err := network.NewManager(cfg, pub, priv, registry)
	require.NoError(t, err, "Should create network manager")

	node := &testNode{
		name:      name,
		pub:       pub,
		priv:      priv,
		registry:  registry,
		transport: transport,
		received:  make(chan receivedMessage, 16),
	}
	transport.RegisterMessageHandler(node)
	return node
}

// addresses renders the transport's bound listen addresses. The host binds
// when the transport is created, so addresses are known before Start.
func (n *testNode) addresses() []string {
	addrs := n.transport.Addrs()
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.String())
	}
	return result
}

// createFederation provisions count nodes that all trust each other and
// starts them. Cleanup stops every node.
func createFederation(t *testing.T, count int) []*testNode {
	t.Helper()

	nodes := make([]*testNode, count)
	for i := range nodes {
		nodes[i] = newTestNode(t, fmt.Sprintf("node-%d", i))
	}

	for _, node := range nodes {
		for _, other := range nodes {
			if other == node {
				continue
			}
			err := node.registry.AddPeer(peers.Peer{
				Certificate: other.pub.PEM(),
				Addresses:   other.addresses(),
			})
			require.NoError(t, err, "Should register %s with %s", other.name, node.name)
		}
	}

	ctx := context.Background()
	for _, node := range nodes {
		require.NoError(t, node.transport.Start(ctx), "Should start %s", node.name)
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			_ = node.transport.Stop()
			_ = node.registry.Close()
		}
	})

	waitForMesh(t, nodes)
	return nodes
}

// waitForPeers polls until the node reports at least want connected peers.
func waitForPeers(t *testing.T, node *testNode, want int) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if node.transport.ConnectedPeers() >= want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s to reach %d connected peers", node.name, want)
}

// waitForMesh blocks until every node is connected to every other node.
func waitForMesh(t *testing.T, nodes []*testNode) {
	t.Helper()
	for _, node := range nodes {
		waitForPeers(t, node, len(nodes)-1)
	}
}
