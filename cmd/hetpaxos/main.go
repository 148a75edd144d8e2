// Command hetpaxos runs one participant of a heterogeneous Paxos
// federation: it loads the node identity, connects to the trusted peers
// and exchanges signed consensus messages with them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/isheff/het-paxos-ref/internal/config"
	"github.com/isheff/het-paxos-ref/internal/logger"
	"github.com/isheff/het-paxos-ref/internal/network"
	"github.com/isheff/het-paxos-ref/internal/peers"
	"github.com/isheff/het-paxos-ref/pkg/identity"
	"github.com/isheff/het-paxos-ref/pkg/message"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the node configuration file")
	announceEvery := flag.Duration("announce", 10*time.Second, "Interval between ballot announcements, 0 disables")
	announceValue := flag.String("value", "", "Value whose fingerprint this node proposes, defaults to the node certificate")
	flag.Parse()

	configManager := config.NewManager()
	cfg, err := configManager.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	pub, priv := configManager.Identity()
	log := logger.Component("node")
	log.Info("identity loaded",
		"identity", pub.String(),
		"scheme", pub.Scheme().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	value := *announceValue
	if value == "" {
		value = pub.PEM()
	}

	if err := run(ctx, cfg, pub, priv, message.Sum([]byte(value)), *announceEvery); err != nil {
		log.Error("node failed", "error", err.Error())
		os.Exit(1)
	}
}

// run wires the registry, the transport and the announcement loop, then
// blocks until the context is cancelled. It is separated from main so the
// shutdown path releases every resource through defers.
func run(ctx context.Context, cfg *config.Config, pub *identity.PublicKey, priv *identity.PrivateKey, value message.Hash256, announceEvery time.Duration) error {
	log := logger.Component("node")

	registry, err := peers.NewFileRegistry(cfg.Peers.File)
	if err != nil {
		return fmt.Errorf("failed to open peer registry: %w", err)
	}
	defer registry.Close()

	transport, err := network.NewManager(cfg, pub, priv, registry)
	if err != nil {
		return fmt.Errorf("failed to create network manager: %w", err)
	}
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start network: %w", err)
	}
	defer func() {
		if err := transport.Stop(); err != nil {
			log.Warn("error stopping network", "error", err.Error())
		}
	}()

	tracker := newBallotTracker(logger.Component("consensus"))
	transport.RegisterMessageHandler(tracker)

	if announceEvery > 0 {
		go announce(ctx, transport, tracker, pub, value, announceEvery)
	}

	log.Info("node running",
		"peer_id", transport.PeerID().String(),
		"peers", len(registry.GetPeers()),
		"value", value.String())

	<-ctx.Done()

	if ballot, holder := tracker.Highest(); ballot != nil {
		log.Info("final highest ballot",
			"ballot", ballot.String(),
			"holder", holder.String())
	}
	log.Info("shutting down")
	return nil
}

// announce broadcasts a fresh phase-1a proposal on every tick. Each ballot
// pairs the tick's timestamp with the proposed value fingerprint, so later
// announcements strictly dominate earlier ones.
func announce(ctx context.Context, transport *network.Manager, tracker *ballotTracker, pub *identity.PublicKey, value message.Hash256, every time.Duration) {
	log := logger.Component("proposer")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			msg := &message.ConsensusMessage{Ballot: message.NewBallot(now, value)}
			delivered, err := transport.Broadcast(ctx, msg)
			if err != nil {
				log.Warn("announcement failed", "error", err.Error())
				continue
			}
			tracker.Observe(pub, msg.Ballot)
			log.Debug("announced ballot",
				"ballot", msg.Ballot.String(),
				"delivered", delivered)
		}
	}
}

// ballotTracker keeps the highest ballot seen from any participant and
// logs how each verified arrival orders against the running maximum.
type ballotTracker struct {
	log *logger.Logger

	mu      sync.Mutex
	highest *message.Ballot
	holder  *identity.PublicKey
}

func newBallotTracker(log *logger.Logger) *ballotTracker {
	return &ballotTracker{log: log}
}

// HandleConsensusMessage implements network.MessageHandler.
func (t *ballotTracker) HandleConsensusMessage(sender *identity.PublicKey, msg *message.ConsensusMessage) {
	if !msg.IsOneA() {
		t.log.Debug("ignoring non-proposal message",
			"kind", msg.Kind(),
			"sender", sender.String())
		return
	}
	t.Observe(sender, msg.Ballot)
}

// Observe folds one ballot into the running maximum.
func (t *ballotTracker) Observe(sender *identity.PublicKey, ballot *message.Ballot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.highest == nil || ballot.Compare(t.highest) > 0 {
		t.highest = ballot
		t.holder = sender
		t.log.Info("new highest ballot",
			"ballot", ballot.String(),
			"holder", sender.String())
		return
	}
	t.log.Debug("ballot does not dominate",
		"ballot", ballot.String(),
		"highest", t.highest.String())
}

// Highest returns the current maximum and who announced it.
func (t *ballotTracker) Highest() (*message.Ballot, *identity.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highest, t.holder
}
