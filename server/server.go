// Package server runs one node: the Coordinator actor that owns the consensus
// engine, the Fault Injector, the peer, command and management listeners,
// the flush and election timers and the gRPC health service.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/config"
	state_machine "github.com/willeasp/id2203-distributed-kv-store/state-machine"
)

type Node struct {
	cfg    *config.Config
	logger *logrus.Entry

	store     *state_machine.KVStore
	storage   io.Closer
	recovered bool

	coordinator *Coordinator
	faults      *FaultInjector
	health      *healthServer
}

// NewNode bootstraps the engine from the recovery directory and wires the actors.
// Nothing listens until Run.
func NewNode(cfg *config.Config, logger *logrus.Entry) (*Node, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("node", cfg.Node.ID)

	eng, closer, recovered, err := Bootstrap(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	var store = state_machine.New()
	var faults = NewFaultInjector(newTCPResponder(cfg.Cluster.ManagementResponseAddr), cfg.Node.ChannelCapacity, logger)

	var coordinator = NewCoordinator(CoordinatorConfig{
		ID:        cfg.Node.ID,
		Engine:    eng,
		Store:     store,
		Links:     faults,
		Peers:     newTCPSender(cfg.PeerAddr),
		Responder: newTCPResponder(cfg.Cluster.ClientResponseAddr),
		Capacity:  cfg.Node.ChannelCapacity,
		Logger:    logger,
	})

	return &Node{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		storage:     closer,
		recovered:   recovered,
		coordinator: coordinator,
		faults:      faults,
		health:      newHealthServer(),
	}, nil
}

func (n *Node) ID() distkv.NodeID {
	return n.cfg.Node.ID
}

// Store is the node's KV store, read-only for everyone but the coordinator.
func (n *Node) Store() *state_machine.KVStore {
	return n.store
}

// Recovered reports whether the node booted from an existing recovery directory.
func (n *Node) Recovered() bool {
	return n.recovered
}

// Submit routes a write into the same path as a client "write" command.
func (n *Node) Submit(ctx context.Context, entry distkv.Entry) error {
	if entry.Key == "" {
		return distkv.ErrEmptyKey
	}
	if !emit(ctx, n.coordinator.Events(), ClientWrite{Entry: entry}) {
		return ctx.Err()
	}
	return nil
}

// Run binds every listener, then runs all actors until ctx is done or one of
// them fails. A bind failure is returned before anything starts. Storage is
// closed on return.
func (n *Node) Run(ctx context.Context) error {
	defer func() {
		if err := n.storage.Close(); err != nil {
			n.logger.WithError(err).Warn("cannot close storage")
		}
	}()

	listeners, err := n.listen()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	var events = n.coordinator.Events()

	start("faults", func() error { return n.faults.Run(ctx) })
	start("coordinator", func() error { return n.coordinator.Run(ctx) })
	start("peer listener", func() error { return servePeers(ctx, listeners.peer, events, n.logger) })
	start("command listener", func() error { return serveCommands(ctx, listeners.command, events, n.logger) })
	start("management listener", func() error { return serveManagement(ctx, listeners.management, n.faults, n.logger) })
	start("health", func() error { return n.health.serve(listeners.health) })
	start("flush timer", func() error {
		runTicker(ctx, n.cfg.Timers.Flush, events, func() Event { return FlushOutgoing{} })
		return nil
	})
	start("election timer", func() error {
		runTicker(ctx, n.cfg.Timers.Election, events, func() Event { return ElectionTick{} })
		return nil
	})

	n.health.setServing(true)
	n.logger.WithFields(logrus.Fields{
		"peer":       listeners.peer.Addr().String(),
		"command":    listeners.command.Addr().String(),
		"management": listeners.management.Addr().String(),
		"recovered":  n.recovered,
	}).Info("node running")

	<-ctx.Done()

	n.health.stop()
	wg.Wait()

	n.logger.Info("node stopped")
	return firstErr
}

type nodeListeners struct {
	peer, command, management, health net.Listener
}

func (n *Node) listen() (*nodeListeners, error) {
	var (
		res    nodeListeners
		opened []net.Listener
	)

	for _, l := range []struct {
		name string
		addr string
		dst  *net.Listener
	}{
		{"peer", n.cfg.PeerListenAddr(), &res.peer},
		{"command", n.cfg.CommandListenAddr(), &res.command},
		{"management", n.cfg.ManagementListenAddr(), &res.management},
		{"health", n.cfg.HealthListenAddr(), &res.health},
	} {
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			return nil, fmt.Errorf("bind %s listener on %s: %w", l.name, l.addr, err)
		}
		opened = append(opened, ln)
		*l.dst = ln
	}

	return &res, nil
}
