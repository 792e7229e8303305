package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	state_machine "github.com/willeasp/id2203-distributed-kv-store/state-machine"
)

// ErrStopped is returned by actors that are no longer running.
var ErrStopped = errors.New("server: actor stopped")

// PeerSender delivers one engine message to its destination node.
type PeerSender interface {
	Send(ctx context.Context, msg distkv.Message) error
}

// Responder delivers a reply to a fixed, well-known address.
type Responder interface {
	Respond(ctx context.Context, payload []byte) error
}

// LinkQuerier answers which peers are currently cut off.
type LinkQuerier interface {
	BrokenLinks(ctx context.Context) (LinkSet, error)
}

type CoordinatorConfig struct {
	ID        distkv.NodeID
	Engine    distkv.Engine
	Store     *state_machine.KVStore
	Links     LinkQuerier
	Peers     PeerSender
	Responder Responder // client read replies
	Capacity  int       // event channel capacity
	Logger    *logrus.Entry
}

// Coordinator is the only owner of the consensus engine. It consumes a single
// event channel and is the only writer of the KV store.
type Coordinator struct {
	id        distkv.NodeID
	engine    distkv.Engine
	store     *state_machine.KVStore
	links     LinkQuerier
	peers     PeerSender
	responder Responder

	events chan Event

	// watermark is how much of the decided log has been applied,
	// it is only written by Run
	watermark atomic.Uint64

	logger *logrus.Entry
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	var capacity = cfg.Capacity
	if capacity <= 0 {
		capacity = 32
	}

	var logger = cfg.Logger
	if logger == nil {
		logger = logrus.WithField("node", cfg.ID)
	}

	return &Coordinator{
		id:        cfg.ID,
		engine:    cfg.Engine,
		store:     cfg.Store,
		links:     cfg.Links,
		peers:     cfg.Peers,
		responder: cfg.Responder,
		events:    make(chan Event, capacity),
		logger:    logger.WithField("component", "coordinator"),
	}
}

// Events is the inbound channel every listener and timer feeds.
func (c *Coordinator) Events() chan<- Event {
	return c.events
}

// Watermark returns the number of decided entries applied to the store.
func (c *Coordinator) Watermark() uint64 {
	return c.watermark.Load()
}

// Run processes events one at a time in arrival order until ctx is done.
// It returns an error only when the node cannot go on.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")

	// entries decided before the start (recovery replay) are applied right away
	c.apply()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			c.apply()
		}
	}
}

// apply moves every decided write above the watermark into the store.
func (c *Coordinator) apply() {
	var decided = c.engine.DecidedIndex()
	var watermark = c.watermark.Load()
	if decided <= watermark {
		return
	}

	var suffix = c.engine.DecidedSuffix(watermark)
	if suffix == nil {
		return
	}

	var batch = make([]distkv.DecidedEntry, 0, len(suffix))
	for _, entry := range suffix {
		if entry.Index >= watermark && entry.Index < decided {
			batch = append(batch, entry)
		}
	}

	var applied = c.store.Apply(batch)
	c.watermark.Store(decided)

	c.logger.WithFields(logrus.Fields{
		"from":    watermark,
		"to":      decided,
		"applied": applied,
	}).Debug("applied decided entries")
}

// read scans the whole decided log backwards for the latest write to key.
func (c *Coordinator) read(key string) string {
	var decided = c.engine.DecidedSuffix(0)
	for i := len(decided) - 1; i >= 0; i-- {
		if decided[i].Kind == distkv.EntryWrite && decided[i].Entry.Key == key {
			return decided[i].Entry.Value
		}
	}
	return ""
}

func (c *Coordinator) isBroken(ctx context.Context, id distkv.NodeID) (bool, error) {
	links, err := c.links.BrokenLinks(ctx)
	if err != nil {
		return false, fmt.Errorf("query broken links: %w", err)
	}
	return links.Has(id), nil
}
