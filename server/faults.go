package server

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/codec"
	"github.com/willeasp/id2203-distributed-kv-store/config"
)

// LinkSet is a snapshot of the peers this node treats as unreachable.
type LinkSet map[distkv.NodeID]struct{}

func (s LinkSet) Has(id distkv.NodeID) bool {
	_, ok := s[id]
	return ok
}

func (s LinkSet) Sorted() []distkv.NodeID {
	var ids = make([]distkv.NodeID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type ManagementOp int

const (
	OpBreakLink ManagementOp = iota + 1
	OpRestoreLinks
	OpGetLinks
)

func (op ManagementOp) String() string {
	switch op {
	case OpBreakLink:
		return "break_link"
	case OpRestoreLinks:
		return "restore_links"
	case OpGetLinks:
		return "get_links"
	default:
		return "unknown"
	}
}

type ManagementCommand struct {
	Op ManagementOp
	ID distkv.NodeID // only for OpBreakLink
}

// ParseManagementCommand parses "break_link <id>", "restore_links" or "get_links".
func ParseManagementCommand(line string) (ManagementCommand, error) {
	var fields = strings.Fields(line)
	if len(fields) == 0 {
		return ManagementCommand{}, fmt.Errorf("empty management command")
	}

	switch fields[0] {
	case "break_link":
		if len(fields) != 2 {
			return ManagementCommand{}, fmt.Errorf("usage: break_link <id>")
		}
		id, err := config.ParseNodeID(fields[1])
		if err != nil {
			return ManagementCommand{}, err
		}
		return ManagementCommand{Op: OpBreakLink, ID: id}, nil

	case "restore_links":
		if len(fields) != 1 {
			return ManagementCommand{}, fmt.Errorf("usage: restore_links")
		}
		return ManagementCommand{Op: OpRestoreLinks}, nil

	case "get_links":
		if len(fields) != 1 {
			return ManagementCommand{}, fmt.Errorf("usage: get_links")
		}
		return ManagementCommand{Op: OpGetLinks}, nil
	}

	return ManagementCommand{}, fmt.Errorf("unknown management command %q", fields[0])
}

// FaultInjector owns the set of broken links. Management commands and link
// queries reach it only through channels, Run is the only goroutine touching the set.
type FaultInjector struct {
	commands chan ManagementCommand
	queries  chan chan LinkSet
	done     chan struct{}

	responder Responder // get_links replies
	logger    *logrus.Entry
}

func NewFaultInjector(responder Responder, capacity int, logger *logrus.Entry) *FaultInjector {
	if capacity <= 0 {
		capacity = 32
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &FaultInjector{
		commands:  make(chan ManagementCommand, capacity),
		queries:   make(chan chan LinkSet),
		done:      make(chan struct{}),
		responder: responder,
		logger:    logger.WithField("component", "faults"),
	}
}

func (f *FaultInjector) Run(ctx context.Context) error {
	defer close(f.done)

	var broken = make(LinkSet)

	for {
		// select picks uniformly among ready cases
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-f.commands:
			f.apply(ctx, broken, cmd)

		case reply := <-f.queries:
			var snapshot = make(LinkSet, len(broken))
			for id := range broken {
				snapshot[id] = struct{}{}
			}
			reply <- snapshot
		}
	}
}

func (f *FaultInjector) apply(ctx context.Context, broken LinkSet, cmd ManagementCommand) {
	switch cmd.Op {
	case OpBreakLink:
		broken[cmd.ID] = struct{}{}
		f.logger.WithField("peer", cmd.ID).Info("link broken")

	case OpRestoreLinks:
		clear(broken)
		f.logger.Info("links restored")

	case OpGetLinks:
		var payload = codec.EncodeNodeIDs(broken.Sorted())
		// the reply may hang on a slow receiver, link queries must not wait for it
		go func() {
			if err := f.responder.Respond(ctx, payload); err != nil {
				f.logger.WithError(err).Warn("cannot deliver get_links response")
			}
		}()

	default:
		f.logger.WithField("op", cmd.Op).Warn("unknown management command")
	}
}

// Submit queues a management command, it blocks while the queue is full.
func (f *FaultInjector) Submit(ctx context.Context, cmd ManagementCommand) error {
	select {
	case <-f.done:
		return ErrStopped
	default:
	}

	select {
	case f.commands <- cmd:
		return nil
	case <-f.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BrokenLinks returns the current set of broken links.
func (f *FaultInjector) BrokenLinks(ctx context.Context) (LinkSet, error) {
	var reply = make(chan LinkSet, 1)

	select {
	case f.queries <- reply:
	case <-f.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case links := <-reply:
		return links, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
