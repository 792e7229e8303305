package server

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

var _ distkv.Engine = (*fakeEngine)(nil)

// fakeEngine is a scripted engine: tests decide entries and queue outgoing
// messages by hand and inspect what the coordinator fed in.
type fakeEngine struct {
	mx sync.Mutex

	decided  []distkv.DecidedEntry
	outgoing []distkv.Message

	incoming []distkv.Message
	appended []distkv.Entry
	timeouts int

	rejectAppends bool
	autoDecide    bool // appended entries are decided at once
}

func (e *fakeEngine) HandleIncoming(msg distkv.Message) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.incoming = append(e.incoming, msg)
}

func (e *fakeEngine) OutgoingMessages() []distkv.Message {
	e.mx.Lock()
	defer e.mx.Unlock()
	var out = e.outgoing
	e.outgoing = nil
	return out
}

func (e *fakeEngine) Append(entry distkv.Entry) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.rejectAppends {
		return distkv.ErrNotLeader
	}
	e.appended = append(e.appended, entry)
	if e.autoDecide {
		e.decideLocked(entry)
	}
	return nil
}

func (e *fakeEngine) DecidedIndex() uint64 {
	e.mx.Lock()
	defer e.mx.Unlock()
	return uint64(len(e.decided))
}

func (e *fakeEngine) DecidedSuffix(from uint64) []distkv.DecidedEntry {
	e.mx.Lock()
	defer e.mx.Unlock()
	if from >= uint64(len(e.decided)) {
		return nil
	}
	return append([]distkv.DecidedEntry(nil), e.decided[from:]...)
}

func (e *fakeEngine) ElectionTimeout() {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.timeouts++
}

func (e *fakeEngine) RecoverFromCrash() {}

func (e *fakeEngine) decide(entries ...distkv.Entry) {
	e.mx.Lock()
	defer e.mx.Unlock()
	for _, entry := range entries {
		e.decideLocked(entry)
	}
}

func (e *fakeEngine) decideNoop() {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.decided = append(e.decided, distkv.DecidedEntry{Index: uint64(len(e.decided)), Kind: distkv.EntryNoop})
}

func (e *fakeEngine) decideLocked(entry distkv.Entry) {
	e.decided = append(e.decided, distkv.DecidedEntry{
		Index: uint64(len(e.decided)),
		Kind:  distkv.EntryWrite,
		Entry: entry,
	})
}

func (e *fakeEngine) queue(msgs ...distkv.Message) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.outgoing = append(e.outgoing, msgs...)
}

func (e *fakeEngine) received() []distkv.Message {
	e.mx.Lock()
	defer e.mx.Unlock()
	return append([]distkv.Message(nil), e.incoming...)
}

// recordingSender remembers every message it was asked to send.
type recordingSender struct {
	mx   sync.Mutex
	sent []distkv.Message
	fail map[distkv.NodeID]bool
}

func (s *recordingSender) Send(_ context.Context, msg distkv.Message) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.fail[msg.To] {
		return errors.New("connection refused")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []distkv.Message {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]distkv.Message(nil), s.sent...)
}

// chanResponder hands every reply to a channel.
type chanResponder chan []byte

func (r chanResponder) Respond(ctx context.Context, payload []byte) error {
	select {
	case r <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// staticLinks is a fixed LinkQuerier.
type staticLinks struct {
	links LinkSet
	err   error
}

func (s staticLinks) BrokenLinks(context.Context) (LinkSet, error) {
	return s.links, s.err
}

func testLogger() *logrus.Entry {
	var logger = logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(logger)
}
