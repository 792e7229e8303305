// Package engine is the reference consensus engine: a compact Raft driven entirely
// through the distkv.Engine message-pump contract. It owns no goroutines, timers
// or sockets; whoever owns it feeds messages and ticks and drains the outbox.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

const (
	defaultElectionTicksMin = 3
	defaultElectionTicksMax = 6

	// maxEntriesPerMsg bounds one AppendEntries so a lagging follower catches up in steps
	maxEntriesPerMsg = 256
)

var _ distkv.Engine = (*Engine)(nil)

// Storage is the durable state the engine is built from and writes through.
type Storage interface {
	HardState() (storage.HardState, error)
	SaveHardState(state storage.HardState) error
	Entries() ([]storage.LogEntry, error)
	Append(entries ...storage.LogEntry) error
}

type Config struct {
	ID    distkv.NodeID
	Peers []distkv.NodeID // other cluster members, ID itself is ignored

	// ElectionTicksMin and ElectionTicksMax bound the randomized number of
	// ElectionTimeout calls a follower waits before campaigning
	ElectionTicksMin int
	ElectionTicksMax int

	Logger *logrus.Entry
	Rand   *rand.Rand
}

// Engine is a single-owner Raft instance, it is not safe for concurrent use.
type Engine struct {
	id    distkv.NodeID
	peers []distkv.NodeID

	persistentState persistentState
	volatileState   volatileState
	leaderState     leaderState
	candidateState  candidateState

	// current state
	state State

	store  Storage
	outbox []distkv.Message

	ticksMin, ticksMax int
	rnd                *rand.Rand
	logger             *logrus.Entry
}

// New builds an engine from whatever store holds: nothing for a fresh store,
// the persisted term, vote, commit index and log for a reopened one.
func New(cfg Config, store Storage) (*Engine, error) {
	if cfg.ID == 0 {
		return nil, errors.New("engine: node id must be greater than 0")
	}

	hs, err := store.HardState()
	if err != nil {
		return nil, fmt.Errorf("engine: read hard state: %w", err)
	}

	entries, err := store.Entries()
	if err != nil {
		return nil, fmt.Errorf("engine: read log: %w", err)
	}

	var peers = make([]distkv.NodeID, 0, len(cfg.Peers))
	var seen = map[distkv.NodeID]bool{cfg.ID: true}
	for _, p := range cfg.Peers {
		if !seen[p] {
			seen[p] = true
			peers = append(peers, p)
		}
	}

	e := &Engine{
		id:    cfg.ID,
		peers: peers,
		persistentState: persistentState{
			currentTerm: hs.Term,
			votedFor:    hs.Vote,
			log:         entries,
		},
		volatileState: volatileState{
			commitIndex: min(hs.Commit, uint64(len(entries))),
		},
		leaderState: leaderState{
			nextIndex:  make(map[distkv.NodeID]uint64),
			matchIndex: make(map[distkv.NodeID]uint64),
		},
		state:    Follower,
		store:    store,
		ticksMin: cfg.ElectionTicksMin,
		ticksMax: cfg.ElectionTicksMax,
		rnd:      cfg.Rand,
		logger:   cfg.Logger,
	}

	if e.ticksMin <= 0 {
		e.ticksMin = defaultElectionTicksMin
	}
	if e.ticksMax <= e.ticksMin {
		e.ticksMax = max(defaultElectionTicksMax, e.ticksMin+1)
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID)))
	}
	if e.logger == nil {
		e.logger = logrus.WithField("component", "raft")
	}
	e.logger = e.logger.WithField("node", cfg.ID)

	e.resetElectionClock()

	return e, nil
}

// State returns the current term and whether this node believes it is the leader.
func (e *Engine) State() (uint64, bool) {
	return e.persistentState.currentTerm, e.state == Leader
}

func (e *Engine) Role() State {
	return e.state
}

func (e *Engine) LeaderID() distkv.NodeID {
	return e.volatileState.leaderID
}

func (e *Engine) HandleIncoming(msg distkv.Message) {
	if msg.To != e.id {
		e.logger.WithField("to", msg.To).Warn("dropping message addressed to another node")
		return
	}

	r, err := unmarshalRPC(msg.Payload)
	if err != nil {
		e.logger.WithError(err).WithField("from", msg.From).Warn("dropping malformed rpc")
		return
	}

	// any message with a higher term makes us a follower of that term
	if r.term() > e.persistentState.currentTerm {
		e.becomeFollower(r.term(), 0)
	}

	switch {
	case r.voteReq != nil:
		e.handleRequestVote(msg.From, r.voteReq)
	case r.voteResp != nil:
		e.handleRequestVoteResponse(msg.From, r.voteResp)
	case r.appendReq != nil:
		e.handleAppendEntries(msg.From, r.appendReq)
	case r.appendResp != nil:
		e.handleAppendEntriesResponse(msg.From, r.appendResp)
	}
}

func (e *Engine) OutgoingMessages() []distkv.Message {
	var out = e.outbox
	e.outbox = nil
	return out
}

func (e *Engine) DecidedIndex() uint64 {
	return e.volatileState.commitIndex
}

func (e *Engine) DecidedSuffix(from uint64) []distkv.DecidedEntry {
	var commit = e.volatileState.commitIndex
	if from >= commit {
		return nil
	}

	var res = make([]distkv.DecidedEntry, 0, commit-from)
	for i := from; i < commit; i++ {
		var logEntry = e.persistentState.log[i]
		var decided = distkv.DecidedEntry{Index: i, Kind: logEntry.Kind}

		if logEntry.Kind == distkv.EntryWrite {
			entry, err := distkv.DecodeEntry(logEntry.Command)
			if err != nil {
				e.logger.WithError(err).WithField("index", logEntry.Index).Error("undecodable decided entry")
				decided.Kind = distkv.EntryNoop
			} else {
				decided.Entry = entry
			}
		}

		res = append(res, decided)
	}

	return res
}

func (e *Engine) ElectionTimeout() {
	if e.state == Leader {
		// heartbeats are just AppendEntries carrying whatever a follower is missing
		e.broadcastAppendEntries()
		return
	}

	e.volatileState.electionElapsed++
	if e.volatileState.electionElapsed >= e.volatileState.electionTimeout {
		e.startElection()
	}
}

// RecoverFromCrash drops everything that did not survive the crash: role,
// leader knowledge, vote tally and queued messages. Term, vote, log and commit
// index come from storage, so decided entries are reported again from index 0.
func (e *Engine) RecoverFromCrash() {
	e.state = Follower
	e.volatileState.leaderID = 0
	e.candidateState.votes = nil
	clear(e.leaderState.nextIndex)
	clear(e.leaderState.matchIndex)
	e.outbox = nil
	e.resetElectionClock()

	e.logger.WithFields(logrus.Fields{
		"term":   e.persistentState.currentTerm,
		"commit": e.volatileState.commitIndex,
		"log":    len(e.persistentState.log),
	}).Info("recovered from crash")
}

func (e *Engine) send(to distkv.NodeID, r rpc) {
	e.outbox = append(e.outbox, distkv.Message{From: e.id, To: to, Payload: r.marshal()})
}

func (e *Engine) quorum() int {
	return (len(e.peers)+1)/2 + 1
}

func (e *Engine) lastLogIndexAndTerm() (uint64, uint64) {
	var n = len(e.persistentState.log)
	if n == 0 {
		return 0, 0
	}
	var last = e.persistentState.log[n-1]
	return last.Index, last.Term
}

// termAt returns the term of the entry at index, 0 for index 0 or past the end.
func (e *Engine) termAt(index uint64) uint64 {
	if index == 0 || index > uint64(len(e.persistentState.log)) {
		return 0
	}
	return e.persistentState.log[index-1].Term
}

func (e *Engine) persistHardState() error {
	err := e.store.SaveHardState(storage.HardState{
		Term:   e.persistentState.currentTerm,
		Vote:   e.persistentState.votedFor,
		Commit: e.volatileState.commitIndex,
	})
	if err != nil {
		e.logger.WithError(err).Error("cannot persist hard state")
	}
	return err
}

func (e *Engine) resetElectionClock() {
	// randomized so that nodes rarely campaign in the same tick
	e.volatileState.electionElapsed = 0
	e.volatileState.electionTimeout = e.ticksMin + e.rnd.Intn(e.ticksMax-e.ticksMin)
}
