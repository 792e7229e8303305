package engine

import (
	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

func (e *Engine) startElection() {
	// become a candidate
	e.state = Candidate
	e.volatileState.leaderID = 0

	// increment term (new election round) and vote for yourself
	e.persistentState.currentTerm++
	e.persistentState.votedFor = e.id
	_ = e.persistHardState()

	// reset clock for the next election if this one fails
	e.resetElectionClock()

	e.candidateState.votes = map[distkv.NodeID]bool{e.id: true}

	e.logger.WithField("term", e.persistentState.currentTerm).Info("became candidate")

	if len(e.candidateState.votes) >= e.quorum() {
		// single node cluster
		e.becomeLeader()
		return
	}

	var lastLogIndex, lastLogTerm = e.lastLogIndexAndTerm()
	for _, peer := range e.peers {
		e.send(peer, rpc{voteReq: &RequestVoteRequest{
			Term:         e.persistentState.currentTerm,
			LastLogIndex: lastLogIndex,
			LastLogTerm:  lastLogTerm,
		}})
	}
}

func (e *Engine) handleRequestVote(from distkv.NodeID, req *RequestVoteRequest) {
	var resp = &RequestVoteResponse{
		Term:        e.persistentState.currentTerm,
		VoteGranted: false,
	}
	defer func() { e.send(from, rpc{voteResp: resp}) }()

	// check the relevance of the requested term
	if req.Term < e.persistentState.currentTerm {
		return
	}

	// check if we've already voted in this term
	if e.persistentState.votedFor != 0 && e.persistentState.votedFor != from {
		return
	}

	// check if candidate's log is at least as up to date as receiver's log
	// (section 5.4.1 of Raft thesis: https://raft.github.io/raft.pdf)
	var lastLogIndex, lastLogTerm = e.lastLogIndexAndTerm()
	var logUpToDate = req.LastLogTerm > lastLogTerm ||
		(req.LastLogTerm == lastLogTerm && req.LastLogIndex >= lastLogIndex)
	if !logUpToDate {
		return
	}

	e.persistentState.votedFor = from
	if err := e.persistHardState(); err != nil {
		// don't grant a vote if we can't persist it
		e.persistentState.votedFor = 0
		return
	}

	e.volatileState.electionElapsed = 0
	resp.VoteGranted = true
}

func (e *Engine) handleRequestVoteResponse(from distkv.NodeID, resp *RequestVoteResponse) {
	// stale answer from an older election or we already won/lost
	if e.state != Candidate || resp.Term != e.persistentState.currentTerm {
		return
	}

	if !resp.VoteGranted {
		return
	}

	e.candidateState.votes[from] = true
	if len(e.candidateState.votes) >= e.quorum() {
		e.becomeLeader()
	}
}

func (e *Engine) becomeLeader() {
	// only become leader if still a candidate
	if e.state != Candidate {
		return
	}

	e.state = Leader
	e.volatileState.leaderID = e.id
	e.candidateState.votes = nil

	e.logger.WithField("term", e.persistentState.currentTerm).Info("became leader")

	// a no-op from the new term lets entries of earlier terms commit
	var lastLogIndex, _ = e.lastLogIndexAndTerm()
	var noop = storage.LogEntry{
		Index: lastLogIndex + 1,
		Term:  e.persistentState.currentTerm,
		Kind:  distkv.EntryNoop,
	}
	if err := e.store.Append(noop); err != nil {
		e.logger.WithError(err).Error("cannot persist leader no-op")
	} else {
		e.persistentState.log = append(e.persistentState.log, noop)
	}

	// init leader state
	// for each peer: track what they have replicated
	lastLogIndex, _ = e.lastLogIndexAndTerm()
	for _, peer := range e.peers {
		e.leaderState.nextIndex[peer] = lastLogIndex + 1
		e.leaderState.matchIndex[peer] = 0
	}

	e.updateCommitIndex()
	e.broadcastAppendEntries()
}

// becomeFollower steps down into term, forgetting the vote if the term moved on.
func (e *Engine) becomeFollower(term uint64, leader distkv.NodeID) {
	if e.state != Follower {
		e.logger.WithFields(logrus.Fields{
			"term": term,
			"was":  e.state.String(),
		}).Info("became follower")
	}

	e.state = Follower
	e.volatileState.leaderID = leader
	e.candidateState.votes = nil

	if term > e.persistentState.currentTerm {
		e.persistentState.currentTerm = term
		e.persistentState.votedFor = 0
		_ = e.persistHardState()
	}
}
