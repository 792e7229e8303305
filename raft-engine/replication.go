package engine

import (
	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

// Append proposes entry. Only the leader accepts proposals.
func (e *Engine) Append(entry distkv.Entry) error {
	if e.state != Leader {
		return distkv.ErrNotLeader
	}

	cmd, err := distkv.EncodeEntry(entry)
	if err != nil {
		return err
	}

	var lastLogIndex, _ = e.lastLogIndexAndTerm()
	var logEntry = storage.LogEntry{
		Index:   lastLogIndex + 1,
		Term:    e.persistentState.currentTerm,
		Kind:    distkv.EntryWrite,
		Command: cmd,
	}

	if err = e.store.Append(logEntry); err != nil {
		return err
	}
	e.persistentState.log = append(e.persistentState.log, logEntry)

	if len(e.peers) == 0 {
		e.updateCommitIndex()
		return nil
	}

	// ship it right away instead of waiting for the next heartbeat
	e.broadcastAppendEntries()

	return nil
}

func (e *Engine) broadcastAppendEntries() {
	for _, peer := range e.peers {
		e.sendAppendEntries(peer)
	}
}

func (e *Engine) sendAppendEntries(peer distkv.NodeID) {
	// determine what to send to peer,
	// nextIndex[peer] - where to start from
	var nextIndex = max(e.leaderState.nextIndex[peer], 1)

	// build the "consistency check" params
	// prevLogIndex - log entry before new one
	// prevLogTerm - term of that log entry
	var prevLogIndex = nextIndex - 1
	var prevLogTerm = e.termAt(prevLogIndex)

	// collect entries from nextIndex onwards, at most maxEntriesPerMsg
	var entries []storage.LogEntry
	var lastLogIndex, _ = e.lastLogIndexAndTerm()
	if nextIndex <= lastLogIndex {
		var end = min(lastLogIndex, nextIndex+maxEntriesPerMsg-1)
		entries = append(entries, e.persistentState.log[nextIndex-1:end]...)
	}

	e.send(peer, rpc{appendReq: &AppendEntriesRequest{
		Term:         e.persistentState.currentTerm,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: e.volatileState.commitIndex, // tell follower what's decided
	}})
}

func (e *Engine) handleAppendEntries(from distkv.NodeID, req *AppendEntriesRequest) {
	var lastLogIndex, _ = e.lastLogIndexAndTerm()
	var resp = &AppendEntriesResponse{
		Term:       e.persistentState.currentTerm,
		Success:    false,
		MatchIndex: lastLogIndex,
	}
	defer func() { e.send(from, rpc{appendResp: resp}) }()

	// check the relevance of the requested term
	if req.Term < e.persistentState.currentTerm {
		return
	}

	// a candidate of the same term lost the election
	e.becomeFollower(req.Term, from)
	e.volatileState.electionElapsed = 0

	// Check if log contains an entry at prevLogIndex with matching term.
	// If not, reject and hint where the leader should retry from.
	// If log is empty, prevLogIndex is 0 and this check is skipped.
	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex > lastLogIndex {
			return
		}
		if e.termAt(req.PrevLogIndex) != req.PrevLogTerm {
			resp.MatchIndex = min(lastLogIndex, req.PrevLogIndex-1)
			return
		}
	}

	// skip entries we already hold, the first conflicting or new one
	// and everything after it are written over our log
	var firstNew = len(req.Entries)
	for i, entry := range req.Entries {
		if entry.Index > lastLogIndex || e.termAt(entry.Index) != entry.Term {
			firstNew = i
			break
		}
	}

	if firstNew < len(req.Entries) {
		var toWrite = req.Entries[firstNew:]
		if toWrite[0].Index <= e.volatileState.commitIndex {
			// would rewrite a decided entry, never happens with a correct leader
			e.logger.WithField("index", toWrite[0].Index).Error("refusing to overwrite decided entry")
			return
		}

		if err := e.store.Append(toWrite...); err != nil {
			e.logger.WithError(err).Error("cannot persist replicated entries")
			return
		}

		e.persistentState.log = append(e.persistentState.log[:toWrite[0].Index-1], toWrite...)
	}

	var lastNewIndex = req.PrevLogIndex + uint64(len(req.Entries))

	// update commit index
	// the highest index known to be decided is bounded by what we have verified
	if req.LeaderCommit > e.volatileState.commitIndex {
		var commit = min(req.LeaderCommit, lastNewIndex)
		if commit > e.volatileState.commitIndex {
			e.volatileState.commitIndex = commit
			_ = e.persistHardState()
		}
	}

	resp.Success = true
	resp.MatchIndex = lastNewIndex
}

func (e *Engine) handleAppendEntriesResponse(from distkv.NodeID, resp *AppendEntriesResponse) {
	// if we're still leader of that term, process the result
	if e.state != Leader || resp.Term != e.persistentState.currentTerm {
		return
	}

	if !resp.Success {
		// log inconsistent, step back and retry right away
		var next = e.leaderState.nextIndex[from]
		if next > 1 {
			next--
		}
		e.leaderState.nextIndex[from] = max(1, min(next, resp.MatchIndex+1))
		e.sendAppendEntries(from)
		return
	}

	// if peer successfully replicated the entries, update our tracking
	if resp.MatchIndex > e.leaderState.matchIndex[from] {
		e.leaderState.matchIndex[from] = resp.MatchIndex
	}
	e.leaderState.nextIndex[from] = e.leaderState.matchIndex[from] + 1

	e.updateCommitIndex()

	// keep streaming if the follower is still behind
	var lastLogIndex, _ = e.lastLogIndexAndTerm()
	if e.leaderState.nextIndex[from] <= lastLogIndex {
		e.sendAppendEntries(from)
	}
}

// updateCommitIndex advances the commit index to the highest entry of the
// current term stored on a majority, then tells followers about it.
func (e *Engine) updateCommitIndex() {
	// only leader can decide entries
	if e.state != Leader {
		return
	}

	var lastLogIndex, _ = e.lastLogIndexAndTerm()
	for n := lastLogIndex; n > e.volatileState.commitIndex; n-- {
		// entries of older terms are decided only through a newer one
		if e.termAt(n) != e.persistentState.currentTerm {
			break
		}

		// count how many nodes have this index
		var count = 1 // count self
		for _, peer := range e.peers {
			if e.leaderState.matchIndex[peer] >= n {
				count++
			}
		}

		if count >= e.quorum() {
			e.volatileState.commitIndex = n
			_ = e.persistHardState()
			e.broadcastAppendEntries()
			return
		}
	}
}
