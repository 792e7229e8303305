package engine

import (
	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

type State int

const (
	// Follower - normal state, receives entries from leader
	// If no heartbeats received, becomes candidate
	Follower State = iota

	// Candidate - trying to become leader, requests votes from other nodes
	Candidate

	// Leader - accepts proposals and replicates them to followers
	// Only 1 leader per term
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// persistentState is the state that MUST BE persisted and survive crashes
type persistentState struct {
	// currentTerm is the latest term seen
	// (initialized to 0 on first boot, increases monotonically)
	currentTerm uint64

	// votedFor marks which candidate did we vote for in the current term
	// 0 == haven't voted yet
	votedFor distkv.NodeID

	// log is a sequence of entries, log[i].Index == i+1
	log []storage.LogEntry
}

// volatileState is kept in memory, except commitIndex which is also saved
// so that a recovering node can replay what it already decided
type volatileState struct {
	// commitIndex is the highest log entry known to be decided
	commitIndex uint64

	// leaderID is the leader of currentTerm if known, 0 otherwise
	leaderID distkv.NodeID

	// electionElapsed counts election ticks since the last leader contact or vote
	electionElapsed int

	// electionTimeout is the randomized number of ticks to wait before campaigning
	electionTimeout int
}

// leaderState is the data the leader tracks about what each follower has replicated
type leaderState struct {
	// nextIndex: for each node, index of the next log entry to send
	// Initialized to (last log index + 1)
	// If append fails, decrement and retry
	nextIndex map[distkv.NodeID]uint64

	// matchIndex: for each node: highest log entry known to be replicated,
	// Used to determine when entries are decided (majority rule)
	matchIndex map[distkv.NodeID]uint64
}

// candidateState collects granted votes during an election
type candidateState struct {
	votes map[distkv.NodeID]bool
}
