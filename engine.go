package distkv

import "errors"

// ErrNotLeader is returned by Engine.Append when the engine cannot accept proposals.
var ErrNotLeader = errors.New("engine is not accepting proposals")

// Engine is the consensus capability the coordinator drives.
// Implementations are owned by a single goroutine and need not be safe for concurrent use.
type Engine interface {
	// HandleIncoming feeds a protocol message received from a peer.
	HandleIncoming(msg Message)

	// OutgoingMessages drains the messages the engine wants sent.
	// A second call with no activity in between returns an empty slice.
	OutgoingMessages() []Message

	// Append proposes a new entry.
	Append(entry Entry) error

	// DecidedIndex is the number of decided entries, never decreasing.
	DecidedIndex() uint64

	// DecidedSuffix returns the decided entries at positions [from, DecidedIndex()).
	// nil means nothing is decided at or after from.
	DecidedSuffix(from uint64) []DecidedEntry

	// ElectionTimeout notifies the engine that the election timer fired.
	ElectionTimeout()

	// RecoverFromCrash notifies the engine that it was rebuilt from on-disk state
	// after an unclean shutdown.
	RecoverFromCrash()
}
