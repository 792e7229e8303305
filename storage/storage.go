// Package storage keeps the durable state of one node inside its recovery directory:
// an append-only log of entries and a small sqlite key index with the engine's hard state.
package storage

import (
	"errors"
	"os"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

var (
	ErrNotExist = errors.New("storage: recovery directory does not exist")
	ErrExist    = errors.New("storage: recovery directory already exists")
	ErrLogGap   = errors.New("storage: entry index leaves a gap in the log")
	ErrLogShort = errors.New("storage: log is shorter than its recorded last index")
)

// LogEntry is one slot of the replicated log.
type LogEntry struct {
	Index   uint64 // log index starting from 1
	Term    uint64 // term when entry was received by leader
	Kind    distkv.EntryKind
	Command []byte // encoded distkv.Entry, empty for noop
}

// HardState is the engine state that must survive crashes.
type HardState struct {
	// Term is the latest term seen
	Term uint64

	// Vote is the candidate voted for in Term, 0 == none
	Vote distkv.NodeID

	// Commit is the highest log index known to be decided
	Commit uint64
}

// Exists reports whether dir is present. Presence is the only thing that tells a
// crash-recovery boot apart from a fresh one.
func Exists(dir string) bool {
	_, err := os.Stat(dir)
	return err == nil
}

// appendToCache writes e into entries with overwrite-by-index semantics: an entry
// at an existing index replaces it and drops everything after.
func appendToCache(entries []LogEntry, e LogEntry) ([]LogEntry, error) {
	if e.Index == 0 || e.Index > uint64(len(entries))+1 {
		return entries, ErrLogGap
	}

	return append(entries[:e.Index-1], e), nil
}
