package distkv

// EntryKind tells the apply step whether a decided entry carries a key/value write.
type EntryKind uint8

const (
	// EntryWrite is a replicated key/value write (a delete is a write with an empty value)
	EntryWrite EntryKind = iota

	// EntryNoop is an engine-internal entry, e.g. the one a new leader commits on election
	EntryNoop
)

func (k EntryKind) String() string {
	switch k {
	case EntryWrite:
		return "write"
	case EntryNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// DecidedEntry is a log entry the consensus engine will never revoke or reorder.
type DecidedEntry struct {
	Index uint64 // 0-based position in the decided log
	Kind  EntryKind
	Entry Entry
}
