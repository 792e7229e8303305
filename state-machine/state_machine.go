package state_machine

import (
	"sort"
	"sync"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

// KVStore is the replicated key-value state of one node.
// It is written only by the coordinator's apply step and read by the gateway,
// so a single plain mutex guards it: reads and writes exclude each other.
type KVStore struct {
	mx sync.Mutex
	db map[string]string
}

func New() *KVStore {
	return &KVStore{db: make(map[string]string)}
}

// Apply writes every write-kind entry of a decided batch in order, so the last
// decided write of a key wins. It returns the number of entries applied.
func (s *KVStore) Apply(entries []distkv.DecidedEntry) int {
	s.mx.Lock()
	defer s.mx.Unlock()

	var applied int
	for _, entry := range entries {
		if entry.Kind != distkv.EntryWrite {
			continue
		}

		// a delete keeps the key with the empty value
		s.db[entry.Entry.Key] = entry.Entry.Value
		applied++
	}

	return applied
}

func (s *KVStore) Get(key string) (string, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	value, ok := s.db[key]
	return value, ok
}

// All returns a copy of the whole mapping.
func (s *KVStore) All() map[string]string {
	s.mx.Lock()
	defer s.mx.Unlock()

	var res = make(map[string]string, len(s.db))
	for k, v := range s.db {
		res[k] = v
	}
	return res
}

// Keys returns the stored keys in sorted order.
func (s *KVStore) Keys() []string {
	s.mx.Lock()
	defer s.mx.Unlock()

	var keys = make([]string, 0, len(s.db))
	for k := range s.db {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *KVStore) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()

	return len(s.db)
}
