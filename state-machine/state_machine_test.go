package state_machine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

func write(index uint64, key, value string) distkv.DecidedEntry {
	return distkv.DecidedEntry{Index: index, Kind: distkv.EntryWrite, Entry: distkv.Entry{Key: key, Value: value}}
}

func TestKVStore_Apply(t *testing.T) {
	var tt = []struct {
		name            string
		batch           []distkv.DecidedEntry
		expected        map[string]string
		expectedApplied int
	}{
		{
			name:            "single write",
			batch:           []distkv.DecidedEntry{write(0, "foo", "bar")},
			expected:        map[string]string{"foo": "bar"},
			expectedApplied: 1,
		},
		{
			name:            "last write in batch wins",
			batch:           []distkv.DecidedEntry{write(0, "foo", "v1"), write(1, "foo", "v2")},
			expected:        map[string]string{"foo": "v2"},
			expectedApplied: 2,
		},
		{
			name:            "delete keeps key with empty value",
			batch:           []distkv.DecidedEntry{write(0, "foo", "bar"), write(1, "foo", "")},
			expected:        map[string]string{"foo": ""},
			expectedApplied: 2,
		},
		{
			name: "noop entries are skipped",
			batch: []distkv.DecidedEntry{
				{Index: 0, Kind: distkv.EntryNoop},
				write(1, "a", "1"),
			},
			expected:        map[string]string{"a": "1"},
			expectedApplied: 1,
		},
		{
			name:            "empty batch",
			batch:           nil,
			expected:        map[string]string{},
			expectedApplied: 0,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			store := New()
			require.Equal(t, tc.expectedApplied, store.Apply(tc.batch))
			require.Equal(t, tc.expected, store.All())
		})
	}
}

func TestKVStore_GetAndKeys(t *testing.T) {
	store := New()
	store.Apply([]distkv.DecidedEntry{write(0, "b", "2"), write(1, "a", "1")})

	value, ok := store.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", value)

	_, ok = store.Get("missing")
	require.False(t, ok)

	require.Equal(t, []string{"a", "b"}, store.Keys())
	require.Equal(t, 2, store.Len())
}

func TestKVStore_AllReturnsCopy(t *testing.T) {
	store := New()
	store.Apply([]distkv.DecidedEntry{write(0, "foo", "bar")})

	snapshot := store.All()
	snapshot["foo"] = "changed"

	value, _ := store.Get("foo")
	require.Equal(t, "bar", value)
}

func TestKVStore_ConcurrentReadsDuringApply(t *testing.T) {
	store := New()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			store.Apply([]distkv.DecidedEntry{write(uint64(i), "k", "v")})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_, _ = store.Get("k")
			_ = store.Len()
		}
	}()
	wg.Wait()

	value, ok := store.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", value)
}
