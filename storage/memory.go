package storage

import "sync"

// Memory is an in-memory Storage used by tests and throwaway nodes.
type Memory struct {
	mx      sync.Mutex
	state   HardState
	entries []LogEntry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) HardState() (HardState, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.state, nil
}

func (m *Memory) SaveHardState(state HardState) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.state = state
	return nil
}

func (m *Memory) Entries() ([]LogEntry, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	return append([]LogEntry(nil), m.entries...), nil
}

func (m *Memory) Append(entries ...LogEntry) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	var err error
	for _, e := range entries {
		if m.entries, err = appendToCache(m.entries, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
