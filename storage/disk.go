package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

const (
	walFileName   = "log.wal"
	indexFileName = "index.db"
)

var indexSetup = `
CREATE TABLE IF NOT EXISTS key_index (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

const (
	keyCurrentTerm = "current_term"
	keyVotedFor    = "voted_for"
	keyCommitIndex = "commit_index"
	keyLastIndex   = "last_index"
)

// Disk is the durable storage of one recovery directory.
type Disk struct {
	dir string

	mx      sync.Mutex
	log     *wal
	index   *sql.DB
	entries []LogEntry // replayed log, kept in memory
}

// Create makes a fresh recovery directory. It fails with ErrExist if dir is present.
func Create(dir string) (*Disk, error) {
	if Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrExist, dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create recovery directory: %w", err)
	}

	log, err := createWal(filepath.Join(dir, walFileName))
	if err != nil {
		return nil, fmt.Errorf("cannot create wal: %w", err)
	}

	index, err := openIndex(filepath.Join(dir, indexFileName))
	if err != nil {
		_ = log.close()
		return nil, err
	}

	return &Disk{dir: dir, log: log, index: index}, nil
}

// Open reopens an existing recovery directory and replays its log.
func Open(dir string) (*Disk, error) {
	if !Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}

	log, entries, err := openWal(filepath.Join(dir, walFileName))
	if err != nil {
		return nil, fmt.Errorf("cannot open wal: %w", err)
	}

	index, err := openIndex(filepath.Join(dir, indexFileName))
	if err != nil {
		_ = log.close()
		return nil, err
	}

	// the wal is synced before last_index is written, so a shorter replay lost entries
	last, err := lastIndex(index)
	if err == nil && uint64(len(entries)) < last {
		err = fmt.Errorf("%w: replayed %d entries, recorded %d", ErrLogShort, len(entries), last)
	}
	if err != nil {
		_ = log.close()
		_ = index.Close()
		return nil, err
	}

	return &Disk{dir: dir, log: log, index: index, entries: entries}, nil
}

func lastIndex(index *sql.DB) (uint64, error) {
	var value int64
	err := index.QueryRow(`SELECT value FROM key_index WHERE key = ?`, keyLastIndex).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cannot read last index: %w", err)
	}
	return uint64(value), nil
}

func openIndex(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open key index %q: %w", path, err)
	}

	// a single connection serializes writers, sqlite would lock anyway
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(indexSetup); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("key index setup: %w", err)
	}

	return db, nil
}

func (d *Disk) Dir() string {
	return d.dir
}

func (d *Disk) HardState() (HardState, error) {
	d.mx.Lock()
	defer d.mx.Unlock()

	var state HardState

	rows, err := d.index.Query(`SELECT key, value FROM key_index`)
	if err != nil {
		return state, fmt.Errorf("cannot read key index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err = rows.Scan(&key, &value); err != nil {
			return state, fmt.Errorf("cannot scan key index: %w", err)
		}

		switch key {
		case keyCurrentTerm:
			state.Term = uint64(value)
		case keyVotedFor:
			state.Vote = distkv.NodeID(value)
		case keyCommitIndex:
			state.Commit = uint64(value)
		}
	}

	if err = rows.Err(); err != nil {
		return state, fmt.Errorf("cannot read key index: %w", err)
	}

	return state, nil
}

func (d *Disk) SaveHardState(state HardState) error {
	d.mx.Lock()
	defer d.mx.Unlock()

	return d.put(map[string]uint64{
		keyCurrentTerm: state.Term,
		keyVotedFor:    uint64(state.Vote),
		keyCommitIndex: state.Commit,
	})
}

func (d *Disk) put(values map[string]uint64) error {
	tx, err := d.index.Begin()
	if err != nil {
		return fmt.Errorf("cannot begin key index tx: %w", err)
	}

	for key, value := range values {
		_, err = tx.Exec(`INSERT INTO key_index (key, value) VALUES (?, ?) `+
			`ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, int64(value))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cannot write %s to key index: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit key index: %w", err)
	}

	return nil
}

func (d *Disk) Entries() ([]LogEntry, error) {
	d.mx.Lock()
	defer d.mx.Unlock()

	return append([]LogEntry(nil), d.entries...), nil
}

// Append durably writes entries. An entry at an existing index replaces it and
// every entry after it.
func (d *Disk) Append(entries ...LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	d.mx.Lock()
	defer d.mx.Unlock()

	// check the whole batch before anything reaches the file
	var length = uint64(len(d.entries))
	for _, e := range entries {
		if e.Index == 0 || e.Index > length+1 {
			return ErrLogGap
		}
		length = e.Index
	}

	if err := d.log.write(entries); err != nil {
		return err
	}

	for _, e := range entries {
		d.entries, _ = appendToCache(d.entries, e)
	}

	return d.put(map[string]uint64{keyLastIndex: uint64(len(d.entries))})
}

func (d *Disk) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()

	var walErr = d.log.close()
	var indexErr = d.index.Close()
	if walErr != nil {
		return walErr
	}
	return indexErr
}
