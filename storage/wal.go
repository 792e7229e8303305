package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

const (
	frameHeaderSize = 8         // len u32 + crc u32
	entryHeaderSize = 8 + 8 + 1 // index + term + kind
	maxFrameSize    = 64 * 1024 * 1024
)

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	errCRCMismatch = errors.New("wal: crc mismatch")
)

// wal is the append-only entry log
/*
	Every record is a frame:
	[0..3]   - body length (uint32)
	[4..7]   - crc32c of body (uint32)
	[8..]    - body:
	           [0..7]   - index (uint64)
	           [8..15]  - term (uint64)
	           [16]     - kind
	           [17..]   - command bytes
	Rewriting an index on replay truncates every entry after it.
*/
type wal struct {
	fd *os.File
}

func createWal(path string) (*wal, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	return &wal{fd: fd}, nil
}

// openWal opens an existing log and replays it. A torn or corrupt tail, as left by
// a crash mid-write, is cut off at the last valid frame.
func openWal(path string) (*wal, []LogEntry, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, err
	}

	entries, validOff, err := replay(fd)
	if err != nil {
		_ = fd.Close()
		return nil, nil, err
	}

	if err = fd.Truncate(validOff); err != nil {
		_ = fd.Close()
		return nil, nil, fmt.Errorf("cannot truncate wal tail: %w", err)
	}
	if _, err = fd.Seek(validOff, io.SeekStart); err != nil {
		_ = fd.Close()
		return nil, nil, err
	}

	return &wal{fd: fd}, entries, nil
}

func replay(fd *os.File) ([]LogEntry, int64, error) {
	if _, err := fd.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}

	var (
		r        = bufio.NewReader(fd)
		entries  []LogEntry
		validOff int64
	)

	for {
		entry, n, err := readFrame(r)
		if err == io.EOF {
			return entries, validOff, nil
		}
		if err != nil {
			// hit a torn write or garbage, everything before validOff is trusted
			return entries, validOff, nil
		}

		if entries, err = appendToCache(entries, entry); err != nil {
			return nil, 0, fmt.Errorf("replay entry %d: %w", entry.Index, err)
		}
		validOff += int64(n)
	}
}

func readFrame(r io.Reader) (LogEntry, int, error) {
	var entry LogEntry

	var header = make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		// ReadFull returns io.EOF only if no bytes were read
		return entry, 0, err
	}

	var bodyLen = binary.BigEndian.Uint32(header[0:4])
	if bodyLen < entryHeaderSize || bodyLen > maxFrameSize {
		return entry, 0, fmt.Errorf("wal: invalid frame length %d", bodyLen)
	}

	var body = make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return entry, 0, err
	}

	if crc32.Checksum(body, crcTable) != binary.BigEndian.Uint32(header[4:8]) {
		return entry, 0, errCRCMismatch
	}

	entry.Index = binary.BigEndian.Uint64(body[0:8])
	entry.Term = binary.BigEndian.Uint64(body[8:16])
	entry.Kind = distkv.EntryKind(body[16])
	if bodyLen > entryHeaderSize {
		entry.Command = append([]byte(nil), body[entryHeaderSize:]...)
	}

	return entry, frameHeaderSize + int(bodyLen), nil
}

func encodeFrame(entry LogEntry) []byte {
	var bodyLen = entryHeaderSize + len(entry.Command)
	var buf = make([]byte, frameHeaderSize+bodyLen)

	var body = buf[frameHeaderSize:]
	binary.BigEndian.PutUint64(body[0:8], entry.Index)
	binary.BigEndian.PutUint64(body[8:16], entry.Term)
	body[16] = byte(entry.Kind)
	copy(body[entryHeaderSize:], entry.Command)

	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(body, crcTable))

	return buf
}

// write appends the frames of entries and syncs the file.
func (w *wal) write(entries []LogEntry) error {
	for i, entry := range entries {
		if _, err := w.fd.Write(encodeFrame(entry)); err != nil {
			return fmt.Errorf("cannot write [%d] log entry: %w", i, err)
		}
	}

	if err := w.fd.Sync(); err != nil {
		return fmt.Errorf("cannot sync wal to disk: %w", err)
	}

	return nil
}

func (w *wal) close() error {
	return w.fd.Close()
}
