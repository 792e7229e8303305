package distkv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	maxKeyLen   = 1024
	maxValueLen = 1024 * 1024

	// MaxCommandLine is the longest client command line that can carry a valid entry.
	MaxCommandLine = len("write ") + maxKeyLen + 1 + maxValueLen + 64
)

var ErrEmptyKey = errors.New("key cannot be empty")

// Entry is a key/value pair proposed for replication.
// A delete is a write whose value is the empty string, so an explicit
// empty-string write cannot be told apart from a delete.
type Entry struct {
	Key   string
	Value string
}

// NewDelete returns the write that clears key.
func NewDelete(key string) Entry {
	return Entry{Key: key}
}

// IsDelete reports whether e carries the empty-value delete sentinel.
func (e Entry) IsDelete() bool {
	return e.Value == ""
}

// EncodeEntry encodes an entry into a byte slice
/*
	entry is encoded in bytes as follows:
	[0..4]                         - keyLen, uint32
	[4..4+keyLen]                  - key
	[4+keyLen..4+keyLen+4]         - valueLen, uint32
	[4+keyLen+4..8+keyLen+valueLen] - value
*/
func EncodeEntry(e Entry) ([]byte, error) {
	var keyLen = uint32(len(e.Key))
	if keyLen == 0 {
		return nil, ErrEmptyKey
	}
	if keyLen > maxKeyLen {
		return nil, fmt.Errorf("key too large: %d bytes", keyLen)
	}

	var valueLen = uint32(len(e.Value))
	if valueLen > maxValueLen {
		return nil, fmt.Errorf("value too large: %d bytes", valueLen)
	}

	buf := make([]byte, 4+keyLen+4+valueLen)
	binary.BigEndian.PutUint32(buf[0:4], keyLen)
	copy(buf[4:4+keyLen], e.Key)

	var valOffset = 4 + keyLen
	binary.BigEndian.PutUint32(buf[valOffset:valOffset+4], valueLen)
	copy(buf[valOffset+4:], e.Value)

	return buf, nil
}

// DecodeEntry decodes an entry produced by EncodeEntry.
func DecodeEntry(msg []byte) (Entry, error) {
	var e Entry

	// minimum length is 4 bytes for keyLen
	if len(msg) < 4 {
		return e, fmt.Errorf("entry too short: %d bytes", len(msg))
	}

	var keyLen = int(binary.BigEndian.Uint32(msg[0:4]))
	if keyLen <= 0 || keyLen > maxKeyLen {
		return e, fmt.Errorf("invalid key length: %d", keyLen)
	}
	if len(msg) < 4+keyLen {
		return e, fmt.Errorf("incomplete message for key: need %d, got %d", 4+keyLen, len(msg))
	}

	e.Key = string(msg[4 : 4+keyLen])

	var valueOffset = 4 + keyLen
	if len(msg) < valueOffset+4 {
		return e, fmt.Errorf("message too short for value length")
	}

	var valueLen = int(binary.BigEndian.Uint32(msg[valueOffset : valueOffset+4]))
	if valueLen < 0 || valueLen > maxValueLen {
		return e, fmt.Errorf("invalid value length: %d", valueLen)
	}
	if len(msg) < valueOffset+4+valueLen {
		return e, fmt.Errorf("incomplete message for value: need %d, got %d", valueOffset+4+valueLen, len(msg))
	}

	e.Value = string(msg[valueOffset+4 : valueOffset+4+valueLen])

	return e, nil
}
