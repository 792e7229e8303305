// Package codec holds the wire formats shared by nodes and clients:
// the peer message envelope and the node-id list sent in get_links replies.
// Both are protobuf wire encoded without generated code.
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

var ErrMalformed = errors.New("codec: malformed message")

const (
	fieldFrom    protowire.Number = 1
	fieldTo      protowire.Number = 2
	fieldPayload protowire.Number = 3

	fieldNodeIDs protowire.Number = 1
)

// EncodeMessage serializes a peer message envelope.
func EncodeMessage(msg distkv.Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFrom, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.From))
	b = protowire.AppendTag(b, fieldTo, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.To))
	if len(msg.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Payload)
	}
	return b
}

// DecodeMessage parses an envelope produced by EncodeMessage.
// Unknown fields are skipped; an empty or truncated input is malformed.
func DecodeMessage(b []byte) (distkv.Message, error) {
	var msg distkv.Message
	if len(b) == 0 {
		return msg, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var seenFrom bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return msg, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldFrom && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return msg, fmt.Errorf("%w: from: %v", ErrMalformed, protowire.ParseError(m))
			}
			msg.From = distkv.NodeID(v)
			seenFrom = true
			n = m

		case num == fieldTo && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return msg, fmt.Errorf("%w: to: %v", ErrMalformed, protowire.ParseError(m))
			}
			msg.To = distkv.NodeID(v)
			n = m

		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return msg, fmt.Errorf("%w: payload: %v", ErrMalformed, protowire.ParseError(m))
			}
			msg.Payload = append([]byte(nil), v...)
			n = m

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return msg, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if !seenFrom {
		return msg, fmt.Errorf("%w: missing sender", ErrMalformed)
	}

	return msg, nil
}

// EncodeNodeIDs serializes a list of node ids as one packed repeated field.
func EncodeNodeIDs(ids []distkv.NodeID) []byte {
	var packed []byte
	for _, id := range ids {
		packed = protowire.AppendVarint(packed, uint64(id))
	}

	var b []byte
	b = protowire.AppendTag(b, fieldNodeIDs, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}

// DecodeNodeIDs parses a list produced by EncodeNodeIDs. An empty input is an empty list.
func DecodeNodeIDs(b []byte) ([]distkv.NodeID, error) {
	var ids = make([]distkv.NodeID, 0)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldNodeIDs || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		packed, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, fmt.Errorf("%w: ids: %v", ErrMalformed, protowire.ParseError(m))
		}
		b = b[m:]

		for len(packed) > 0 {
			v, k := protowire.ConsumeVarint(packed)
			if k < 0 {
				return nil, fmt.Errorf("%w: id: %v", ErrMalformed, protowire.ParseError(k))
			}
			ids = append(ids, distkv.NodeID(v))
			packed = packed[k:]
		}
	}

	return ids, nil
}
