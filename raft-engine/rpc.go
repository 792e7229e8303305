package engine

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

type AppendEntriesRequest struct {
	Term         uint64             // leader's term
	PrevLogIndex uint64             // index of log entry immediately preceding new ones
	PrevLogTerm  uint64             // term of prevLogIndex entry
	Entries      []storage.LogEntry // log entries to store (empty for heartbeat; may send more than one for efficiency)
	LeaderCommit uint64             // leader's commitIndex
}

type AppendEntriesResponse struct {
	Term    uint64 // currentTerm, for leader to update itself
	Success bool   // true if follower contained entry matching prevLogIndex and prevLogTerm

	// MatchIndex is the last index known to match the leader on success,
	// and a hint where to retry from on failure
	MatchIndex uint64
}

type RequestVoteRequest struct {
	Term         uint64 // candidate's term
	LastLogIndex uint64 // index of candidate's last log entry
	LastLogTerm  uint64 // term of candidate's last log entry
}

type RequestVoteResponse struct {
	Term        uint64 // currentTerm, for a candidate to update itself
	VoteGranted bool   // true means a candidate received a vote
}

// rpc is the payload of a distkv.Message, exactly one field is set.
// The sender and receiver travel in the message envelope.
type rpc struct {
	voteReq    *RequestVoteRequest
	voteResp   *RequestVoteResponse
	appendReq  *AppendEntriesRequest
	appendResp *AppendEntriesResponse
}

// payload field numbers
const (
	fieldVoteRequest    protowire.Number = 1
	fieldVoteResponse   protowire.Number = 2
	fieldAppendRequest  protowire.Number = 3
	fieldAppendResponse protowire.Number = 4
)

func (r rpc) term() uint64 {
	switch {
	case r.voteReq != nil:
		return r.voteReq.Term
	case r.voteResp != nil:
		return r.voteResp.Term
	case r.appendReq != nil:
		return r.appendReq.Term
	case r.appendResp != nil:
		return r.appendResp.Term
	}
	return 0
}

func (r rpc) marshal() []byte {
	switch {
	case r.voteReq != nil:
		var inner []byte
		inner = appendUint(inner, 1, r.voteReq.Term)
		inner = appendUint(inner, 2, r.voteReq.LastLogIndex)
		inner = appendUint(inner, 3, r.voteReq.LastLogTerm)
		return appendMessage(nil, fieldVoteRequest, inner)

	case r.voteResp != nil:
		var inner []byte
		inner = appendUint(inner, 1, r.voteResp.Term)
		inner = appendBool(inner, 2, r.voteResp.VoteGranted)
		return appendMessage(nil, fieldVoteResponse, inner)

	case r.appendReq != nil:
		var inner []byte
		inner = appendUint(inner, 1, r.appendReq.Term)
		inner = appendUint(inner, 2, r.appendReq.PrevLogIndex)
		inner = appendUint(inner, 3, r.appendReq.PrevLogTerm)
		inner = appendUint(inner, 4, r.appendReq.LeaderCommit)
		for _, entry := range r.appendReq.Entries {
			var e []byte
			e = appendUint(e, 1, entry.Index)
			e = appendUint(e, 2, entry.Term)
			e = appendUint(e, 3, uint64(entry.Kind))
			e = protowire.AppendTag(e, 4, protowire.BytesType)
			e = protowire.AppendBytes(e, entry.Command)
			inner = appendMessage(inner, 5, e)
		}
		return appendMessage(nil, fieldAppendRequest, inner)

	case r.appendResp != nil:
		var inner []byte
		inner = appendUint(inner, 1, r.appendResp.Term)
		inner = appendBool(inner, 2, r.appendResp.Success)
		inner = appendUint(inner, 3, r.appendResp.MatchIndex)
		return appendMessage(nil, fieldAppendResponse, inner)
	}

	return nil
}

func unmarshalRPC(b []byte) (rpc, error) {
	var r rpc

	err := walk(b, func(num protowire.Number, _ uint64, inner []byte) error {
		switch num {
		case fieldVoteRequest:
			req := &RequestVoteRequest{}
			r.voteReq = req
			return walk(inner, func(num protowire.Number, v uint64, _ []byte) error {
				switch num {
				case 1:
					req.Term = v
				case 2:
					req.LastLogIndex = v
				case 3:
					req.LastLogTerm = v
				}
				return nil
			})

		case fieldVoteResponse:
			resp := &RequestVoteResponse{}
			r.voteResp = resp
			return walk(inner, func(num protowire.Number, v uint64, _ []byte) error {
				switch num {
				case 1:
					resp.Term = v
				case 2:
					resp.VoteGranted = v != 0
				}
				return nil
			})

		case fieldAppendRequest:
			req := &AppendEntriesRequest{}
			r.appendReq = req
			return walk(inner, func(num protowire.Number, v uint64, raw []byte) error {
				switch num {
				case 1:
					req.Term = v
				case 2:
					req.PrevLogIndex = v
				case 3:
					req.PrevLogTerm = v
				case 4:
					req.LeaderCommit = v
				case 5:
					var entry storage.LogEntry
					err := walk(raw, func(num protowire.Number, v uint64, cmd []byte) error {
						switch num {
						case 1:
							entry.Index = v
						case 2:
							entry.Term = v
						case 3:
							entry.Kind = distkv.EntryKind(v)
						case 4:
							if len(cmd) > 0 {
								entry.Command = append([]byte(nil), cmd...)
							}
						}
						return nil
					})
					if err != nil {
						return err
					}
					req.Entries = append(req.Entries, entry)
				}
				return nil
			})

		case fieldAppendResponse:
			resp := &AppendEntriesResponse{}
			r.appendResp = resp
			return walk(inner, func(num protowire.Number, v uint64, _ []byte) error {
				switch num {
				case 1:
					resp.Term = v
				case 2:
					resp.Success = v != 0
				case 3:
					resp.MatchIndex = v
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return r, err
	}

	if r.voteReq == nil && r.voteResp == nil && r.appendReq == nil && r.appendResp == nil {
		return r, fmt.Errorf("empty rpc payload")
	}

	return r, nil
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}

func appendMessage(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// walk visits every varint and length-delimited field of b, other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, v, nil); err != nil {
				return err
			}
			n = m

		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, 0, raw); err != nil {
				return err
			}
			n = m

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}

	return nil
}
