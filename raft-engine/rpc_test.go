package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/storage"
)

func TestRPC_MarshalUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		rpc  rpc
	}{
		{
			name: "vote request",
			rpc:  rpc{voteReq: &RequestVoteRequest{Term: 7, LastLogIndex: 12, LastLogTerm: 6}},
		},
		{
			name: "vote response",
			rpc:  rpc{voteResp: &RequestVoteResponse{Term: 7, VoteGranted: true}},
		},
		{
			name: "heartbeat",
			rpc:  rpc{appendReq: &AppendEntriesRequest{Term: 3, PrevLogIndex: 9, PrevLogTerm: 2, LeaderCommit: 8}},
		},
		{
			name: "append with entries",
			rpc: rpc{appendReq: &AppendEntriesRequest{
				Term:         3,
				PrevLogIndex: 1,
				PrevLogTerm:  1,
				Entries: []storage.LogEntry{
					{Index: 2, Term: 3, Kind: distkv.EntryNoop},
					{Index: 3, Term: 3, Kind: distkv.EntryWrite, Command: []byte("cmd")},
				},
				LeaderCommit: 1,
			}},
		},
		{
			name: "append response",
			rpc:  rpc{appendResp: &AppendEntriesResponse{Term: 3, Success: false, MatchIndex: 4}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := unmarshalRPC(tc.rpc.marshal())
			require.NoError(t, err)
			require.Equal(t, tc.rpc, got)
			require.Equal(t, tc.rpc.term(), got.term())
		})
	}
}

func TestRPC_UnmarshalInvalid(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "truncated tag", payload: []byte{0x80}},
		{name: "truncated body", payload: []byte{0x0a, 0x05, 0x08}},
		{name: "unknown field only", payload: []byte{0x48, 0x01}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := unmarshalRPC(tc.payload)
			require.Error(t, err)
		})
	}
}
