package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/codec"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line        string
		wantID      distkv.NodeID
		wantCommand string
		wantErr     bool
	}{
		{line: "1 write foo bar", wantID: 1, wantCommand: "write foo bar"},
		{line: "3 get_links", wantID: 3, wantCommand: "get_links"},
		{line: "2  health ", wantID: 2, wantCommand: "health"},
		{line: "read foo", wantErr: true},
		{line: "1", wantErr: true},
		{line: "1 ", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			id, command, err := parseLine(tc.line)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantID, id)
			require.Equal(t, tc.wantCommand, command)
		})
	}
}

func TestFormatResponse(t *testing.T) {
	require.Equal(t, `Received message: "bar"`, formatResponse([]byte("bar"), false))
	require.Equal(t, `Received message: ""`, formatResponse(nil, false))

	require.Equal(t, "Response received: [2 5]", formatResponse(codec.EncodeNodeIDs([]distkv.NodeID{2, 5}), true))
	require.Equal(t, "Response received: []", formatResponse(nil, true))
}
