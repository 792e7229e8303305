package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/codec"
)

func TestParseManagementCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    ManagementCommand
		wantErr bool
	}{
		{line: "break_link 2", want: ManagementCommand{Op: OpBreakLink, ID: 2}},
		{line: "  break_link   7  ", want: ManagementCommand{Op: OpBreakLink, ID: 7}},
		{line: "restore_links", want: ManagementCommand{Op: OpRestoreLinks}},
		{line: "get_links", want: ManagementCommand{Op: OpGetLinks}},
		{line: "", wantErr: true},
		{line: "break_link", wantErr: true},
		{line: "break_link two", wantErr: true},
		{line: "break_link 1 2", wantErr: true},
		{line: "restore_links 1", wantErr: true},
		{line: "get_links now", wantErr: true},
		{line: "heal", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			got, err := ParseManagementCommand(tc.line)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func startFaultInjector(t *testing.T) (*FaultInjector, chanResponder, context.CancelFunc) {
	var responses = make(chanResponder, 4)
	var faults = NewFaultInjector(responses, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = faults.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return faults, responses, cancel
}

func brokenLinks(t *testing.T, faults *FaultInjector) []distkv.NodeID {
	links, err := faults.BrokenLinks(context.Background())
	require.NoError(t, err)
	return links.Sorted()
}

func TestFaultInjector_BreakAndRestore(t *testing.T) {
	faults, _, _ := startFaultInjector(t)
	var ctx = context.Background()

	require.Empty(t, brokenLinks(t, faults))

	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpBreakLink, ID: 5}))
	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpBreakLink, ID: 2}))
	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpBreakLink, ID: 2}))

	// queries and commands arrive on different channels, so wait for the commands to land
	require.Eventually(t, func() bool {
		return len(brokenLinks(t, faults)) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, []distkv.NodeID{2, 5}, brokenLinks(t, faults))

	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpRestoreLinks}))
	require.Eventually(t, func() bool {
		return len(brokenLinks(t, faults)) == 0
	}, time.Second, time.Millisecond)
}

func TestFaultInjector_SnapshotIsACopy(t *testing.T) {
	faults, _, _ := startFaultInjector(t)

	links, err := faults.BrokenLinks(context.Background())
	require.NoError(t, err)
	links[9] = struct{}{}

	require.Empty(t, brokenLinks(t, faults))
}

func TestFaultInjector_GetLinks(t *testing.T) {
	faults, responses, _ := startFaultInjector(t)
	var ctx = context.Background()

	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpBreakLink, ID: 3}))
	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpBreakLink, ID: 1}))
	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpGetLinks}))

	select {
	case payload := <-responses:
		ids, err := codec.DecodeNodeIDs(payload)
		require.NoError(t, err)
		require.Equal(t, []distkv.NodeID{1, 3}, ids)
	case <-time.After(time.Second):
		t.Fatal("no get_links response")
	}
}

func TestFaultInjector_Stopped(t *testing.T) {
	faults, _, cancel := startFaultInjector(t)
	cancel()

	require.Eventually(t, func() bool {
		_, err := faults.BrokenLinks(context.Background())
		return err == ErrStopped
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, faults.Submit(context.Background(), ManagementCommand{Op: OpRestoreLinks}), ErrStopped)
}

// Messages from and to a broken peer are dropped until links are restored.
func TestFaultInjector_DropsBothDirections(t *testing.T) {
	faults, _, _ := startFaultInjector(t)
	f := newCoordinatorFixture(faults)
	var ctx = context.Background()

	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpBreakLink, ID: 2}))
	require.Eventually(t, func() bool {
		return len(brokenLinks(t, faults)) == 1
	}, time.Second, time.Millisecond)

	for _, peer := range []distkv.NodeID{2, 3} {
		require.NoError(t, f.c.handle(ctx, peerMessage(peer, 1, "in")))
		f.engine.queue(distkv.Message{From: 1, To: peer, Payload: []byte("out")})
	}
	require.NoError(t, f.c.handle(ctx, FlushOutgoing{}))

	require.Len(t, f.engine.received(), 1)
	require.Equal(t, distkv.NodeID(3), f.engine.received()[0].From)
	require.Len(t, f.sender.messages(), 1)
	require.Equal(t, distkv.NodeID(3), f.sender.messages()[0].To)

	require.NoError(t, faults.Submit(ctx, ManagementCommand{Op: OpRestoreLinks}))
	require.Eventually(t, func() bool {
		return len(brokenLinks(t, faults)) == 0
	}, time.Second, time.Millisecond)

	require.NoError(t, f.c.handle(ctx, peerMessage(2, 1, "in")))
	f.engine.queue(distkv.Message{From: 1, To: 2, Payload: []byte("out")})
	require.NoError(t, f.c.handle(ctx, FlushOutgoing{}))

	require.Len(t, f.engine.received(), 2)
	require.Len(t, f.sender.messages(), 2)
	require.Equal(t, distkv.NodeID(2), f.sender.messages()[1].To)
}
