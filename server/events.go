package server

import (
	"context"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

// Event is one unit of work for the Coordinator.
type Event interface {
	event()
}

// PeerMessage carries the raw bytes read from one peer connection.
type PeerMessage struct {
	Data []byte
}

// FlushOutgoing asks the Coordinator to deliver whatever the engine queued.
type FlushOutgoing struct{}

// ClientRead asks for the latest decided value of Key.
type ClientRead struct {
	Key string
}

// ClientWrite proposes Entry, a delete is a write with an empty value.
type ClientWrite struct {
	Entry distkv.Entry
}

// ElectionTick notifies the engine that the election timer fired.
type ElectionTick struct{}

func (PeerMessage) event()   {}
func (FlushOutgoing) event() {}
func (ClientRead) event()    {}
func (ClientWrite) event()   {}
func (ElectionTick) event()  {}

// emit blocks until events accepts ev or ctx is done. A full channel is the
// only backpressure producers get.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
