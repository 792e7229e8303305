package distkv

// NodeID identifies a cluster participant. Network addresses are derived from it.
type NodeID uint64

// Message is one consensus protocol message as seen by the transport layer.
// Payload is opaque to everything except the engine that produced it.
type Message struct {
	From    NodeID
	To      NodeID
	Payload []byte
}
