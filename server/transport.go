package server

import (
	"context"
	"fmt"
	"net"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	"github.com/willeasp/id2203-distributed-kv-store/codec"
)

// tcpSender opens a fresh connection per message, writes it and closes.
type tcpSender struct {
	addr   func(id distkv.NodeID) string
	dialer net.Dialer
}

func newTCPSender(addr func(id distkv.NodeID) string) *tcpSender {
	return &tcpSender{addr: addr}
}

func (s *tcpSender) Send(ctx context.Context, msg distkv.Message) error {
	return dialAndWrite(ctx, &s.dialer, s.addr(msg.To), codec.EncodeMessage(msg))
}

// tcpResponder writes each reply over its own connection to addr.
type tcpResponder struct {
	addr   string
	dialer net.Dialer
}

func newTCPResponder(addr string) *tcpResponder {
	return &tcpResponder{addr: addr}
}

func (r *tcpResponder) Respond(ctx context.Context, payload []byte) error {
	return dialAndWrite(ctx, &r.dialer, r.addr, payload)
}

func dialAndWrite(ctx context.Context, dialer *net.Dialer, addr string, data []byte) error {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if _, err = conn.Write(data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write to %s: %w", addr, err)
	}

	return conn.Close()
}
