package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

// maxPeerMessage bounds what one peer connection may send.
const maxPeerMessage = 64 << 20

// ParseClientCommand parses "read <key>", "write <key> <value>" or "delete <key>".
func ParseClientCommand(line string) (Event, error) {
	var fields = strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch fields[0] {
	case "read":
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: read <key>")
		}
		return ClientRead{Key: fields[1]}, nil

	case "write":
		if len(fields) != 3 {
			return nil, fmt.Errorf("usage: write <key> <value>")
		}
		return ClientWrite{Entry: distkv.Entry{Key: fields[1], Value: fields[2]}}, nil

	case "delete":
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: delete <key>")
		}
		return ClientWrite{Entry: distkv.NewDelete(fields[1])}, nil
	}

	return nil, fmt.Errorf("unknown command %q", fields[0])
}

// serve accepts connections until ctx is done and hands each one to handle
// on its own goroutine. It waits for those goroutines before returning.
func serve(ctx context.Context, ln net.Listener, logger *logrus.Entry, handle func(ctx context.Context, conn net.Conn)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.WithError(err).Warn("accept failed")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()

			// unblock reads on shutdown
			stopConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stopConn()

			handle(ctx, conn)
		}()
	}
}

// servePeers treats everything one connection sends as a single message.
func servePeers(ctx context.Context, ln net.Listener, events chan<- Event, logger *logrus.Entry) error {
	logger = logger.WithField("listener", "peer")

	return serve(ctx, ln, logger, func(ctx context.Context, conn net.Conn) {
		data, err := io.ReadAll(io.LimitReader(conn, maxPeerMessage))
		if err != nil {
			logger.WithError(err).WithField("remote", conn.RemoteAddr()).Warn("peer read failed")
			return
		}
		if len(data) == 0 {
			return
		}

		emit(ctx, events, PeerMessage{Data: data})
	})
}

// serveCommands reads one client command per line.
func serveCommands(ctx context.Context, ln net.Listener, events chan<- Event, logger *logrus.Entry) error {
	logger = logger.WithField("listener", "command")

	return serve(ctx, ln, logger, func(ctx context.Context, conn net.Conn) {
		scanLines(conn, logger, func(line string) bool {
			ev, err := ParseClientCommand(line)
			if err != nil {
				logger.WithError(err).WithField("line", line).Warn("bad client command")
				return true
			}
			return emit(ctx, events, ev)
		})
	})
}

// serveManagement reads one management command per line into the fault injector.
func serveManagement(ctx context.Context, ln net.Listener, faults *FaultInjector, logger *logrus.Entry) error {
	logger = logger.WithField("listener", "management")

	return serve(ctx, ln, logger, func(ctx context.Context, conn net.Conn) {
		scanLines(conn, logger, func(line string) bool {
			cmd, err := ParseManagementCommand(line)
			if err != nil {
				logger.WithError(err).WithField("line", line).Warn("bad management command")
				return true
			}
			return faults.Submit(ctx, cmd) == nil
		})
	})
}

func scanLines(conn net.Conn, logger *logrus.Entry, fn func(line string) bool) {
	var scanner = bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), distkv.MaxCommandLine)
	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !fn(line) {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.WithError(err).WithField("remote", conn.RemoteAddr()).Warn("read failed")
	}
}
