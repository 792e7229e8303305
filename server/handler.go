package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/willeasp/id2203-distributed-kv-store/codec"
)

func (c *Coordinator) handle(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case PeerMessage:
		return c.handlePeerMessage(ctx, ev)
	case FlushOutgoing:
		return c.handleFlush(ctx)
	case ClientRead:
		c.handleClientRead(ctx, ev)
	case ClientWrite:
		c.handleClientWrite(ev)
	case ElectionTick:
		c.engine.ElectionTimeout()
	default:
		c.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("unknown event")
	}
	return nil
}

func (c *Coordinator) handlePeerMessage(ctx context.Context, ev PeerMessage) error {
	msg, err := codec.DecodeMessage(ev.Data)
	if err != nil {
		// malformed traffic is noise, never a partition signal
		c.logger.WithError(err).WithField("bytes", len(ev.Data)).Warn("dropping undecodable peer message")
		return nil
	}

	broken, err := c.isBroken(ctx, msg.From)
	if err != nil {
		return err
	}
	if broken {
		c.logger.WithField("from", msg.From).Info("dropping message from broken link")
		return nil
	}

	c.engine.HandleIncoming(msg)
	return nil
}

func (c *Coordinator) handleFlush(ctx context.Context) error {
	for _, msg := range c.engine.OutgoingMessages() {
		broken, err := c.isBroken(ctx, msg.To)
		if err != nil {
			return err
		}
		if broken {
			c.logger.WithField("to", msg.To).Info("dropping message to broken link")
			continue
		}

		// no retry, the engine resends on its own schedule
		if err = c.peers.Send(ctx, msg); err != nil {
			c.logger.WithError(err).WithField("to", msg.To).Warn("cannot deliver peer message")
		}
	}
	return nil
}

func (c *Coordinator) handleClientRead(ctx context.Context, ev ClientRead) {
	var value = c.read(ev.Key)

	c.logger.WithFields(logrus.Fields{"key": ev.Key, "value": value}).Debug("client read")

	if err := c.responder.Respond(ctx, []byte(value)); err != nil {
		c.logger.WithError(err).Warn("cannot deliver read response")
	}
}

func (c *Coordinator) handleClientWrite(ev ClientWrite) {
	if err := c.engine.Append(ev.Entry); err != nil {
		// the client gets no negative acknowledgment
		c.logger.WithError(err).WithField("key", ev.Entry.Key).Error("engine rejected write")
		return
	}

	c.logger.WithField("key", ev.Entry.Key).Debug("write proposed")
}
