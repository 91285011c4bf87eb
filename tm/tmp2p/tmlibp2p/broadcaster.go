// Package tmlibp2p provides a [tmp2p.Broadcaster] backed by libp2p gossipsub.
package tmlibp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsequencer/tm/tmcodec"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// DefaultTopic is the gossipsub topic used when [BroadcasterConfig.Topic] is empty.
const DefaultTopic = "gsequencer/consensus/v1"

type BroadcasterConfig struct {
	Host  host.Host
	Codec tmcodec.MarshalCodec

	Topic string
}

// Broadcaster publishes consensus messages to a gossipsub topic
// and decodes messages published there by other peers.
type Broadcaster struct {
	log *slog.Logger

	h     host.Host
	codec tmcodec.MarshalCodec

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	incoming chan tmconsensus.ConsensusMessage

	done chan struct{}
}

// NewBroadcaster joins the configured topic on cfg.Host.
// The broadcaster stops reading when ctx is canceled;
// call Wait to block until its goroutine has finished.
func NewBroadcaster(ctx context.Context, log *slog.Logger, cfg BroadcasterConfig) (*Broadcaster, error) {
	if cfg.Host == nil {
		return nil, errors.New("tmlibp2p: BroadcasterConfig.Host is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("tmlibp2p: BroadcasterConfig.Codec is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	ps, err := pubsub.NewGossipSub(ctx, cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to start gossipsub: %w", err)
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %q: %w", cfg.Topic, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %q: %w", cfg.Topic, err)
	}

	b := &Broadcaster{
		log: log,

		h:     cfg.Host,
		codec: cfg.Codec,

		topic: topic,
		sub:   sub,

		incoming: make(chan tmconsensus.ConsensusMessage, 16),

		done: make(chan struct{}),
	}
	go b.readLoop(ctx)

	return b, nil
}

// Wait blocks until the read loop has stopped.
func (b *Broadcaster) Wait() {
	<-b.done
}

// Incoming returns the channel of messages received from other peers.
// Messages are dropped when the channel is full.
func (b *Broadcaster) Incoming() <-chan tmconsensus.ConsensusMessage {
	return b.incoming
}

// TopicPeerCount returns the number of peers currently known on the topic.
func (b *Broadcaster) TopicPeerCount() int {
	return len(b.topic.ListPeers())
}

func (b *Broadcaster) BroadcastConsensusMessage(ctx context.Context, msg tmconsensus.ConsensusMessage) error {
	data, err := b.codec.MarshalConsensusMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Kind(), err)
	}

	if err := b.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", msg.Kind(), err)
	}
	return nil
}

func (b *Broadcaster) readLoop(ctx context.Context) {
	defer close(b.done)
	defer func() {
		b.sub.Cancel()
		if err := b.topic.Close(); err != nil {
			b.log.Debug("Error closing topic", "err", err)
		}
	}()

	self := b.h.ID()
	for {
		m, err := b.sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("Subscription ended unexpectedly", "err", err)
			}
			return
		}

		if m.GetFrom() == self {
			continue
		}

		var msg tmconsensus.ConsensusMessage
		if err := b.codec.UnmarshalConsensusMessage(m.Data, &msg); err != nil {
			b.log.Info(
				"Dropping undecodable message",
				"from", m.GetFrom().String(),
				"err", err,
			)
			continue
		}

		select {
		case b.incoming <- msg:
		default:
			b.log.Warn(
				"Dropping inbound message; incoming channel full",
				"kind", msg.Kind(),
				"height", msg.Height(),
			)
		}
	}
}
