package tmorchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// Broadcast implements [tmconsensus.ConsensusContext].
func (o *Orchestrator) Broadcast(ctx context.Context, msg tmconsensus.ConsensusMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("refusing to broadcast: %w", err)
	}

	o.log.Debug("Broadcasting", "kind", msg.Kind(), "height", msg.Height())
	return o.bc.BroadcastConsensusMessage(ctx, msg)
}

// broadcastBestEffort broadcasts msg, logging any failure.
// It is safe to call from pipeline goroutines.
func (o *Orchestrator) broadcastBestEffort(ctx context.Context, log *slog.Logger, msg tmconsensus.ConsensusMessage) {
	if err := o.bc.BroadcastConsensusMessage(ctx, msg); err != nil {
		log.Info("Failed to broadcast", "kind", msg.Kind(), "err", err)
	}
}
