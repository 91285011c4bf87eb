// Package tmp2p contains the network seam between the orchestrator and its peers.
package tmp2p

import (
	"context"
	"sync/atomic"

	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// Broadcaster sends consensus messages to the network.
// Implementations must be safe for concurrent use.
type Broadcaster interface {
	BroadcastConsensusMessage(ctx context.Context, msg tmconsensus.ConsensusMessage) error
}

// NopBroadcaster counts messages and delivers nothing.
// Its zero value is ready to use.
type NopBroadcaster struct {
	n atomic.Uint64
}

func (b *NopBroadcaster) BroadcastConsensusMessage(context.Context, tmconsensus.ConsensusMessage) error {
	b.n.Add(1)
	return nil
}

// Count returns the number of messages passed to b.
func (b *NopBroadcaster) Count() uint64 {
	return b.n.Load()
}
