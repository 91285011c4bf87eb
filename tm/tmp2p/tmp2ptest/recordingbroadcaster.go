package tmp2ptest

import (
	"context"
	"sync"

	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// RecordingBroadcaster is a [tmp2p.Broadcaster] that keeps every message it is given.
type RecordingBroadcaster struct {
	mu   sync.Mutex
	msgs []tmconsensus.ConsensusMessage
	err  error
}

func (b *RecordingBroadcaster) BroadcastConsensusMessage(_ context.Context, msg tmconsensus.ConsensusMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.msgs = append(b.msgs, msg)
	return b.err
}

// SetError causes subsequent broadcasts to return err,
// after still recording the message.
func (b *RecordingBroadcaster) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Messages returns a copy of the recorded messages, in order.
func (b *RecordingBroadcaster) Messages() []tmconsensus.ConsensusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]tmconsensus.ConsensusMessage, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// ProposalParts returns the recorded proposal parts at the given height.
func (b *RecordingBroadcaster) ProposalParts(height uint64) []tmconsensus.ProposalPart {
	var out []tmconsensus.ProposalPart
	for _, m := range b.Messages() {
		if m.ProposalPart != nil && m.ProposalPart.Height == height {
			out = append(out, *m.ProposalPart)
		}
	}
	return out
}

// Decisions returns the recorded decision messages.
func (b *RecordingBroadcaster) Decisions() []tmconsensus.Decision {
	var out []tmconsensus.Decision
	for _, m := range b.Messages() {
		if m.Decision != nil {
			out = append(out, *m.Decision)
		}
	}
	return out
}
