// Package tmcodec defines how consensus messages are encoded for the network.
package tmcodec

import "github.com/gordian-engine/gsequencer/tm/tmconsensus"

// MarshalCodec encodes and decodes consensus messages.
type MarshalCodec interface {
	MarshalConsensusMessage(tmconsensus.ConsensusMessage) ([]byte, error)
	UnmarshalConsensusMessage([]byte, *tmconsensus.ConsensusMessage) error
}
