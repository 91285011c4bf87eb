package tmconsensus

import "errors"

// ProposalPart is one piece of a streamed proposal.
// A proposal is a sequence of parts carrying transactions,
// terminated by a part whose ContentID is set.
type ProposalPart struct {
	Height uint64
	Round  uint32

	Txs [][]byte

	// Only set on the final part of a proposal.
	ContentID string
}

// IsFin reports whether p terminates its proposal.
func (p ProposalPart) IsFin() bool {
	return p.ContentID != ""
}

// Decision announces that a height was decided on a content ID.
type Decision struct {
	Height    uint64
	ContentID string

	Precommits []Vote
}

// ConsensusMessage is the unit of network broadcast.
// Exactly one of its fields is set.
type ConsensusMessage struct {
	ProposalPart *ProposalPart
	Vote         *Vote
	Decision     *Decision
}

// ErrMalformedMessage is returned from [ConsensusMessage.Validate]
// when a message does not have exactly one field set.
var ErrMalformedMessage = errors.New("consensus message must have exactly one field set")

// Validate reports whether exactly one field of m is set.
func (m ConsensusMessage) Validate() error {
	n := 0
	if m.ProposalPart != nil {
		n++
	}
	if m.Vote != nil {
		n++
	}
	if m.Decision != nil {
		n++
	}
	if n != 1 {
		return ErrMalformedMessage
	}
	return nil
}

// Kind returns a short name for the set field, suitable for logging.
func (m ConsensusMessage) Kind() string {
	switch {
	case m.ProposalPart != nil:
		if m.ProposalPart.IsFin() {
			return "proposal_fin"
		}
		return "proposal_part"
	case m.Vote != nil:
		return m.Vote.Type.String()
	case m.Decision != nil:
		return "decision"
	default:
		return "empty"
	}
}

// Height returns the height of whichever field is set, or zero.
func (m ConsensusMessage) Height() uint64 {
	switch {
	case m.ProposalPart != nil:
		return m.ProposalPart.Height
	case m.Vote != nil:
		return m.Vote.Height
	case m.Decision != nil:
		return m.Decision.Height
	default:
		return 0
	}
}
