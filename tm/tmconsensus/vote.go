package tmconsensus

import (
	"errors"
	"fmt"
)

// VoteType distinguishes prevotes from precommits.
type VoteType uint8

const (
	_ VoteType = iota // Zero value reserved.

	VoteTypePrevote
	VoteTypePrecommit
)

func (t VoteType) String() string {
	switch t {
	case VoteTypePrevote:
		return "prevote"
	case VoteTypePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(t))
	}
}

// Vote is a single validator's vote for a content ID at a height and round.
type Vote struct {
	Type   VoteType
	Height uint64
	Round  uint32

	// The voted-for content ID.
	// Nil indicates a vote for nil.
	ContentID *string

	Voter ValidatorID
}

// Precommit is shorthand for building a precommit vote for contentID.
func Precommit(height uint64, round uint32, contentID string, voter ValidatorID) Vote {
	return Vote{
		Type:      VoteTypePrecommit,
		Height:    height,
		Round:     round,
		ContentID: &contentID,
		Voter:     voter,
	}
}

// IsNil reports whether v is a vote for nil.
func (v Vote) IsNil() bool {
	return v.ContentID == nil
}

// Validate reports basic structural problems with v.
func (v Vote) Validate() error {
	if v.Type != VoteTypePrevote && v.Type != VoteTypePrecommit {
		return fmt.Errorf("invalid vote type %d", uint8(v.Type))
	}
	return nil
}

var (
	// ErrNoPrecommits is returned when a decision is reported without any votes.
	ErrNoPrecommits = errors.New("decision requires at least one precommit")

	// ErrMixedHeights is returned when the precommits for a decision
	// do not all share one height.
	ErrMixedHeights = errors.New("precommits span multiple heights")
)

// CommonHeight returns the height shared by every vote in precommits.
// It returns [ErrNoPrecommits] for an empty slice
// and [ErrMixedHeights] if any vote disagrees with the first.
func CommonHeight(precommits []Vote) (uint64, error) {
	if len(precommits) == 0 {
		return 0, ErrNoPrecommits
	}

	h := precommits[0].Height
	for i, v := range precommits[1:] {
		if v.Height != h {
			return 0, fmt.Errorf(
				"precommit %d has height %d, expected %d: %w",
				i+1, v.Height, h, ErrMixedHeights,
			)
		}
	}
	return h, nil
}
