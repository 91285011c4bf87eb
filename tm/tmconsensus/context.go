// Package tmconsensus contains the types shared between
// the consensus engine and the proposal orchestrator.
package tmconsensus

import (
	"context"
	"time"
)

// ValidatorID identifies a validator within a validator set.
type ValidatorID uint64

// ProposalInit describes the proposal the consensus engine wants built or re-proposed.
type ProposalInit struct {
	Height uint64
	Round  uint32

	// The round in which the proposed content was previously validated,
	// or nil for fresh content.
	ValidRound *uint32

	Proposer ValidatorID
}

// ConsensusContext is the capability the consensus engine calls into
// for everything outside the voting algorithm itself:
// building and validating proposals, re-proposing earlier content,
// validator and proposer lookups, broadcasting, and finalizing decisions.
//
// Implementations are driven from the engine's own goroutine;
// callers must not invoke methods concurrently.
type ConsensusContext interface {
	// BuildProposal begins building a proposal for init.Height.
	// It returns once the builder has accepted the request,
	// without waiting for the proposal to complete.
	//
	// The returned channel receives at most one value.
	// It may never receive a value at all when the proposal is abandoned on purpose,
	// for instance because the height has already been decided.
	BuildProposal(ctx context.Context, init ProposalInit, timeout time.Duration) <-chan ProposalCompletion

	// ValidateProposal begins validating a proposal for height,
	// whose transaction chunks arrive on content until it is closed.
	// The completion channel has the same semantics as in BuildProposal.
	ValidateProposal(
		ctx context.Context, height uint64, timeout time.Duration, content <-chan [][]byte,
	) <-chan ProposalCompletion

	// Repropose re-broadcasts content that this node previously built or validated,
	// returning its transactions.
	Repropose(ctx context.Context, contentID string, init ProposalInit) ([][]byte, error)

	// Validators returns the validator set for height.
	Validators(ctx context.Context, height uint64) []ValidatorID

	// Proposer returns the proposer for the given height and round.
	Proposer(height uint64, round uint32) ValidatorID

	// Broadcast sends msg to the network.
	Broadcast(ctx context.Context, msg ConsensusMessage) error

	// DecisionReached finalizes the height shared by precommits on contentID.
	DecisionReached(ctx context.Context, contentID string, precommits []Vote) error
}
