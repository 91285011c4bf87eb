// Package gbuilder defines the capability consumed by the proposal orchestrator:
// a block builder that executes transactions and computes content commitments.
//
// The orchestrator never inspects transactions itself.
// It drives the builder through a small request/response protocol:
// start a height, begin building or validating a proposal,
// stream content in one direction or the other,
// and finally report which proposal was decided.
package gbuilder

import (
	"context"
	"time"
)

// Builder is the block-building and validation service.
//
// Every method is a single round trip and may block.
// Implementations must be safe for concurrent use,
// because the orchestrator runs one pipeline goroutine per in-flight proposal.
type Builder interface {
	// StartHeight tells the builder that work on the given height begins.
	// The builder may discard any state belonging to earlier heights.
	StartHeight(ctx context.Context, height uint64) error

	// BuildProposal begins construction of a new proposal at the current height.
	// Content is retrieved afterwards through GetProposalContent.
	BuildProposal(ctx context.Context, req BuildProposalRequest) error

	// GetProposalContent returns the next chunk of a proposal being built,
	// or its commitment once building has finished.
	GetProposalContent(ctx context.Context, id ProposalID) (ProposalContent, error)

	// ValidateProposal begins validation of a proposal received from the network.
	// Content is supplied afterwards through SendProposalContent.
	ValidateProposal(ctx context.Context, req ValidateProposalRequest) error

	// SendProposalContent forwards a chunk of transactions,
	// or the finish signal, for a proposal under validation.
	SendProposalContent(ctx context.Context, id ProposalID, content SendContent) (ProposalStatus, error)

	// DecisionReached reports that consensus decided on the given proposal.
	DecisionReached(ctx context.Context, id ProposalID) error
}

// ProposalID identifies one build or validate attempt.
// IDs are minted by the orchestrator, are never reused,
// and have no meaning outside one orchestrator/builder pair.
type ProposalID uint64

// BlockRef identifies a past block by height and hash.
type BlockRef struct {
	Height uint64
	Hash   []byte
}

// BuildProposalRequest is the input to [Builder.BuildProposal].
type BuildProposalRequest struct {
	ProposalID ProposalID

	// The builder must finish the proposal by this time.
	Deadline time.Time

	// Block used as the retrospective reference for the proposal.
	// May be nil.
	Retrospective *BlockRef
}

// ValidateProposalRequest is the input to [Builder.ValidateProposal].
type ValidateProposalRequest struct {
	ProposalID ProposalID

	// Content arriving after this time makes the proposal invalid.
	Deadline time.Time
}

// ProposalCommitment is the builder's commitment over a finished proposal.
type ProposalCommitment struct {
	StateDiffCommitment []byte
}

// ProposalContent is the response to [Builder.GetProposalContent].
//
// If Finished is nil, Txs holds the next chunk of transactions
// (possibly empty, if the builder has nothing new yet).
// If Finished is set, building is complete and Txs is ignored.
type ProposalContent struct {
	Txs [][]byte

	Finished *ProposalCommitment
}

// SendContent is the input to [Builder.SendProposalContent].
// Exactly one of a non-nil Txs or Finish=true is meaningful;
// if Finish is set, Txs is ignored.
type SendContent struct {
	Txs [][]byte

	Finish bool
}

// StatusKind is the kind of a [ProposalStatus].
type StatusKind uint8

const (
	_ StatusKind = iota // Zero value reserved.

	// The builder accepted the content and is waiting for more.
	StatusProcessing

	// The builder finished the proposal;
	// the Commitment field of the status is set.
	StatusFinished

	// The builder rejected the proposal.
	StatusInvalid
)

func (k StatusKind) String() string {
	switch k {
	case StatusProcessing:
		return "processing"
	case StatusFinished:
		return "finished"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ProposalStatus is the response to [Builder.SendProposalContent].
type ProposalStatus struct {
	Kind StatusKind

	// Only set when Kind is StatusFinished.
	Commitment ProposalCommitment
}

// ContentID derives the consensus-visible content identifier from a commitment.
// The identifier is the raw commitment bytes held in a string,
// which makes it usable as a map key.
func ContentID(c ProposalCommitment) string {
	return string(c.StateDiffCommitment)
}
