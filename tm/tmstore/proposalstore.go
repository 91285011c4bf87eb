package tmstore

import (
	"errors"

	"github.com/gordian-engine/gsequencer/gbuilder"
)

// ProposalRecord is what the orchestrator remembers about
// a proposal it built or validated to completion.
type ProposalRecord struct {
	// Transactions in the order they were streamed.
	Txs [][]byte

	// The builder-side identifier of the attempt that produced the content.
	ProposalID gbuilder.ProposalID
}

// ProposalStore stores completed proposals keyed by height and content ID.
//
// Implementations must be safe for concurrent use.
// No method may block beyond its own synchronous bookkeeping.
type ProposalStore interface {
	// SaveProposal records rec for (height, contentID).
	//
	// The first record saved for a key wins;
	// a later save of the same key returns nil and leaves the existing record untouched.
	//
	// Saving at or below a height previously passed to PruneThrough
	// returns an error wrapping [ErrHeightPruned].
	SaveProposal(height uint64, contentID string, rec ProposalRecord) error

	// LoadProposal returns the record for (height, contentID).
	// If there is no such record, the error wraps [ErrProposalNotFound].
	LoadProposal(height uint64, contentID string) (ProposalRecord, error)

	// PruneThrough discards every record at or below height,
	// returning the number of records discarded.
	PruneThrough(height uint64) int
}

var (
	// ErrProposalNotFound is returned from [ProposalStore.LoadProposal]
	// when no record exists for the requested key.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrHeightPruned is returned from [ProposalStore.SaveProposal]
	// when the height has already been pruned.
	ErrHeightPruned = errors.New("height already pruned")
)
