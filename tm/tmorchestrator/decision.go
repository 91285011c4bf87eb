package tmorchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gsequencer/internal/glog"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// DecisionReached implements [tmconsensus.ConsensusContext].
//
// All precommits must share one height.
// Completed proposals at or below that height are discarded,
// and pipelines still running at those heights are abandoned without a result.
func (o *Orchestrator) DecisionReached(
	ctx context.Context, contentID string, precommits []tmconsensus.Vote,
) error {
	height, err := tmconsensus.CommonHeight(precommits)
	if err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	log := o.log.With("height", height, "content_id", glog.ShortHex(contentID))

	voters := o.tallyVoters(log, contentID, precommits)

	rec, err := o.store.LoadProposal(height, contentID)
	if err != nil {
		return fmt.Errorf("decided content unknown: %w", err)
	}

	pruned := o.store.PruneThrough(height)
	o.metrics.prunedProposals(pruned)
	o.cancelHeightsThrough(height)

	if err := o.builder.DecisionReached(ctx, rec.ProposalID); err != nil {
		return fmt.Errorf("%w: proposal %d at height %d: %w", ErrDecision, rec.ProposalID, height, err)
	}

	o.metrics.decision()
	log.Info(
		"Decision reached",
		"proposal_id", rec.ProposalID,
		"num_txs", len(rec.Txs),
		"voters", voters,
		"pruned_proposals", pruned,
	)

	o.broadcastBestEffort(ctx, log, tmconsensus.ConsensusMessage{
		Decision: &tmconsensus.Decision{
			Height:     height,
			ContentID:  contentID,
			Precommits: precommits,
		},
	})

	return nil
}

// tallyVoters returns the number of distinct known validators
// whose precommits are for contentID.
// Anything unexpected in the votes is logged but not rejected.
func (o *Orchestrator) tallyVoters(log *slog.Logger, contentID string, precommits []tmconsensus.Vote) uint {
	seen := bitset.New(uint(len(o.validators)))
	for _, v := range precommits {
		if v.Type != tmconsensus.VoteTypePrecommit {
			log.Warn("Decision includes a non-precommit vote", "voter", v.Voter, "type", v.Type)
			continue
		}
		if v.ContentID == nil || *v.ContentID != contentID {
			log.Warn("Decision includes a precommit for other content", "voter", v.Voter)
			continue
		}
		if uint64(v.Voter) >= uint64(len(o.validators)) {
			log.Warn("Decision includes a precommit from an unknown validator", "voter", v.Voter)
			continue
		}
		if seen.Test(uint(v.Voter)) {
			log.Warn("Decision includes a duplicate precommit", "voter", v.Voter)
			continue
		}
		seen.Set(uint(v.Voter))
	}
	return seen.Count()
}
