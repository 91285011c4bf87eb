package tmorchestrator

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gsequencer/internal/glog"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// Repropose implements [tmconsensus.ConsensusContext].
//
// The content must have been built or validated to completion at init.Height;
// otherwise the returned error wraps [tmstore.ErrProposalNotFound].
// That indicates the engine asked for content this node never produced,
// and callers should treat it as fatal.
func (o *Orchestrator) Repropose(
	ctx context.Context, contentID string, init tmconsensus.ProposalInit,
) ([][]byte, error) {
	rec, err := o.store.LoadProposal(init.Height, contentID)
	if err != nil {
		return nil, fmt.Errorf("cannot repropose at height %d round %d: %w", init.Height, init.Round, err)
	}

	log := o.log.With(
		"height", init.Height, "round", init.Round,
		"content_id", glog.ShortHex(contentID),
	)
	log.Debug("Reproposing", "num_txs", len(rec.Txs), "proposal_id", rec.ProposalID)

	o.broadcastBestEffort(ctx, log, tmconsensus.ConsensusMessage{
		ProposalPart: &tmconsensus.ProposalPart{
			Height: init.Height,
			Round:  init.Round,
			Txs:    rec.Txs,
		},
	})
	o.broadcastBestEffort(ctx, log, tmconsensus.ConsensusMessage{
		ProposalPart: &tmconsensus.ProposalPart{
			Height:    init.Height,
			Round:     init.Round,
			ContentID: contentID,
		},
	})

	return rec.Txs, nil
}
