// Package gsolo drives a [tmconsensus.ConsensusContext] the way a consensus engine would,
// for a network where this node holds every vote.
//
// It exists so the orchestrator can run end to end without a full engine:
// each height is built, re-proposed, validated as a peer would see it,
// and decided with precommits from every validator.
package gsolo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gsequencer/internal/glog"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// ErrNotProposer is returned from [Driver.Run]
// when the context names another validator as proposer.
var ErrNotProposer = errors.New("local validator is not the proposer")

// Driver runs heights against Context.
type Driver struct {
	Log *slog.Logger

	Context tmconsensus.ConsensusContext

	Self tmconsensus.ValidatorID

	ProposalTimeout   time.Duration
	ValidationTimeout time.Duration
}

// Decided is the result of one height.
type Decided struct {
	Height    uint64
	ContentID string
	Txs       [][]byte
}

// Run decides nHeights heights starting at firstHeight.
// If nHeights is zero, Run continues until ctx is canceled.
// It returns the heights decided so far along with any error.
func (d Driver) Run(ctx context.Context, firstHeight, nHeights uint64) ([]Decided, error) {
	var out []Decided
	for h := firstHeight; nHeights == 0 || h < firstHeight+nHeights; h++ {
		dec, err := d.runHeight(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return out, context.Cause(ctx)
			}
			return out, fmt.Errorf("height %d: %w", h, err)
		}
		out = append(out, dec)
	}
	return out, nil
}

func (d Driver) runHeight(ctx context.Context, h uint64) (Decided, error) {
	cc := d.Context

	init := tmconsensus.ProposalInit{
		Height:   h,
		Round:    0,
		Proposer: cc.Proposer(h, 0),
	}
	if init.Proposer != d.Self {
		return Decided{}, fmt.Errorf("proposer is %d, self is %d: %w", init.Proposer, d.Self, ErrNotProposer)
	}

	built, err := awaitCompletion(ctx, cc.BuildProposal(ctx, init, d.ProposalTimeout))
	if err != nil {
		return Decided{}, fmt.Errorf("building: %w", err)
	}

	txs, err := cc.Repropose(ctx, built.ContentID, init)
	if err != nil {
		return Decided{}, fmt.Errorf("reproposing: %w", err)
	}

	// Validate the streamed content as a peer would.
	content := make(chan [][]byte, 1)
	if len(txs) > 0 {
		content <- txs
	}
	close(content)

	validated, err := awaitCompletion(ctx, cc.ValidateProposal(ctx, h, d.ValidationTimeout, content))
	if err != nil {
		return Decided{}, fmt.Errorf("validating: %w", err)
	}
	if validated.ContentID != built.ContentID {
		return Decided{}, fmt.Errorf(
			"validated content %x differs from built content %x",
			validated.ContentID, built.ContentID,
		)
	}

	vals := cc.Validators(ctx, h)
	precommits := make([]tmconsensus.Vote, len(vals))
	for i, v := range vals {
		precommits[i] = tmconsensus.Precommit(h, init.Round, built.ContentID, v)
	}

	if err := cc.DecisionReached(ctx, built.ContentID, precommits); err != nil {
		return Decided{}, fmt.Errorf("deciding: %w", err)
	}

	d.Log.Info(
		"Decided height",
		"height", h,
		"content_id", glog.ShortHex(built.ContentID),
		"num_txs", len(txs),
	)

	return Decided{
		Height:    h,
		ContentID: built.ContentID,
		Txs:       txs,
	}, nil
}

func awaitCompletion(
	ctx context.Context, ch <-chan tmconsensus.ProposalCompletion,
) (tmconsensus.ProposalCompletion, error) {
	select {
	case <-ctx.Done():
		return tmconsensus.ProposalCompletion{}, context.Cause(ctx)
	case c := <-ch:
		if !c.OK() {
			return c, fmt.Errorf("proposal %s: %w", c.Outcome, c.Err)
		}
		return c, nil
	}
}
