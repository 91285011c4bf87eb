package tmorchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/internal/glog"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"github.com/gordian-engine/gsequencer/tm/tmstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BuildProposal implements [tmconsensus.ConsensusContext].
//
// If the builder cannot start the height or begin the proposal,
// the returned channel already holds an [tmconsensus.OutcomeFatal] completion.
// If ctx is canceled before the builder accepts the request,
// the returned channel never receives a value.
func (o *Orchestrator) BuildProposal(
	ctx context.Context, init tmconsensus.ProposalInit, timeout time.Duration,
) <-chan tmconsensus.ProposalCompletion {
	id := o.mintID()
	started := o.now()
	deadline := started.Add(timeout)

	log := o.log.With(
		"pipeline", pipelineBuild,
		"height", init.Height, "round", init.Round, "proposal_id", id,
	)

	if err := o.maybeStartHeight(ctx, init.Height); err != nil {
		if ctx.Err() != nil {
			log.Debug("Context canceled while starting height", "err", err)
			return make(chan tmconsensus.ProposalCompletion, 1)
		}
		log.Warn("Failed to start height for build", "err", err)
		o.metrics.observeOutcome(pipelineBuild, tmconsensus.OutcomeFatal, 0)
		return failedChannel(tmconsensus.OutcomeFatal, err)
	}

	retro := gbuilder.BlockRef{Height: o.retro.Height, Hash: slices.Clone(o.retro.Hash)}
	if err := o.builder.BuildProposal(ctx, gbuilder.BuildProposalRequest{
		ProposalID:    id,
		Deadline:      deadline,
		Retrospective: &retro,
	}); err != nil {
		if ctx.Err() != nil {
			log.Debug("Context canceled while initiating build", "err", err)
			return make(chan tmconsensus.ProposalCompletion, 1)
		}
		err = fmt.Errorf("%w: build %d: %w", ErrInitiate, id, err)
		log.Warn("Builder refused to build proposal", "err", err)
		o.metrics.observeOutcome(pipelineBuild, tmconsensus.OutcomeFatal, 0)
		return failedChannel(tmconsensus.OutcomeFatal, err)
	}

	ch := make(chan tmconsensus.ProposalCompletion, 1)
	hctx := o.heightContext(init.Height)

	o.wg.Add(1)
	go o.runBuild(hctx, init, id, ch)

	return ch
}

func (o *Orchestrator) runBuild(
	ctx context.Context,
	init tmconsensus.ProposalInit,
	id gbuilder.ProposalID,
	ch chan<- tmconsensus.ProposalCompletion,
) {
	defer o.wg.Done()

	ctx, span := o.tracer.Start(ctx, "build_proposal", trace.WithAttributes(
		attribute.Int64("height", int64(init.Height)),
		attribute.Int64("round", int64(init.Round)),
		attribute.Int64("proposal_id", int64(id)),
	))
	defer span.End()

	log := o.log.With(
		"pipeline", pipelineBuild,
		"height", init.Height, "round", init.Round, "proposal_id", id,
	)
	res := pipelineResult{
		log:     log,
		span:    span,
		metrics: o.metrics,

		pipeline: pipelineBuild,
		started:  time.Now(),

		ch: ch,
	}

	var txs [][]byte
	for {
		if ctx.Err() != nil {
			res.abandoned("context canceled")
			return
		}

		c, err := o.builder.GetProposalContent(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				res.abandoned("context canceled")
				return
			}
			res.failed(tmconsensus.OutcomeAborted, fmt.Errorf("polling content of proposal %d: %w", id, err))
			return
		}

		if c.Finished == nil {
			if len(c.Txs) == 0 {
				if !sleepCtx(ctx, emptyChunkBackoff) {
					res.abandoned("context canceled")
					return
				}
				continue
			}

			txs = append(txs, c.Txs...)
			o.broadcastBestEffort(ctx, log, tmconsensus.ConsensusMessage{
				ProposalPart: &tmconsensus.ProposalPart{
					Height: init.Height,
					Round:  init.Round,
					Txs:    c.Txs,
				},
			})
			continue
		}

		contentID := gbuilder.ContentID(*c.Finished)
		if contentID == "" {
			res.failed(tmconsensus.OutcomeFatal, fmt.Errorf(
				"%w: proposal %d finished with an empty commitment", ErrProtocolViolation, id,
			))
			return
		}
		span.SetAttributes(attribute.Int("num_txs", len(txs)))

		if err := o.store.SaveProposal(init.Height, contentID, tmstore.ProposalRecord{
			Txs:        txs,
			ProposalID: id,
		}); err != nil {
			if errors.Is(err, tmstore.ErrHeightPruned) {
				res.abandoned("height already decided")
				return
			}
			res.failed(tmconsensus.OutcomeFatal, fmt.Errorf("saving built proposal %d: %w", id, err))
			return
		}

		log.Debug(
			"Built proposal",
			"content_id", glog.ShortHex(contentID), "num_txs", len(txs),
		)

		// Store before signal: the engine may repropose as soon as it sees the result.
		res.completed(contentID)

		o.broadcastBestEffort(ctx, log, tmconsensus.ConsensusMessage{
			ProposalPart: &tmconsensus.ProposalPart{
				Height:    init.Height,
				Round:     init.Round,
				ContentID: contentID,
			},
		})
		return
	}
}

// sleepCtx waits for d, returning false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
