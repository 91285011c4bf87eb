package tmorchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/internal/glog"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"github.com/gordian-engine/gsequencer/tm/tmstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ValidateProposal implements [tmconsensus.ConsensusContext].
//
// Initiation behaves as in [Orchestrator.BuildProposal].
// Once started, the pipeline forwards each chunk received on content to the builder,
// and finishes the proposal when content is closed.
// If the proposal does not finish within timeout,
// the in-flight builder call is canceled and the completion is [tmconsensus.OutcomeTimedOut].
func (o *Orchestrator) ValidateProposal(
	ctx context.Context, height uint64, timeout time.Duration, content <-chan [][]byte,
) <-chan tmconsensus.ProposalCompletion {
	id := o.mintID()
	deadline := o.now().Add(timeout)

	log := o.log.With("pipeline", pipelineValidate, "height", height, "proposal_id", id)

	if err := o.maybeStartHeight(ctx, height); err != nil {
		if ctx.Err() != nil {
			log.Debug("Context canceled while starting height", "err", err)
			return make(chan tmconsensus.ProposalCompletion, 1)
		}
		log.Warn("Failed to start height for validation", "err", err)
		o.metrics.observeOutcome(pipelineValidate, tmconsensus.OutcomeFatal, 0)
		return failedChannel(tmconsensus.OutcomeFatal, err)
	}

	if err := o.builder.ValidateProposal(ctx, gbuilder.ValidateProposalRequest{
		ProposalID: id,
		Deadline:   deadline,
	}); err != nil {
		if ctx.Err() != nil {
			log.Debug("Context canceled while initiating validation", "err", err)
			return make(chan tmconsensus.ProposalCompletion, 1)
		}
		err = fmt.Errorf("%w: validate %d: %w", ErrInitiate, id, err)
		log.Warn("Builder refused to validate proposal", "err", err)
		o.metrics.observeOutcome(pipelineValidate, tmconsensus.OutcomeFatal, 0)
		return failedChannel(tmconsensus.OutcomeFatal, err)
	}

	ch := make(chan tmconsensus.ProposalCompletion, 1)
	hctx := o.heightContext(height)

	o.wg.Add(1)
	go o.runValidate(hctx, height, id, timeout, content, ch)

	return ch
}

func (o *Orchestrator) runValidate(
	hctx context.Context,
	height uint64,
	id gbuilder.ProposalID,
	timeout time.Duration,
	content <-chan [][]byte,
	ch chan<- tmconsensus.ProposalCompletion,
) {
	defer o.wg.Done()

	hctx, span := o.tracer.Start(hctx, "validate_proposal", trace.WithAttributes(
		attribute.Int64("height", int64(height)),
		attribute.Int64("proposal_id", int64(id)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(hctx, timeout)
	defer cancel()

	log := o.log.With("pipeline", pipelineValidate, "height", height, "proposal_id", id)
	res := pipelineResult{
		log:     log,
		span:    span,
		metrics: o.metrics,

		pipeline: pipelineValidate,
		started:  time.Now(),

		ch: ch,
	}

	// Called whenever ctx is done, to tell a timeout apart from cancellation.
	stopped := func() {
		if hctx.Err() != nil {
			res.abandoned("context canceled")
			return
		}
		res.failed(
			tmconsensus.OutcomeTimedOut,
			fmt.Errorf("validating proposal %d: not finished within %s", id, timeout),
		)
	}

	var txs [][]byte
	for {
		var chunk [][]byte
		var ok bool
		select {
		case <-ctx.Done():
			stopped()
			return
		case chunk, ok = <-content:
		}

		if !ok {
			break
		}

		txs = append(txs, chunk...)

		s, err := o.builder.SendProposalContent(ctx, id, gbuilder.SendContent{Txs: chunk})
		if err != nil {
			if ctx.Err() != nil {
				stopped()
				return
			}
			res.failed(tmconsensus.OutcomeFatal, fmt.Errorf("sending content of proposal %d: %w", id, err))
			return
		}

		switch s.Kind {
		case gbuilder.StatusProcessing:
			continue
		case gbuilder.StatusInvalid:
			res.failed(tmconsensus.OutcomeRejected, fmt.Errorf("proposal %d rejected by builder", id))
			return
		case gbuilder.StatusFinished:
			res.failed(tmconsensus.OutcomeFatal, fmt.Errorf(
				"%w: proposal %d finished before the finish signal", ErrProtocolViolation, id,
			))
			return
		default:
			res.failed(tmconsensus.OutcomeFatal, fmt.Errorf(
				"%w: proposal %d has unknown status %s", ErrProtocolViolation, id, s.Kind,
			))
			return
		}
	}

	s, err := o.builder.SendProposalContent(ctx, id, gbuilder.SendContent{Finish: true})
	if err != nil {
		if ctx.Err() != nil {
			stopped()
			return
		}
		res.failed(tmconsensus.OutcomeFatal, fmt.Errorf("finishing proposal %d: %w", id, err))
		return
	}

	switch s.Kind {
	case gbuilder.StatusFinished:
		// Handled below.
	case gbuilder.StatusInvalid:
		res.failed(tmconsensus.OutcomeRejected, fmt.Errorf("proposal %d rejected by builder on finish", id))
		return
	default:
		res.failed(tmconsensus.OutcomeFatal, fmt.Errorf(
			"%w: proposal %d reported %s after the finish signal", ErrProtocolViolation, id, s.Kind,
		))
		return
	}

	contentID := gbuilder.ContentID(s.Commitment)
	if contentID == "" {
		res.failed(tmconsensus.OutcomeFatal, fmt.Errorf(
			"%w: proposal %d finished with an empty commitment", ErrProtocolViolation, id,
		))
		return
	}
	span.SetAttributes(attribute.Int("num_txs", len(txs)))

	if err := o.store.SaveProposal(height, contentID, tmstore.ProposalRecord{
		Txs:        txs,
		ProposalID: id,
	}); err != nil {
		if errors.Is(err, tmstore.ErrHeightPruned) {
			res.abandoned("height already decided")
			return
		}
		res.failed(tmconsensus.OutcomeFatal, fmt.Errorf("saving validated proposal %d: %w", id, err))
		return
	}

	log.Debug(
		"Validated proposal",
		"content_id", glog.ShortHex(contentID), "num_txs", len(txs),
	)
	res.completed(contentID)
}
