package tmorchestrator

import (
	"log/slog"
	"time"

	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pipelineBuild    = "build"
	pipelineValidate = "validate"
)

// Delay before polling again after the builder returned an empty chunk.
const emptyChunkBackoff = 5 * time.Millisecond

// pipelineResult delivers the single completion of a pipeline.
type pipelineResult struct {
	log     *slog.Logger
	span    trace.Span
	metrics *Metrics

	pipeline string
	started  time.Time

	ch chan<- tmconsensus.ProposalCompletion
}

func (r pipelineResult) completed(contentID string) {
	r.span.SetStatus(codes.Ok, "")
	r.deliver(tmconsensus.ProposalCompletion{
		Outcome:   tmconsensus.OutcomeCompleted,
		ContentID: contentID,
	})
}

func (r pipelineResult) failed(outcome tmconsensus.Outcome, err error) {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, outcome.String())
	r.deliver(tmconsensus.ProposalCompletion{
		Outcome: outcome,
		Err:     err,
	})
}

// abandoned records a pipeline that ends without delivering anything.
func (r pipelineResult) abandoned(reason string) {
	r.span.SetStatus(codes.Unset, reason)
	r.metrics.observeAbandoned(r.pipeline, time.Since(r.started))
	r.log.Debug("Abandoning pipeline", "reason", reason)
}

func (r pipelineResult) deliver(c tmconsensus.ProposalCompletion) {
	r.metrics.observeOutcome(r.pipeline, c.Outcome, time.Since(r.started))

	if c.Outcome == tmconsensus.OutcomeCompleted {
		r.log.Debug("Pipeline completed", "outcome", c.Outcome)
	} else {
		r.log.Info("Pipeline failed", "outcome", c.Outcome, "err", c.Err)
	}

	// The channel is 1-buffered and this is its only send.
	r.ch <- c
}

// failedChannel returns a completion channel already holding a failure.
func failedChannel(outcome tmconsensus.Outcome, err error) <-chan tmconsensus.ProposalCompletion {
	ch := make(chan tmconsensus.ProposalCompletion, 1)
	ch <- tmconsensus.ProposalCompletion{Outcome: outcome, Err: err}
	return ch
}
