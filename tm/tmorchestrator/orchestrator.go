// Package tmorchestrator contains the [Orchestrator],
// which satisfies [tmconsensus.ConsensusContext] by driving a [gbuilder.Builder].
//
// The consensus engine asks the orchestrator to build or validate proposals;
// the orchestrator turns each request into a pipeline goroutine
// that streams content to or from the builder,
// records the completed proposal in a [tmstore.ProposalStore],
// and reports the result on a single-value completion channel.
package tmorchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"github.com/gordian-engine/gsequencer/tm/tmp2p"
	"github.com/gordian-engine/gsequencer/tm/tmstore"
	"github.com/gordian-engine/gsequencer/tm/tmstore/tmmemstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gordian-engine/gsequencer/tm/tmorchestrator"

// Config is the configuration for [New].
type Config struct {
	// The builder every proposal is delegated to. Required.
	Builder gbuilder.Builder

	// Where completed proposals are kept until their height is decided.
	// Defaults to a new [tmmemstore.ProposalStore].
	ProposalStore tmstore.ProposalStore

	// Where proposal parts and decisions are sent.
	// Defaults to a [tmp2p.NopBroadcaster].
	Broadcaster tmp2p.Broadcaster

	// Size of the fixed validator set. Must be at least 1.
	NumValidators uint64

	// Block reference passed with every build request.
	// Defaults to height zero with a 32-byte zero hash.
	RetrospectiveBlock *gbuilder.BlockRef

	// Defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// Nil disables metrics.
	Metrics *Metrics

	// Clock used to compute builder deadlines. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is the [tmconsensus.ConsensusContext] implementation.
//
// Its methods must be called from a single goroutine, normally the consensus engine's.
// The pipelines it starts run concurrently with that goroutine.
type Orchestrator struct {
	log *slog.Logger

	rootCtx context.Context

	builder gbuilder.Builder
	store   tmstore.ProposalStore
	bc      tmp2p.Broadcaster

	validators []tmconsensus.ValidatorID
	retro      gbuilder.BlockRef

	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time

	cursor heightCursor
	nextID gbuilder.ProposalID

	// Per-height pipeline contexts, canceled once the height is decided.
	heights        map[uint64]heightScope
	decidedThrough uint64
	hasDecided     bool

	wg sync.WaitGroup
}

type heightScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ tmconsensus.ConsensusContext = (*Orchestrator)(nil)

// New returns a new Orchestrator.
// Every pipeline goroutine runs under ctx;
// after canceling ctx, call Wait to block until they have all returned.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Orchestrator, error) {
	if cfg.Builder == nil {
		return nil, errors.New("tmorchestrator: Config.Builder is required")
	}
	if cfg.NumValidators == 0 {
		return nil, errors.New("tmorchestrator: Config.NumValidators must be at least 1")
	}

	if cfg.ProposalStore == nil {
		cfg.ProposalStore = tmmemstore.NewProposalStore()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = new(tmp2p.NopBroadcaster)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	retro := gbuilder.BlockRef{Height: 0, Hash: make([]byte, 32)}
	if cfg.RetrospectiveBlock != nil {
		retro = gbuilder.BlockRef{
			Height: cfg.RetrospectiveBlock.Height,
			Hash:   slices.Clone(cfg.RetrospectiveBlock.Hash),
		}
	}

	vals := make([]tmconsensus.ValidatorID, cfg.NumValidators)
	for i := range vals {
		vals[i] = tmconsensus.ValidatorID(i)
	}

	return &Orchestrator{
		log: log,

		rootCtx: ctx,

		builder: cfg.Builder,
		store:   cfg.ProposalStore,
		bc:      cfg.Broadcaster,

		validators: vals,
		retro:      retro,

		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		now:     cfg.Now,

		heights: make(map[uint64]heightScope),
	}, nil
}

// Wait blocks until every pipeline started by o has returned.
// Pipelines return once their result is delivered
// or once the root context given to [New] is canceled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// mintID returns the next proposal ID.
// IDs are consumed even when the attempt using them fails.
func (o *Orchestrator) mintID() gbuilder.ProposalID {
	id := o.nextID
	o.nextID++
	return id
}

// maybeStartHeight tells the builder about height h,
// unless h is the height it was most recently told about.
func (o *Orchestrator) maybeStartHeight(ctx context.Context, h uint64) error {
	if o.cursor.at(h) {
		return nil
	}

	if err := o.builder.StartHeight(ctx, h); err != nil {
		return fmt.Errorf("%w %d: %w", ErrStartHeight, h, err)
	}

	o.cursor.set(h)
	o.metrics.heightStarted(h)
	o.log.Debug("Started height on builder", "height", h)
	return nil
}

// heightContext returns the context that pipelines at height h run under.
// Heights that were already decided get a canceled context.
func (o *Orchestrator) heightContext(h uint64) context.Context {
	if o.hasDecided && h <= o.decidedThrough {
		ctx, cancel := context.WithCancel(o.rootCtx)
		cancel()
		return ctx
	}

	hs, ok := o.heights[h]
	if !ok {
		ctx, cancel := context.WithCancel(o.rootCtx)
		hs = heightScope{ctx: ctx, cancel: cancel}
		o.heights[h] = hs
	}
	return hs.ctx
}

// cancelHeightsThrough cancels the pipelines of every height at or below h.
func (o *Orchestrator) cancelHeightsThrough(h uint64) {
	for height, hs := range o.heights {
		if height <= h {
			hs.cancel()
			delete(o.heights, height)
		}
	}

	if !o.hasDecided || h > o.decidedThrough {
		o.decidedThrough = h
		o.hasDecided = true
	}
}

// Validators implements [tmconsensus.ConsensusContext].
// The validator set is the same at every height.
func (o *Orchestrator) Validators(_ context.Context, _ uint64) []tmconsensus.ValidatorID {
	out := make([]tmconsensus.ValidatorID, len(o.validators))
	copy(out, o.validators)
	return out
}

// Proposer implements [tmconsensus.ConsensusContext].
// The first validator proposes at every height and round.
func (o *Orchestrator) Proposer(_ uint64, _ uint32) tmconsensus.ValidatorID {
	return o.validators[0]
}
