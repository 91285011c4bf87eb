// Package gbuildertest contains a scriptable [gbuilder.Builder] for tests.
package gbuildertest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gordian-engine/gsequencer/gbuilder"
)

// ErrNoScript is returned from GetProposalContent
// for a proposal that has no remaining scripted steps.
var ErrNoScript = errors.New("no scripted content for proposal")

// ContentStep is one scripted response to GetProposalContent.
type ContentStep struct {
	Content gbuilder.ProposalContent
	Err     error

	// If set, the call blocks until Wait is closed or the context is canceled.
	Wait <-chan struct{}
}

// StatusStep is one scripted response to SendProposalContent.
type StatusStep struct {
	Status gbuilder.ProposalStatus
	Err    error

	// If set, the call blocks until Wait is closed or the context is canceled.
	Wait <-chan struct{}
}

// Chunk returns a content step delivering txs.
func Chunk(txs ...[]byte) ContentStep {
	return ContentStep{Content: gbuilder.ProposalContent{Txs: txs}}
}

// Finished returns a content step finishing the proposal with the given commitment.
func Finished(commitment []byte) ContentStep {
	return ContentStep{Content: gbuilder.ProposalContent{
		Finished: &gbuilder.ProposalCommitment{StateDiffCommitment: commitment},
	}}
}

// Processing returns a status step accepting a chunk.
func Processing() StatusStep {
	return StatusStep{Status: gbuilder.ProposalStatus{Kind: gbuilder.StatusProcessing}}
}

// Invalid returns a status step rejecting the proposal.
func Invalid() StatusStep {
	return StatusStep{Status: gbuilder.ProposalStatus{Kind: gbuilder.StatusInvalid}}
}

// FinishedStatus returns a status step finishing the proposal with the given commitment.
func FinishedStatus(commitment []byte) StatusStep {
	return StatusStep{Status: gbuilder.ProposalStatus{
		Kind:       gbuilder.StatusFinished,
		Commitment: gbuilder.ProposalCommitment{StateDiffCommitment: commitment},
	}}
}

// DefaultCommitment is the commitment reported when a validated proposal
// without a status script is finished: the SHA-256 of the concatenated transactions.
func DefaultCommitment(txs [][]byte) []byte {
	h := sha256.New()
	for _, tx := range txs {
		_, _ = h.Write(tx)
	}
	return h.Sum(nil)
}

// Builder is a [gbuilder.Builder] whose responses are scripted per proposal ID
// and which records every call it receives.
//
// Proposals without a status script behave like a permissive validator:
// every chunk is Processing and the finish signal yields [DefaultCommitment].
type Builder struct {
	mu sync.Mutex

	startHeightErr error
	buildErr       error
	validateErr    error
	decisionErr    error

	contentScripts map[gbuilder.ProposalID][]ContentStep
	statusScripts  map[gbuilder.ProposalID][]StatusStep

	startedHeights   []uint64
	buildRequests    []gbuilder.BuildProposalRequest
	validateRequests []gbuilder.ValidateProposalRequest
	sent             map[gbuilder.ProposalID][]gbuilder.SendContent
	decisions        []gbuilder.ProposalID
	polls            map[gbuilder.ProposalID]int
}

// NewBuilder returns a Builder with no scripts.
func NewBuilder() *Builder {
	return &Builder{
		contentScripts: make(map[gbuilder.ProposalID][]ContentStep),
		statusScripts:  make(map[gbuilder.ProposalID][]StatusStep),
		sent:           make(map[gbuilder.ProposalID][]gbuilder.SendContent),
		polls:          make(map[gbuilder.ProposalID]int),
	}
}

// ScriptContent appends steps to the GetProposalContent script of id.
func (b *Builder) ScriptContent(id gbuilder.ProposalID, steps ...ContentStep) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contentScripts[id] = append(b.contentScripts[id], steps...)
}

// ScriptStatus appends steps to the SendProposalContent script of id.
func (b *Builder) ScriptStatus(id gbuilder.ProposalID, steps ...StatusStep) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusScripts[id] = append(b.statusScripts[id], steps...)
}

// SetStartHeightError makes subsequent StartHeight calls fail with err (nil to clear).
func (b *Builder) SetStartHeightError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startHeightErr = err
}

// SetBuildError makes subsequent BuildProposal calls fail with err (nil to clear).
func (b *Builder) SetBuildError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buildErr = err
}

// SetValidateError makes subsequent ValidateProposal calls fail with err (nil to clear).
func (b *Builder) SetValidateError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validateErr = err
}

// SetDecisionError makes subsequent DecisionReached calls fail with err (nil to clear).
func (b *Builder) SetDecisionError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decisionErr = err
}

// StartedHeights returns every height passed to a successful StartHeight call, in order.
func (b *Builder) StartedHeights() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.startedHeights)
}

// BuildRequests returns every successful BuildProposal request, in order.
func (b *Builder) BuildRequests() []gbuilder.BuildProposalRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.buildRequests)
}

// ValidateRequests returns every successful ValidateProposal request, in order.
func (b *Builder) ValidateRequests() []gbuilder.ValidateProposalRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.validateRequests)
}

// SentContent returns everything passed to SendProposalContent for id, in order.
func (b *Builder) SentContent(id gbuilder.ProposalID) []gbuilder.SendContent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent[id])
}

// Polls returns the number of GetProposalContent calls made for id.
func (b *Builder) Polls(id gbuilder.ProposalID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls[id]
}

// Decisions returns every proposal ID passed to a successful DecisionReached call, in order.
func (b *Builder) Decisions() []gbuilder.ProposalID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.decisions)
}

// StartHeight implements [gbuilder.Builder].
func (b *Builder) StartHeight(_ context.Context, height uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startHeightErr != nil {
		return b.startHeightErr
	}
	b.startedHeights = append(b.startedHeights, height)
	return nil
}

// BuildProposal implements [gbuilder.Builder].
func (b *Builder) BuildProposal(_ context.Context, req gbuilder.BuildProposalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buildErr != nil {
		return b.buildErr
	}
	b.buildRequests = append(b.buildRequests, req)
	return nil
}

// GetProposalContent implements [gbuilder.Builder].
func (b *Builder) GetProposalContent(ctx context.Context, id gbuilder.ProposalID) (gbuilder.ProposalContent, error) {
	b.mu.Lock()
	b.polls[id]++
	steps := b.contentScripts[id]
	if len(steps) == 0 {
		b.mu.Unlock()
		return gbuilder.ProposalContent{}, fmt.Errorf("proposal %d: %w", id, ErrNoScript)
	}
	step := steps[0]
	b.contentScripts[id] = steps[1:]
	b.mu.Unlock()

	if err := wait(ctx, step.Wait); err != nil {
		return gbuilder.ProposalContent{}, err
	}
	return step.Content, step.Err
}

// ValidateProposal implements [gbuilder.Builder].
func (b *Builder) ValidateProposal(_ context.Context, req gbuilder.ValidateProposalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.validateErr != nil {
		return b.validateErr
	}
	b.validateRequests = append(b.validateRequests, req)
	return nil
}

// SendProposalContent implements [gbuilder.Builder].
func (b *Builder) SendProposalContent(
	ctx context.Context, id gbuilder.ProposalID, content gbuilder.SendContent,
) (gbuilder.ProposalStatus, error) {
	b.mu.Lock()
	b.sent[id] = append(b.sent[id], content)

	steps := b.statusScripts[id]
	if len(steps) == 0 {
		status := gbuilder.ProposalStatus{Kind: gbuilder.StatusProcessing}
		if content.Finish {
			var txs [][]byte
			for _, c := range b.sent[id] {
				txs = append(txs, c.Txs...)
			}
			status = gbuilder.ProposalStatus{
				Kind:       gbuilder.StatusFinished,
				Commitment: gbuilder.ProposalCommitment{StateDiffCommitment: DefaultCommitment(txs)},
			}
		}
		b.mu.Unlock()
		return status, nil
	}

	step := steps[0]
	b.statusScripts[id] = steps[1:]
	b.mu.Unlock()

	if err := wait(ctx, step.Wait); err != nil {
		return gbuilder.ProposalStatus{}, err
	}
	return step.Status, step.Err
}

// DecisionReached implements [gbuilder.Builder].
func (b *Builder) DecisionReached(_ context.Context, id gbuilder.ProposalID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.decisionErr != nil {
		return b.decisionErr
	}
	b.decisions = append(b.decisions, id)
	return nil
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-ch:
		return nil
	}
}
