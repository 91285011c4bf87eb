package tmorchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/gbuilder/gbuildertest"
	"github.com/gordian-engine/gsequencer/internal/gtest"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"github.com/gordian-engine/gsequencer/tm/tmorchestrator"
	"github.com/gordian-engine/gsequencer/tm/tmstore"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_DecisionReached_prunesDecidedHeights(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptContent(0, gbuildertest.Chunk([]byte("a")), gbuildertest.Finished([]byte("K3")))
	f.Builder.ScriptContent(1, gbuildertest.Chunk([]byte("b")), gbuildertest.Finished([]byte("K6")))

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	require.True(t, gtest.ReceiveSoon(t, o.BuildProposal(ctx, initAt(3), time.Second)).OK())
	require.True(t, gtest.ReceiveSoon(t, o.BuildProposal(ctx, initAt(6), time.Second)).OK())

	require.NoError(t, o.DecisionReached(ctx, "K3", precommits(3, "K3", 4)))
	require.Equal(t, []gbuilder.ProposalID{0}, f.Builder.Decisions())

	_, err := o.Repropose(ctx, "K3", initAt(3))
	require.ErrorIs(t, err, tmstore.ErrProposalNotFound)

	got, err := o.Repropose(ctx, "K6", initAt(6))
	require.NoError(t, err)
	require.Equal(t, txs("b"), got)

	decisions := f.Broadcaster.Decisions()
	require.Len(t, decisions, 1)
	require.Equal(t, uint64(3), decisions[0].Height)
	require.Equal(t, "K3", decisions[0].ContentID)
	require.Len(t, decisions[0].Precommits, 4)
}

func TestOrchestrator_DecisionReached_abandonsPipelinesAtDecidedHeight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	// Build 0 at height 4 stalls until its context is canceled.
	f.Builder.ScriptContent(0, gbuildertest.ContentStep{Wait: make(chan struct{})})

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	stalled := o.BuildProposal(ctx, initAt(4), time.Second)

	// Validation 1 completes at height 4 and gets decided.
	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 4, time.Second, sendAll(txs("a"))))
	require.True(t, c.OK())
	require.NoError(t, o.DecisionReached(ctx, c.ContentID, precommits(4, c.ContentID, 3)))
	require.Equal(t, []gbuilder.ProposalID{1}, f.Builder.Decisions())

	gtest.NotSendingSoon(t, stalled)

	// A late request at the decided height never resolves,
	// and nothing is stored for it.
	f.Builder.ScriptContent(2, gbuildertest.Finished([]byte("late")))
	gtest.NotSendingSoon(t, o.BuildProposal(ctx, initAt(4), time.Second))

	_, err := f.Store.LoadProposal(4, "late")
	require.ErrorIs(t, err, tmstore.ErrProposalNotFound)
}

func TestOrchestrator_DecisionReached_lateSaveIsSilent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	// A save at height 4 is refused once height 4 is pruned,
	// even if the pipeline's context was not yet canceled.
	f.Store.PruneThrough(4)

	f.Builder.ScriptContent(0, gbuildertest.Finished([]byte("K")))
	gtest.NotSendingSoon(t, o.BuildProposal(ctx, initAt(4), time.Second))
}

func TestOrchestrator_DecisionReached_invalidPrecommits(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	require.ErrorIs(t, o.DecisionReached(ctx, "K", nil), tmorchestrator.ErrNoPrecommits)

	mixed := []tmconsensus.Vote{
		tmconsensus.Precommit(3, 0, "K", 0),
		tmconsensus.Precommit(4, 0, "K", 1),
	}
	require.ErrorIs(t, o.DecisionReached(ctx, "K", mixed), tmorchestrator.ErrMixedHeights)

	require.ErrorIs(t, o.DecisionReached(ctx, "K", precommits(3, "K", 3)), tmstore.ErrProposalNotFound)

	require.Empty(t, f.Builder.Decisions())
}

func TestOrchestrator_DecisionReached_duplicateVoters(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptContent(0, gbuildertest.Finished([]byte("K")))

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	require.True(t, gtest.ReceiveSoon(t, o.BuildProposal(ctx, initAt(2), time.Second)).OK())

	votes := precommits(2, "K", 2)
	votes = append(votes, votes[0], tmconsensus.Vote{
		Type:   tmconsensus.VoteTypePrecommit,
		Height: 2,
		Voter:  3,
	})
	require.NoError(t, o.DecisionReached(ctx, "K", votes))
	require.Equal(t, []gbuilder.ProposalID{0}, f.Builder.Decisions())
}

func TestOrchestrator_DecisionReached_builderError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptContent(0, gbuildertest.Finished([]byte("K")))
	boom := errors.New("boom")
	f.Builder.SetDecisionError(boom)

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	require.True(t, gtest.ReceiveSoon(t, o.BuildProposal(ctx, initAt(2), time.Second)).OK())

	err := o.DecisionReached(ctx, "K", precommits(2, "K", 4))
	require.ErrorIs(t, err, tmorchestrator.ErrDecision)
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.Broadcaster.Decisions())
}
