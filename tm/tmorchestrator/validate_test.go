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
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_ValidateProposal_completes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a", "b"), txs("c"))))
	require.True(t, c.OK(), "completion: %+v", c)
	require.Equal(t, string(gbuildertest.DefaultCommitment(txs("a", "b", "c"))), c.ContentID)

	sent := f.Builder.SentContent(0)
	require.Equal(t, []gbuilder.SendContent{
		{Txs: txs("a", "b")},
		{Txs: txs("c")},
		{Finish: true},
	}, sent)

	got, err := o.Repropose(ctx, c.ContentID, initAt(3))
	require.NoError(t, err)
	require.Equal(t, txs("a", "b", "c"), got)

	reqs := f.Builder.ValidateRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, fixedNow.Add(time.Second), reqs[0].Deadline)
}

func TestOrchestrator_ValidateProposal_invalidIsRejected(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptStatus(0, gbuildertest.Processing(), gbuildertest.Invalid())

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a"), txs("b"), txs("c"))))
	require.Equal(t, tmconsensus.OutcomeRejected, c.Outcome)

	// The third chunk is never forwarded.
	require.Len(t, f.Builder.SentContent(0), 2)
}

func TestOrchestrator_ValidateProposal_invalidOnFinish(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptStatus(0, gbuildertest.Processing(), gbuildertest.Invalid())

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a"))))
	require.Equal(t, tmconsensus.OutcomeRejected, c.Outcome)
}

func TestOrchestrator_ValidateProposal_earlyFinishIsProtocolViolation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptStatus(0, gbuildertest.FinishedStatus([]byte("K")))

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a"), txs("b"))))
	require.Equal(t, tmconsensus.OutcomeFatal, c.Outcome)
	require.ErrorIs(t, c.Err, tmorchestrator.ErrProtocolViolation)

	_, err := f.Store.LoadProposal(3, "K")
	require.Error(t, err)
}

func TestOrchestrator_ValidateProposal_unfinishedAfterFinishSignal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptStatus(0, gbuildertest.Processing(), gbuildertest.Processing())

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a"))))
	require.Equal(t, tmconsensus.OutcomeFatal, c.Outcome)
	require.ErrorIs(t, c.Err, tmorchestrator.ErrProtocolViolation)
	require.Empty(t, c.ContentID)
}

func TestOrchestrator_ValidateProposal_emptyCommitmentIsProtocolViolation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptStatus(0, gbuildertest.Processing(), gbuildertest.FinishedStatus(nil))

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a"))))
	require.Equal(t, tmconsensus.OutcomeFatal, c.Outcome)
	require.ErrorIs(t, c.Err, tmorchestrator.ErrProtocolViolation)

	_, err := f.Store.LoadProposal(3, "")
	require.Error(t, err)
}

func TestOrchestrator_ValidateProposal_builderError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	boom := errors.New("boom")
	f.Builder.ScriptStatus(0, gbuildertest.StatusStep{Err: boom})

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll(txs("a"))))
	require.Equal(t, tmconsensus.OutcomeFatal, c.Outcome)
	require.ErrorIs(t, c.Err, boom)
}

func TestOrchestrator_ValidateProposal_timeoutWaitingForContent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	// Never sends and never closes.
	content := make(chan [][]byte)

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, 20*time.Millisecond, content))
	require.Equal(t, tmconsensus.OutcomeTimedOut, c.Outcome)
	require.Error(t, c.Err)
}

func TestOrchestrator_ValidateProposal_timeoutCancelsInFlightCall(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptStatus(0, gbuildertest.StatusStep{Wait: make(chan struct{})})

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, 20*time.Millisecond, sendAll(txs("a"))))
	require.Equal(t, tmconsensus.OutcomeTimedOut, c.Outcome)
}

func TestOrchestrator_ValidateProposal_initiationFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.SetValidateError(gbuilder.ErrHeightNotStarted)

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 3, time.Second, sendAll()))
	require.Equal(t, tmconsensus.OutcomeFatal, c.Outcome)
	require.ErrorIs(t, c.Err, tmorchestrator.ErrInitiate)
	require.ErrorIs(t, c.Err, gbuilder.ErrHeightNotStarted)
}

func TestOrchestrator_ValidateProposal_dedupKeepsFirstProposalID(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	f := newFixture()
	f.Builder.ScriptContent(0, gbuildertest.Chunk([]byte("a")), gbuildertest.Finished([]byte("K")))
	f.Builder.ScriptStatus(1, gbuildertest.Processing(), gbuildertest.FinishedStatus([]byte("K")))

	o := f.NewOrchestrator(t, ctx)
	defer o.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, o.BuildProposal(ctx, initAt(4), time.Second))
	require.True(t, c.OK())

	c = gtest.ReceiveSoon(t, o.ValidateProposal(ctx, 4, time.Second, sendAll(txs("a"))))
	require.True(t, c.OK())
	require.Equal(t, "K", c.ContentID)

	rec, err := f.Store.LoadProposal(4, "K")
	require.NoError(t, err)
	require.Equal(t, gbuilder.ProposalID(0), rec.ProposalID)

	require.NoError(t, o.DecisionReached(ctx, "K", precommits(4, "K", 3)))
	require.Equal(t, []gbuilder.ProposalID{0}, f.Builder.Decisions())
}
