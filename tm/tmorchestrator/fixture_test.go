package tmorchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder/gbuildertest"
	"github.com/gordian-engine/gsequencer/internal/gtest"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"github.com/gordian-engine/gsequencer/tm/tmorchestrator"
	"github.com/gordian-engine/gsequencer/tm/tmp2p/tmp2ptest"
	"github.com/gordian-engine/gsequencer/tm/tmstore/tmmemstore"
	"github.com/stretchr/testify/require"
)

// fixedNow is the clock used by every fixture,
// so builder deadlines are predictable.
var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	Builder     *gbuildertest.Builder
	Store       *tmmemstore.ProposalStore
	Broadcaster *tmp2ptest.RecordingBroadcaster

	Cfg tmorchestrator.Config
}

func newFixture() *fixture {
	b := gbuildertest.NewBuilder()
	s := tmmemstore.NewProposalStore()
	bc := new(tmp2ptest.RecordingBroadcaster)

	return &fixture{
		Builder:     b,
		Store:       s,
		Broadcaster: bc,

		Cfg: tmorchestrator.Config{
			Builder:       b,
			ProposalStore: s,
			Broadcaster:   bc,
			NumValidators: 4,
			Now:           func() time.Time { return fixedNow },
		},
	}
}

func (f *fixture) NewOrchestrator(t *testing.T, ctx context.Context) *tmorchestrator.Orchestrator {
	t.Helper()

	o, err := tmorchestrator.New(ctx, gtest.NewLogger(t), f.Cfg)
	require.NoError(t, err)
	return o
}

func initAt(h uint64) tmconsensus.ProposalInit {
	return tmconsensus.ProposalInit{Height: h, Round: 0, Proposer: 0}
}

// precommits returns one precommit for contentID from each of n validators.
func precommits(h uint64, contentID string, n int) []tmconsensus.Vote {
	out := make([]tmconsensus.Vote, n)
	for i := range out {
		out[i] = tmconsensus.Precommit(h, 0, contentID, tmconsensus.ValidatorID(i))
	}
	return out
}

// sendAll returns a closed channel holding each of the given chunks.
func sendAll(chunks ...[][]byte) <-chan [][]byte {
	ch := make(chan [][]byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func txs(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
