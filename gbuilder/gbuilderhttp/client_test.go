package gbuilderhttp_test

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/gbuilder/gbuilderhttp"
	"github.com/gordian-engine/gsequencer/gbuilder/gmembuilder"
	"github.com/gordian-engine/gsequencer/internal/ghttp"
	"github.com/gordian-engine/gsequencer/internal/gtest"
	"github.com/stretchr/testify/require"
)

func newTCPFixture(t *testing.T) (*gmembuilder.Builder, *gbuilderhttp.Client) {
	t.Helper()

	log := gtest.NewLogger(t)
	b := gmembuilder.New(log.With("sys", "builder"), gmembuilder.Config{ChunkSize: 2})

	srv := httptest.NewServer(gbuilderhttp.NewHandler(log.With("sys", "handler"), b))
	t.Cleanup(srv.Close)

	c, err := gbuilderhttp.NewClient(gbuilderhttp.ClientConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	return b, c
}

// buildAll polls the builder until it reports a commitment.
func buildAll(t *testing.T, ctx context.Context, b gbuilder.Builder, id gbuilder.ProposalID) ([][]byte, []byte) {
	t.Helper()

	var txs [][]byte
	for range 100 {
		c, err := b.GetProposalContent(ctx, id)
		require.NoError(t, err)
		if c.Finished != nil {
			return txs, c.Finished.StateDiffCommitment
		}
		txs = append(txs, c.Txs...)
	}
	t.Fatal("proposal never finished")
	return nil, nil
}

func TestClient_buildThenValidate(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	_, c := newTCPFixture(t)

	want := [][]byte{[]byte("tx1"), []byte("tx2"), []byte("tx3")}
	require.NoError(t, c.AddTxs(ctx, want...))

	require.NoError(t, c.StartHeight(ctx, 1))

	deadline := time.Now().Add(time.Minute)
	require.NoError(t, c.BuildProposal(ctx, gbuilder.BuildProposalRequest{
		ProposalID:    0,
		Deadline:      deadline,
		Retrospective: &gbuilder.BlockRef{Height: 0, Hash: make([]byte, 32)},
	}))

	txs, commitment := buildAll(t, ctx, c, 0)
	require.Equal(t, want, txs)
	require.Equal(t, gmembuilder.Commitment(1, want), commitment)

	require.NoError(t, c.ValidateProposal(ctx, gbuilder.ValidateProposalRequest{
		ProposalID: 1,
		Deadline:   deadline,
	}))

	s, err := c.SendProposalContent(ctx, 1, gbuilder.SendContent{Txs: txs})
	require.NoError(t, err)
	require.Equal(t, gbuilder.StatusProcessing, s.Kind)

	s, err = c.SendProposalContent(ctx, 1, gbuilder.SendContent{Finish: true})
	require.NoError(t, err)
	require.Equal(t, gbuilder.StatusFinished, s.Kind)
	require.Equal(t, commitment, s.Commitment.StateDiffCommitment)

	require.NoError(t, c.DecisionReached(ctx, 0))
}

func TestClient_invalidStatus(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	_, c := newTCPFixture(t)

	require.NoError(t, c.StartHeight(ctx, 1))
	require.NoError(t, c.ValidateProposal(ctx, gbuilder.ValidateProposalRequest{
		ProposalID: 0,
		Deadline:   time.Now().Add(time.Minute),
	}))

	// Empty transactions are invalid.
	s, err := c.SendProposalContent(ctx, 0, gbuilder.SendContent{Txs: [][]byte{{}}})
	require.NoError(t, err)
	require.Equal(t, gbuilder.StatusInvalid, s.Kind)
}

func TestClient_errorsMapToSentinels(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	_, c := newTCPFixture(t)

	err := c.BuildProposal(ctx, gbuilder.BuildProposalRequest{ProposalID: 0, Deadline: time.Now()})
	require.ErrorIs(t, err, gbuilder.ErrHeightNotStarted)

	require.NoError(t, c.StartHeight(ctx, 5))
	require.ErrorIs(t, c.StartHeight(ctx, 4), gbuilder.ErrHeightRegression)

	_, err = c.GetProposalContent(ctx, 99)
	require.ErrorIs(t, err, gbuilder.ErrUnknownProposal)

	require.ErrorIs(t, c.DecisionReached(ctx, 99), gbuilder.ErrUnknownProposal)
}

func TestClient_unixSocket(t *testing.T) {
	t.Parallel()

	// Unix socket paths have a short length limit,
	// so avoid the long path from t.TempDir.
	dir, err := os.MkdirTemp("", "gbh")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sockPath := filepath.Join(dir, "builder.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	log := gtest.NewLogger(t)

	b := gmembuilder.New(log.With("sys", "builder"), gmembuilder.Config{})
	srv := ghttp.NewServer(ctx, log.With("sys", "http"), ghttp.ServerConfig{
		Listener: ln,
		Handler:  gbuilderhttp.NewHandler(log.With("sys", "handler"), b),
	})
	defer srv.Wait()
	defer cancel()

	c, err := gbuilderhttp.NewClient(gbuilderhttp.ClientConfig{
		UnixSocket: sockPath,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, c.AddTxs(ctx, []byte("hello")))
	require.Equal(t, 1, b.PendingTxs())

	require.NoError(t, c.StartHeight(ctx, 1))
	require.NoError(t, c.BuildProposal(ctx, gbuilder.BuildProposalRequest{
		ProposalID: 7,
		Deadline:   time.Now().Add(time.Minute),
	}))

	txs, _ := buildAll(t, ctx, c, 7)
	require.Equal(t, [][]byte{[]byte("hello")}, txs)
}

func TestNewClient_requiresAddress(t *testing.T) {
	t.Parallel()

	_, err := gbuilderhttp.NewClient(gbuilderhttp.ClientConfig{})
	require.Error(t, err)
}
