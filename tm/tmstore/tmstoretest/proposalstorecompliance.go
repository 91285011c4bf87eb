package tmstoretest

import (
	"sync"
	"testing"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/tm/tmstore"
	"github.com/stretchr/testify/require"
)

// ProposalStoreFactory returns a new, empty ProposalStore.
// Cleanup of any resources should be registered with t.Cleanup.
type ProposalStoreFactory func(t *testing.T) tmstore.ProposalStore

// TestProposalStoreCompliance runs the behavior checks
// every [tmstore.ProposalStore] implementation must satisfy.
func TestProposalStoreCompliance(t *testing.T, f ProposalStoreFactory) {
	t.Helper()

	t.Run("load of missing record", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		_, err := s.LoadProposal(1, "missing")
		require.ErrorIs(t, err, tmstore.ErrProposalNotFound)
	})

	t.Run("save then load", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		txs := [][]byte{[]byte("tx1"), []byte("tx2")}
		require.NoError(t, s.SaveProposal(5, "K", tmstore.ProposalRecord{
			Txs:        txs,
			ProposalID: 3,
		}))

		rec, err := s.LoadProposal(5, "K")
		require.NoError(t, err)
		require.Equal(t, txs, rec.Txs)
		require.Equal(t, gbuilder.ProposalID(3), rec.ProposalID)

		// Same content ID at a different height is a different key.
		_, err = s.LoadProposal(6, "K")
		require.ErrorIs(t, err, tmstore.ErrProposalNotFound)
	})

	t.Run("first save wins", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		require.NoError(t, s.SaveProposal(2, "K", tmstore.ProposalRecord{
			Txs:        [][]byte{[]byte("a")},
			ProposalID: 1,
		}))
		require.NoError(t, s.SaveProposal(2, "K", tmstore.ProposalRecord{
			Txs:        [][]byte{[]byte("a")},
			ProposalID: 9,
		}))

		rec, err := s.LoadProposal(2, "K")
		require.NoError(t, err)
		require.Equal(t, gbuilder.ProposalID(1), rec.ProposalID)
	})

	t.Run("stored transactions are isolated from the caller", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		txs := [][]byte{[]byte("abc")}
		require.NoError(t, s.SaveProposal(1, "K", tmstore.ProposalRecord{Txs: txs}))
		txs[0][0] = 'z'

		rec, err := s.LoadProposal(1, "K")
		require.NoError(t, err)
		require.Equal(t, []byte("abc"), rec.Txs[0])

		rec.Txs[0][0] = 'y'
		rec, err = s.LoadProposal(1, "K")
		require.NoError(t, err)
		require.Equal(t, []byte("abc"), rec.Txs[0])
	})

	t.Run("prune through", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		for h := uint64(1); h <= 4; h++ {
			require.NoError(t, s.SaveProposal(h, "A", tmstore.ProposalRecord{ProposalID: gbuilder.ProposalID(h)}))
			require.NoError(t, s.SaveProposal(h, "B", tmstore.ProposalRecord{ProposalID: gbuilder.ProposalID(h + 10)}))
		}

		require.Equal(t, 6, s.PruneThrough(3))

		for h := uint64(1); h <= 3; h++ {
			_, err := s.LoadProposal(h, "A")
			require.ErrorIs(t, err, tmstore.ErrProposalNotFound)
		}

		rec, err := s.LoadProposal(4, "B")
		require.NoError(t, err)
		require.Equal(t, gbuilder.ProposalID(14), rec.ProposalID)

		// Pruning again at or below the floor drops nothing.
		require.Zero(t, s.PruneThrough(2))
	})

	t.Run("save at pruned height", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		require.Zero(t, s.PruneThrough(3))

		require.ErrorIs(t, s.SaveProposal(3, "K", tmstore.ProposalRecord{}), tmstore.ErrHeightPruned)
		require.ErrorIs(t, s.SaveProposal(1, "K", tmstore.ProposalRecord{}), tmstore.ErrHeightPruned)

		_, err := s.LoadProposal(3, "K")
		require.ErrorIs(t, err, tmstore.ErrProposalNotFound)

		require.NoError(t, s.SaveProposal(4, "K", tmstore.ProposalRecord{}))

		// A lower prune does not lower the floor.
		s.PruneThrough(1)
		require.ErrorIs(t, s.SaveProposal(2, "K", tmstore.ProposalRecord{}), tmstore.ErrHeightPruned)
	})

	t.Run("concurrent saves at distinct heights", func(t *testing.T) {
		t.Parallel()

		s := f(t)

		const n = 32
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func(h uint64) {
				defer wg.Done()
				require.NoError(t, s.SaveProposal(h, "K", tmstore.ProposalRecord{
					ProposalID: gbuilder.ProposalID(h),
				}))
			}(uint64(i + 1))
		}
		wg.Wait()

		for h := uint64(1); h <= n; h++ {
			rec, err := s.LoadProposal(h, "K")
			require.NoError(t, err)
			require.Equal(t, gbuilder.ProposalID(h), rec.ProposalID)
		}
	})
}
