package tmmemstore_test

import (
	"testing"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/tm/tmstore"
	"github.com/gordian-engine/gsequencer/tm/tmstore/tmmemstore"
	"github.com/gordian-engine/gsequencer/tm/tmstore/tmstoretest"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestProposalStoreCompliance(t *testing.T) {
	t.Parallel()

	tmstoretest.TestProposalStoreCompliance(t, func(*testing.T) tmstore.ProposalStore {
		return tmmemstore.NewProposalStore()
	})
}

type storeKey struct {
	Height    uint64
	ContentID string
}

// TestProposalStore_model compares random operation sequences
// against a plain map with a pruning floor.
func TestProposalStore_model(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		s := tmmemstore.NewProposalStore()

		model := make(map[storeKey]gbuilder.ProposalID)
		var floor uint64
		var pruned bool

		heightGen := rapid.Uint64Range(1, 8)
		contentGen := rapid.SampledFrom([]string{"a", "b", "c"})

		t.Repeat(map[string]func(*rapid.T){
			"save": func(t *rapid.T) {
				k := storeKey{Height: heightGen.Draw(t, "height"), ContentID: contentGen.Draw(t, "content")}
				id := gbuilder.ProposalID(rapid.Uint64().Draw(t, "id"))

				err := s.SaveProposal(k.Height, k.ContentID, tmstore.ProposalRecord{ProposalID: id})
				if pruned && k.Height <= floor {
					require.ErrorIs(t, err, tmstore.ErrHeightPruned)
					return
				}
				require.NoError(t, err)
				if _, ok := model[k]; !ok {
					model[k] = id
				}
			},
			"load": func(t *rapid.T) {
				k := storeKey{Height: heightGen.Draw(t, "height"), ContentID: contentGen.Draw(t, "content")}

				rec, err := s.LoadProposal(k.Height, k.ContentID)
				want, ok := model[k]
				if !ok {
					require.ErrorIs(t, err, tmstore.ErrProposalNotFound)
					return
				}
				require.NoError(t, err)
				require.Equal(t, want, rec.ProposalID)
			},
			"prune": func(t *rapid.T) {
				h := heightGen.Draw(t, "height")

				want := 0
				for k := range model {
					if k.Height <= h {
						want++
						delete(model, k)
					}
				}
				require.Equal(t, want, s.PruneThrough(h))

				if !pruned || h > floor {
					floor = h
					pruned = true
				}
			},
		})
	})
}
