package tmmemstore

import (
	"fmt"
	"sync"

	"github.com/gordian-engine/gsequencer/tm/tmstore"
)

// ProposalStore is an in-memory [tmstore.ProposalStore].
//
// Records are sharded by height,
// so that pipelines completing at different heights
// only contend on the outer map long enough to find their shard.
type ProposalStore struct {
	mu sync.RWMutex

	heights map[uint64]*heightShard

	// Highest height passed to PruneThrough, if pruned is true.
	prunedThrough uint64
	pruned        bool
}

type heightShard struct {
	mu sync.Mutex

	byContentID map[string]tmstore.ProposalRecord

	// Set by PruneThrough after the shard is removed from the outer map.
	pruned bool
}

func NewProposalStore() *ProposalStore {
	return &ProposalStore{
		heights: make(map[uint64]*heightShard),
	}
}

func (s *ProposalStore) SaveProposal(height uint64, contentID string, rec tmstore.ProposalRecord) error {
	shard, err := s.shardForSave(height)
	if err != nil {
		return err
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.pruned {
		return fmt.Errorf(
			"cannot save proposal at height %d (pruned concurrently): %w",
			height, tmstore.ErrHeightPruned,
		)
	}

	if _, ok := shard.byContentID[contentID]; ok {
		// First save wins.
		return nil
	}

	shard.byContentID[contentID] = tmstore.ProposalRecord{
		Txs:        cloneTxs(rec.Txs),
		ProposalID: rec.ProposalID,
	}
	return nil
}

func (s *ProposalStore) shardForSave(height uint64) (*heightShard, error) {
	s.mu.RLock()
	shard, ok := s.heights[height]
	prunedErr := s.prunedErrLocked(height)
	s.mu.RUnlock()

	if prunedErr != nil {
		return nil, prunedErr
	}
	if ok {
		return shard, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Pruning may have advanced while the lock was released.
	if err := s.prunedErrLocked(height); err != nil {
		return nil, err
	}

	shard, ok = s.heights[height]
	if !ok {
		shard = &heightShard{byContentID: make(map[string]tmstore.ProposalRecord)}
		s.heights[height] = shard
	}
	return shard, nil
}

func (s *ProposalStore) prunedErrLocked(height uint64) error {
	if s.pruned && height <= s.prunedThrough {
		return fmt.Errorf(
			"cannot save proposal at height %d (pruned through %d): %w",
			height, s.prunedThrough, tmstore.ErrHeightPruned,
		)
	}
	return nil
}

func (s *ProposalStore) LoadProposal(height uint64, contentID string) (tmstore.ProposalRecord, error) {
	s.mu.RLock()
	shard, ok := s.heights[height]
	s.mu.RUnlock()

	if ok {
		shard.mu.Lock()
		rec, found := shard.byContentID[contentID]
		shard.mu.Unlock()

		if found {
			return tmstore.ProposalRecord{
				Txs:        cloneTxs(rec.Txs),
				ProposalID: rec.ProposalID,
			}, nil
		}
	}

	return tmstore.ProposalRecord{}, fmt.Errorf(
		"load proposal at height %d with content ID %x: %w",
		height, contentID, tmstore.ErrProposalNotFound,
	)
}

func (s *ProposalStore) PruneThrough(height uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pruned || height > s.prunedThrough {
		s.prunedThrough = height
		s.pruned = true
	}

	n := 0
	for h, shard := range s.heights {
		if h > height {
			continue
		}

		// A saver may have fetched this shard before we took the outer lock.
		shard.mu.Lock()
		n += len(shard.byContentID)
		shard.pruned = true
		shard.mu.Unlock()

		delete(s.heights, h)
	}
	return n
}

func cloneTxs(txs [][]byte) [][]byte {
	if txs == nil {
		return nil
	}
	out := make([][]byte, len(txs))
	for i, tx := range txs {
		out[i] = append([]byte(nil), tx...)
	}
	return out
}
