// Package gmembuilder contains an in-process [gbuilder.Builder].
//
// The builder keeps a FIFO mempool of opaque transactions.
// Building a proposal reserves transactions from the front of the mempool
// and hands them out in chunks; validating a proposal accumulates the chunks it is sent.
// Both paths finish with the same blake2b commitment over the height and transactions,
// so a proposal built by one instance validates to the same content ID on another.
package gmembuilder

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/internal/glog"
	"golang.org/x/crypto/blake2b"
)

// Config configures a [Builder].
// Zero fields are replaced with defaults in [New].
type Config struct {
	// Maximum number of transactions returned from one GetProposalContent call.
	ChunkSize int

	// Maximum number of transactions reserved for one built proposal.
	MaxTxsPerProposal int

	// Transactions larger than this make a validated proposal invalid.
	MaxTxBytes int

	// Clock used for deadlines.
	Now func() time.Time
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		ChunkSize:         16,
		MaxTxsPerProposal: 256,
		MaxTxBytes:        64 * 1024,
		Now:               time.Now,
	}
}

type proposalKind uint8

const (
	kindBuild proposalKind = iota + 1
	kindValidate
)

type proposal struct {
	kind     proposalKind
	height   uint64
	deadline time.Time

	// For built proposals, the reserved transactions.
	// For validated proposals, the transactions received so far.
	txs [][]byte

	// Number of reserved transactions already handed out.
	delivered int

	finished   bool
	invalid    bool
	commitment []byte
}

// Builder is an in-memory [gbuilder.Builder].
// It is safe for concurrent use.
type Builder struct {
	log *slog.Logger
	cfg Config

	mu sync.Mutex

	mempool [][]byte

	height  uint64
	started bool

	decidedHeight uint64
	hasDecided    bool
	committedTxs  int

	proposals map[gbuilder.ProposalID]*proposal
}

// New returns a new Builder with an empty mempool.
func New(log *slog.Logger, cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxTxsPerProposal <= 0 {
		cfg.MaxTxsPerProposal = def.MaxTxsPerProposal
	}
	if cfg.MaxTxBytes <= 0 {
		cfg.MaxTxBytes = def.MaxTxBytes
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	return &Builder{
		log: log,
		cfg: cfg,

		proposals: make(map[gbuilder.ProposalID]*proposal),
	}
}

// AddTxs appends the given transactions to the end of the mempool.
// The builder keeps its own copies.
func (b *Builder) AddTxs(txs ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, tx := range txs {
		b.mempool = append(b.mempool, slices.Clone(tx))
	}
}

// PendingTxs reports the number of transactions waiting in the mempool.
func (b *Builder) PendingTxs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mempool)
}

// DecidedHeight returns the most recently decided height,
// and false if no height has been decided yet.
func (b *Builder) DecidedHeight() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decidedHeight, b.hasDecided
}

// CommittedTxs returns the total number of transactions in decided proposals.
func (b *Builder) CommittedTxs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committedTxs
}

// StartHeight implements [gbuilder.Builder].
func (b *Builder) StartHeight(_ context.Context, height uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && height <= b.height {
		return fmt.Errorf(
			"cannot start height %d after %d: %w",
			height, b.height, gbuilder.ErrHeightRegression,
		)
	}

	// Anything left over belongs to a height that will not be decided here.
	b.releaseReservationsLocked(b.sortedIDsLocked())
	clear(b.proposals)

	b.height = height
	b.started = true

	b.log.Debug("Started height", "height", height, "pending_txs", len(b.mempool))
	return nil
}

// BuildProposal implements [gbuilder.Builder].
func (b *Builder) BuildProposal(_ context.Context, req gbuilder.BuildProposalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkNewProposalLocked(req.ProposalID); err != nil {
		return err
	}

	n := min(b.cfg.MaxTxsPerProposal, len(b.mempool))
	reserved := slices.Clone(b.mempool[:n])
	b.mempool = slices.Delete(b.mempool, 0, n)

	b.proposals[req.ProposalID] = &proposal{
		kind:     kindBuild,
		height:   b.height,
		deadline: req.Deadline,
		txs:      reserved,
	}

	b.log.Debug(
		"Began building proposal",
		"height", b.height, "proposal_id", req.ProposalID, "reserved_txs", n,
	)
	return nil
}

// GetProposalContent implements [gbuilder.Builder].
func (b *Builder) GetProposalContent(_ context.Context, id gbuilder.ProposalID) (gbuilder.ProposalContent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.lookupLocked(id, kindBuild)
	if err != nil {
		return gbuilder.ProposalContent{}, err
	}

	if p.finished {
		return gbuilder.ProposalContent{
			Finished: &gbuilder.ProposalCommitment{StateDiffCommitment: slices.Clone(p.commitment)},
		}, nil
	}

	if b.cfg.Now().After(p.deadline) && p.delivered < len(p.txs) {
		// Out of time: give back what was not delivered and close with what was.
		b.mempool = append(slices.Clone(p.txs[p.delivered:]), b.mempool...)
		p.txs = p.txs[:p.delivered]
	}

	if p.delivered == len(p.txs) {
		p.finished = true
		p.commitment = Commitment(p.height, p.txs)
		b.log.Debug(
			"Finished building proposal",
			"height", p.height, "proposal_id", id,
			"num_txs", len(p.txs), "commitment", glog.ShortHex(p.commitment),
		)
		return gbuilder.ProposalContent{
			Finished: &gbuilder.ProposalCommitment{StateDiffCommitment: slices.Clone(p.commitment)},
		}, nil
	}

	end := min(p.delivered+b.cfg.ChunkSize, len(p.txs))
	chunk := cloneTxs(p.txs[p.delivered:end])
	p.delivered = end

	return gbuilder.ProposalContent{Txs: chunk}, nil
}

// ValidateProposal implements [gbuilder.Builder].
func (b *Builder) ValidateProposal(_ context.Context, req gbuilder.ValidateProposalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkNewProposalLocked(req.ProposalID); err != nil {
		return err
	}

	b.proposals[req.ProposalID] = &proposal{
		kind:     kindValidate,
		height:   b.height,
		deadline: req.Deadline,
	}

	b.log.Debug("Began validating proposal", "height", b.height, "proposal_id", req.ProposalID)
	return nil
}

// SendProposalContent implements [gbuilder.Builder].
func (b *Builder) SendProposalContent(
	_ context.Context, id gbuilder.ProposalID, content gbuilder.SendContent,
) (gbuilder.ProposalStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.lookupLocked(id, kindValidate)
	if err != nil {
		return gbuilder.ProposalStatus{}, err
	}

	if p.finished {
		return gbuilder.ProposalStatus{}, fmt.Errorf("proposal %d: %w", id, gbuilder.ErrProposalDone)
	}

	if p.invalid {
		return gbuilder.ProposalStatus{Kind: gbuilder.StatusInvalid}, nil
	}

	if b.cfg.Now().After(p.deadline) {
		p.invalid = true
		b.log.Debug("Proposal content arrived past deadline", "proposal_id", id)
		return gbuilder.ProposalStatus{Kind: gbuilder.StatusInvalid}, nil
	}

	if content.Finish {
		p.finished = true
		p.commitment = Commitment(p.height, p.txs)
		b.log.Debug(
			"Finished validating proposal",
			"height", p.height, "proposal_id", id,
			"num_txs", len(p.txs), "commitment", glog.ShortHex(p.commitment),
		)
		return gbuilder.ProposalStatus{
			Kind: gbuilder.StatusFinished,
			Commitment: gbuilder.ProposalCommitment{
				StateDiffCommitment: slices.Clone(p.commitment),
			},
		}, nil
	}

	for _, tx := range content.Txs {
		if len(tx) == 0 || len(tx) > b.cfg.MaxTxBytes {
			p.invalid = true
			b.log.Debug("Rejecting proposal with bad transaction", "proposal_id", id, "tx_len", len(tx))
			return gbuilder.ProposalStatus{Kind: gbuilder.StatusInvalid}, nil
		}
	}
	p.txs = append(p.txs, cloneTxs(content.Txs)...)

	return gbuilder.ProposalStatus{Kind: gbuilder.StatusProcessing}, nil
}

// DecisionReached implements [gbuilder.Builder].
func (b *Builder) DecisionReached(_ context.Context, id gbuilder.ProposalID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.proposals[id]
	if !ok {
		return fmt.Errorf("decided proposal %d: %w", id, gbuilder.ErrUnknownProposal)
	}
	if !p.finished {
		return fmt.Errorf("decided proposal %d is not finished: %w", id, gbuilder.ErrWrongProposalKind)
	}

	others := b.sortedIDsLocked()
	others = slices.DeleteFunc(others, func(other gbuilder.ProposalID) bool { return other == id })
	b.releaseReservationsLocked(others)

	committed := make(map[string]struct{}, len(p.txs))
	for _, tx := range p.txs {
		committed[string(tx)] = struct{}{}
	}
	b.mempool = slices.DeleteFunc(b.mempool, func(tx []byte) bool {
		_, ok := committed[string(tx)]
		return ok
	})

	clear(b.proposals)
	b.decidedHeight = p.height
	b.hasDecided = true
	b.committedTxs += len(p.txs)

	b.log.Info(
		"Decision reached",
		"height", p.height, "proposal_id", id, "num_txs", len(p.txs),
		"pending_txs", len(b.mempool),
	)
	return nil
}

func (b *Builder) checkNewProposalLocked(id gbuilder.ProposalID) error {
	if !b.started {
		return fmt.Errorf("proposal %d: %w", id, gbuilder.ErrHeightNotStarted)
	}
	if _, ok := b.proposals[id]; ok {
		return fmt.Errorf("proposal %d: %w", id, gbuilder.ErrDuplicateProposal)
	}
	return nil
}

func (b *Builder) lookupLocked(id gbuilder.ProposalID, kind proposalKind) (*proposal, error) {
	p, ok := b.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %d: %w", id, gbuilder.ErrUnknownProposal)
	}
	if p.kind != kind {
		return nil, fmt.Errorf("proposal %d: %w", id, gbuilder.ErrWrongProposalKind)
	}
	return p, nil
}

func (b *Builder) sortedIDsLocked() []gbuilder.ProposalID {
	ids := make([]gbuilder.ProposalID, 0, len(b.proposals))
	for id := range b.proposals {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// releaseReservationsLocked returns the reserved transactions of the given
// built proposals to the front of the mempool, keeping their original order.
func (b *Builder) releaseReservationsLocked(ids []gbuilder.ProposalID) {
	var released [][]byte
	for _, id := range ids {
		p := b.proposals[id]
		if p.kind != kindBuild {
			continue
		}
		released = append(released, p.txs...)
	}
	if len(released) > 0 {
		b.mempool = append(released, b.mempool...)
	}
}

// Commitment returns the commitment a Builder computes
// for the given transactions at the given height.
func Commitment(height uint64, txs [][]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only possible with an oversized key.
		panic(fmt.Errorf("failed to create blake2b hasher: %w", err))
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	_, _ = h.Write(buf[:])

	for _, tx := range txs {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(tx)))
		_, _ = h.Write(buf[:4])
		_, _ = h.Write(tx)
	}

	return h.Sum(nil)
}

func cloneTxs(txs [][]byte) [][]byte {
	out := make([][]byte, len(txs))
	for i, tx := range txs {
		out[i] = slices.Clone(tx)
	}
	return out
}
