package gsolo

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math/rand/v2"
	"time"
)

// TxAdder accepts new transactions.
// [gmembuilder.Builder] satisfies it.
type TxAdder interface {
	AddTxs(txs ...[]byte)
}

// TxFeeder periodically adds pseudorandom transactions to a TxAdder.
type TxFeeder struct {
	Log *slog.Logger

	Target TxAdder

	Interval   time.Duration
	TxsPerTick int
	TxSize     int

	// Seed for the ChaCha8 source, so runs are reproducible.
	Seed uint64
}

// Run feeds transactions until ctx is canceled.
func (f TxFeeder) Run(ctx context.Context) {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], f.Seed)
	chacha := rand.NewChaCha8(seed)

	size := max(f.TxSize, 8)

	t := time.NewTicker(f.Interval)
	defer t.Stop()

	var total uint64
	for {
		select {
		case <-ctx.Done():
			f.Log.Debug("Stopping tx feeder", "total_txs", total)
			return
		case <-t.C:
			txs := make([][]byte, f.TxsPerTick)
			for i := range txs {
				tx := make([]byte, size)
				// Leading counter keeps every tx distinct.
				binary.BigEndian.PutUint64(tx[:8], total)
				_, _ = chacha.Read(tx[8:]) // ChaCha8 seeds don't error on Read.
				txs[i] = tx
				total++
			}
			f.Target.AddTxs(txs...)
		}
	}
}
