// Package memory provides a process-local trade ledger for tests and
// single-process deployments that do not need durability across restarts.
package memory

import (
	"context"
	"sync"

	"bandsim/internal/model"
)

// Ledger keeps trade records in a slice guarded by a RWMutex.
type Ledger struct {
	mu     sync.RWMutex
	trades []model.TradeRecord
	seq    int64
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{trades: make([]model.TradeRecord, 0, 64)}
}

// Append assigns the next id and stores rec.
func (l *Ledger) Append(ctx context.Context, rec model.TradeRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec.ID = l.seq
	l.trades = append(l.trades, rec)
	return rec.ID, nil
}

// ListAll returns a copy of all records in insertion order.
func (l *Ledger) ListAll(ctx context.Context) ([]model.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.TradeRecord, len(l.trades))
	copy(cp, l.trades)
	return cp, nil
}

func (l *Ledger) Close() error { return nil }
