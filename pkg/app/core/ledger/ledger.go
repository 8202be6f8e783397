package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

// Ledger holds the escrow of every market.
// The map itself is guarded here; each Escrow is guarded by the engine's per-market lock.
type Ledger struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow // market id -> escrow
}

func New() *Ledger {
	return &Ledger{escrows: make(map[string]*Escrow)}
}

// Open creates the escrow for a new market
func (l *Ledger) Open(marketID string, feeBps int64) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.escrows[marketID]; exists {
		return nil, fmt.Errorf("escrow already open for market %s", marketID)
	}
	e := newEscrow(marketID, feeBps)
	l.escrows[marketID] = e
	return e, nil
}

// Discard drops the escrow of a market that never went live
func (l *Ledger) Discard(marketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.escrows, marketID)
}

// Escrow returns the escrow of a market
func (l *Ledger) Escrow(marketID string) (*Escrow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.escrows[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrMarketNotFound, marketID)
	}
	return e, nil
}

// Markets returns the ids of every market with an escrow, sorted
func (l *Ledger) Markets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.escrows))
	for id := range l.escrows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
