package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

// Registry manages multiple markets in a thread-safe manner
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // id -> market
}

// NewRegistry creates an empty market registry
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Register adds a new market.
// Returns error if a market with the same id already exists
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.ID]; exists {
		return fmt.Errorf("market %s already registered", m.ID)
	}

	r.markets[m.ID] = m
	return nil
}

// Get retrieves a market by id. The returned pointer is live state;
// callers outside the engine should use Clone.
func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", errs.ErrMarketNotFound, id)
	}

	return m, nil
}

// List returns all markets ordered by creation time (oldest first)
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.Before(markets[j].CreatedAt)
	})

	return markets
}

// Count returns the total number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
