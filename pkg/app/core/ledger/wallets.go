package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

// BalanceStore persists wallet balances (implemented by the pebble store)
type BalanceStore interface {
	SaveBalance(addr common.Address, balance int64) error
	LoadBalances() (map[common.Address]int64, error)
}

// ReceiveHook runs after a Push credits a wallet, outside the wallet lock.
// It stands in for recipient code that runs when it receives funds.
type ReceiveHook func(ctx context.Context, to common.Address, amount int64)

// Wallets is the in-process settlement asset: user balances the engine pulls
// payments from and pushes refunds and payouts to.
// Thread-safe.
type Wallets struct {
	mu       sync.RWMutex
	balances map[common.Address]int64
	store    BalanceStore // optional
	hook     ReceiveHook
}

// NewWallets creates wallets, restoring balances from store if given
func NewWallets(store BalanceStore) (*Wallets, error) {
	w := &Wallets{
		balances: make(map[common.Address]int64),
		store:    store,
	}
	if store == nil {
		return w, nil
	}
	balances, err := store.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	for addr, bal := range balances {
		w.balances[addr] = bal
	}
	return w, nil
}

// OnReceive installs a hook called after every successful Push
func (w *Wallets) OnReceive(hook ReceiveHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hook = hook
}

// Deposit credits a wallet (faucet / bridge in)
func (w *Wallets) Deposit(addr common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit must be positive: %d", errs.ErrInvalidAmount, amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setLocked(addr, w.balances[addr]+amount)
}

// Balance returns the wallet balance
func (w *Wallets) Balance(addr common.Address) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[addr]
}

// Total returns the sum of all wallet balances
func (w *Wallets) Total() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var total int64
	for _, bal := range w.balances {
		total += bal
	}
	return total
}

// Pull debits amount from a wallet as a payment into the engine
func (w *Wallets) Pull(ctx context.Context, from common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("pull amount cannot be negative: %d", amount)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	have := w.balances[from]
	if have < amount {
		return fmt.Errorf("%w: have %d, need %d", errs.ErrInsufficientBalance, have, amount)
	}
	return w.setLocked(from, have-amount)
}

// Push credits amount to a wallet and then runs the receive hook
func (w *Wallets) Push(ctx context.Context, to common.Address, amount int64) error {
	if amount <= 0 {
		return nil
	}
	w.mu.Lock()
	if err := w.setLocked(to, w.balances[to]+amount); err != nil {
		w.mu.Unlock()
		return err
	}
	hook := w.hook
	w.mu.Unlock()

	if hook != nil {
		hook(ctx, to, amount)
	}
	return nil
}

func (w *Wallets) setLocked(addr common.Address, balance int64) error {
	if w.store != nil {
		if err := w.store.SaveBalance(addr, balance); err != nil {
			return fmt.Errorf("%w: failed to persist balance: %v", errs.ErrStorage, err)
		}
	}
	w.balances[addr] = balance
	return nil
}
