// Package predict is the matching engine and settlement resolver of binary prediction markets.
//
// Every mutating call runs in three phases:
//  1. validate and pull the attached payment
//  2. mutate book, escrow and lifecycle under the market lock, then check conservation
//  3. push refunds and payouts, then dispatch events
//
// Mutating calls on one market are serialized. A call made from inside a transfer
// (its context derives from an engine call) is rejected with ErrReentrantCall; any other
// call that arrives while transfers are in flight fails fast with ErrMarketBusy.
package predict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperpredict/pkg/oracle"
	"github.com/uhyunpark/hyperpredict/pkg/util"
)

// Bank moves the settlement asset between users and the engine
type Bank interface {
	Pull(ctx context.Context, from common.Address, amount int64) error
	Push(ctx context.Context, to common.Address, amount int64) error
}

type Engine struct {
	cfg    Config
	clock  util.Clock
	oracle oracle.Oracle
	bank   Bank
	log    *zap.SugaredLogger
	sinks  []EventSink

	registry *market.Registry
	ledger   *ledger.Ledger

	mu      sync.RWMutex
	markets map[string]*marketState

	owedMu sync.Mutex
	owed   map[common.Address]int64 // committed payouts whose transfer failed
}

// marketState bundles everything one market owns
type marketState struct {
	call     sync.Mutex   // serializes mutating calls, held across transfers
	mu       sync.RWMutex // guards the fields below against readers
	external atomic.Bool  // a collaborator call (transfer, oracle) is in flight

	m      *market.Market
	book   *orderbook.MarketBook
	escrow *ledger.Escrow
	seq    uint64 // last event sequence
	halted error  // set when a conservation check fails
}

type Option func(*Engine)

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.log = l } }
func WithClock(c util.Clock) Option          { return func(e *Engine) { e.clock = c } }
func WithSink(s EventSink) Option            { return func(e *Engine) { e.sinks = append(e.sinks, s) } }

func New(cfg Config, or oracle.Oracle, bank Bank, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if or == nil || bank == nil {
		return nil, errors.New("engine needs an oracle and a bank")
	}
	e := &Engine{
		cfg:      cfg,
		clock:    util.RealClock{},
		oracle:   or,
		bank:     bank,
		log:      zap.NewNop().Sugar(),
		registry: market.NewRegistry(),
		ledger:   ledger.New(),
		markets:  make(map[string]*marketState),
		owed:     make(map[common.Address]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AddSink registers an event sink after construction (websocket hub, gossip)
func (e *Engine) AddSink(s EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Config returns the engine config
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) state(marketID string) (*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrMarketNotFound, marketID)
	}
	return ms, nil
}

type callKey struct{}

// enter marks ctx as inside an engine call and rejects nested calls
func (e *Engine) enter(ctx context.Context) (context.Context, error) {
	if owner, _ := ctx.Value(callKey{}).(*Engine); owner == e {
		return nil, fmt.Errorf("%w: engine call made from within a transfer", errs.ErrReentrantCall)
	}
	return context.WithValue(ctx, callKey{}, e), nil
}

// begin admits a mutating call on a market. The caller must call ms.call.Unlock.
func (e *Engine) begin(ctx context.Context, marketID string) (context.Context, *marketState, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, nil, err
	}
	ms, err := e.state(marketID)
	if err != nil {
		return nil, nil, err
	}
	if ms.external.Load() {
		return nil, nil, fmt.Errorf("%w: transfers in flight on market %s", errs.ErrMarketBusy, marketID)
	}
	ms.call.Lock()

	ms.mu.RLock()
	halted := ms.halted
	ms.mu.RUnlock()
	if halted != nil {
		ms.call.Unlock()
		return nil, nil, fmt.Errorf("market %s halted: %w", marketID, halted)
	}
	return ctx, ms, nil
}

// transfer is a payout owed once state is committed
type transfer struct {
	to     common.Address
	amount int64
	reason string
}

// pull collects an attached payment
func (e *Engine) pull(ctx context.Context, ms *marketState, from common.Address, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if ms != nil {
		ms.external.Store(true)
		defer ms.external.Store(false)
	}
	if err := e.bank.Pull(ctx, from, amount); err != nil {
		if errs.KindOf(err) != errs.KindUnknown {
			return err
		}
		return fmt.Errorf("%w: %v", errs.ErrTransfer, err)
	}
	return nil
}

// payout pushes committed transfers. A failed push is recorded as owed, never lost.
func (e *Engine) payout(ctx context.Context, ms *marketState, outbox []transfer) {
	if len(outbox) == 0 {
		return
	}
	if ms != nil {
		ms.external.Store(true)
		defer ms.external.Store(false)
	}
	for _, t := range outbox {
		if t.amount <= 0 {
			continue
		}
		if err := e.bank.Push(ctx, t.to, t.amount); err != nil {
			e.log.Errorw("payout_failed", "to", t.to.Hex(), "amount", t.amount, "reason", t.reason, "err", err)
			e.owedMu.Lock()
			e.owed[t.to] += t.amount
			e.owedMu.Unlock()
		}
	}
}

// Owed returns committed payouts to user whose transfer failed
func (e *Engine) Owed(user common.Address) int64 {
	e.owedMu.Lock()
	defer e.owedMu.Unlock()
	return e.owed[user]
}

// RetryOwed pushes the owed balance of user again
func (e *Engine) RetryOwed(ctx context.Context, user common.Address) (int64, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return 0, err
	}
	e.owedMu.Lock()
	amount := e.owed[user]
	delete(e.owed, user)
	e.owedMu.Unlock()

	if amount == 0 {
		return 0, fmt.Errorf("%w: no owed balance for %s", errs.ErrNothingToClaim, user.Hex())
	}
	if err := e.bank.Push(ctx, user, amount); err != nil {
		e.owedMu.Lock()
		e.owed[user] += amount
		e.owedMu.Unlock()
		return 0, fmt.Errorf("%w: %v", errs.ErrTransfer, err)
	}
	return amount, nil
}

// checkLocked verifies conservation for a market. Caller holds ms.mu.
// A failure halts the market: no further mutating call is admitted.
func (e *Engine) checkLocked(ms *marketState) error {
	open := ms.book.Open()
	required := make(map[uint64]int64, len(open))
	for _, o := range open {
		required[o.ID] = o.Reserved()
	}
	if err := ms.escrow.Check(required); err != nil {
		ms.halted = err
		e.log.Errorw("conservation_violated", "market", ms.m.ID, "err", err)
		return err
	}
	return nil
}

// advanceLocked applies the time-driven lifecycle transition. Caller holds ms.mu.
func (e *Engine) advanceLocked(ms *marketState, now time.Time) {
	if ms.m.Advance(now) {
		e.log.Infow("market_pending_resolution", "market", ms.m.ID, "deadline", ms.m.Deadline)
	}
}
