package predict

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
)

// Collateral summarizes a market's escrow
type Collateral struct {
	Balance  int64 // everything held for the market
	Reserved int64 // backing open orders
	Locked   int64 // backing positions
	Fees     int64 // withdrawable by the fee owner
	Accrued  int64 // trading fees collected at resolution
}

// MarketInfo is a read snapshot of a market. State is the effective state at read time.
type MarketInfo struct {
	market.Market
	Collateral Collateral
	OpenOrders int
	Orders     int
}

func (ms *marketState) infoLocked(now time.Time) *MarketInfo {
	m := ms.m.Clone()
	m.State = m.EffectiveState(now)
	e := ms.escrow
	return &MarketInfo{
		Market: *m,
		Collateral: Collateral{
			Balance:  e.Balance,
			Reserved: e.Reserved(),
			Locked:   e.Locked,
			Fees:     e.Fees,
			Accrued:  e.Accrued,
		},
		OpenOrders: len(ms.book.Open()),
		Orders:     ms.book.Len(),
	}
}

// GetMarket returns a snapshot of one market
func (e *Engine) GetMarket(marketID string) (*MarketInfo, error) {
	ms, err := e.state(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.infoLocked(e.clock.Now()), nil
}

// ListMarkets returns snapshots of every market, oldest first
func (e *Engine) ListMarkets() []*MarketInfo {
	now := e.clock.Now()
	markets := e.registry.List()
	out := make([]*MarketInfo, 0, len(markets))
	for _, m := range markets {
		ms, err := e.state(m.ID)
		if err != nil {
			continue
		}
		ms.mu.RLock()
		out = append(out, ms.infoLocked(now))
		ms.mu.RUnlock()
	}
	return out
}

// DueMarkets returns ids of markets past their deadline still awaiting resolution
func (e *Engine) DueMarkets() []string {
	now := e.clock.Now()
	var due []string
	for _, m := range e.registry.List() {
		ms, err := e.state(m.ID)
		if err != nil {
			continue
		}
		ms.mu.RLock()
		if ms.m.EffectiveState(now) == market.PendingResolution && ms.halted == nil {
			due = append(due, m.ID)
		}
		ms.mu.RUnlock()
	}
	return due
}

// OutcomeBook is the aggregated depth of one outcome
type OutcomeBook struct {
	Outcome   market.Outcome
	Bids      []orderbook.PriceLevel // best first
	Asks      []orderbook.PriceLevel // best first
	LastPrice int64
}

type BookSnapshot struct {
	MarketID string
	Yes      OutcomeBook
	No       OutcomeBook
}

// GetOrderBook returns aggregated levels for both outcomes, at most depth per side (0 = all)
func (e *Engine) GetOrderBook(marketID string, depth int) (*BookSnapshot, error) {
	ms, err := e.state(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	side := func(o market.Outcome) OutcomeBook {
		return OutcomeBook{
			Outcome:   o,
			Bids:      ms.book.BidLevels(o, depth),
			Asks:      ms.book.AskLevels(o, depth),
			LastPrice: ms.book.Book(o).LastPrice(),
		}
	}
	return &BookSnapshot{MarketID: marketID, Yes: side(market.Yes), No: side(market.No)}, nil
}

// Quote is the top of book of one outcome. Mid is the implied probability in bps:
// the bid/ask midpoint when both sides exist, else the last fill price, else 0.
type Quote struct {
	Outcome   market.Outcome
	BestBid   int64
	BestAsk   int64
	LastPrice int64
	Mid       int64
}

// GetMarketPrice returns the top of book of one outcome
func (e *Engine) GetMarketPrice(marketID string, outcome market.Outcome) (*Quote, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %s", errs.ErrInvalidOutcome, outcome)
	}
	ms, err := e.state(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	b := ms.book.Book(outcome)
	q := &Quote{Outcome: outcome, LastPrice: b.LastPrice()}
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if hasBid {
		q.BestBid = bid
	}
	if hasAsk {
		q.BestAsk = ask
	}
	if hasBid && hasAsk {
		q.Mid = (bid + ask) / 2
	} else {
		q.Mid = q.LastPrice
	}
	return q, nil
}

// GetUserOrders returns copies of every order owner placed in a market, oldest first
func (e *Engine) GetUserOrders(marketID string, owner common.Address) ([]orderbook.Order, error) {
	ms, err := e.state(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	orders := ms.book.OrdersOf(owner)
	out := make([]orderbook.Order, len(orders))
	for i, o := range orders {
		out[i] = *o
	}
	return out, nil
}

// GetOrder returns a copy of one order
func (e *Engine) GetOrder(marketID string, orderID uint64) (*orderbook.Order, error) {
	ms, err := e.state(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	o, ok := ms.book.Order(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %d in market %s", errs.ErrOrderNotFound, orderID, marketID)
	}
	cp := *o
	return &cp, nil
}

// GetPosition returns the user's position; a zero position if they never traded
func (e *Engine) GetPosition(marketID string, user common.Address) (*ledger.Position, error) {
	ms, err := e.state(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if p := ms.escrow.Position(user); p != nil {
		return p, nil
	}
	return &ledger.Position{Owner: user}, nil
}

// CheckConservation verifies the collateral invariant of one market
func (e *Engine) CheckConservation(marketID string) error {
	ms, err := e.state(marketID)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return e.checkLocked(ms)
}

// StateHash is a keccak256 digest over every market's lifecycle, escrow, book depth
// and positions, in market creation order.
func (e *Engine) StateHash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	put := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	for _, m := range e.registry.List() {
		ms, err := e.state(m.ID)
		if err != nil {
			continue
		}
		ms.mu.RLock()
		h.Write([]byte(ms.m.ID))
		put(int64(ms.m.State))
		put(int64(ms.m.Outcome))
		put(ms.escrow.Balance)
		put(ms.escrow.Reserved())
		put(ms.escrow.Locked)
		put(ms.escrow.Fees)
		for _, o := range []market.Outcome{market.Yes, market.No} {
			for _, lvl := range ms.book.BidLevels(o, 0) {
				put(lvl.Price)
				put(lvl.Qty)
			}
			for _, lvl := range ms.book.AskLevels(o, 0) {
				put(lvl.Price)
				put(lvl.Qty)
			}
		}
		for _, p := range ms.escrow.Positions() {
			h.Write(p.Owner.Bytes())
			put(p.YesShares)
			put(p.NoShares)
			put(p.Locked)
		}
		ms.mu.RUnlock()
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}
