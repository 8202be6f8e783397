package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

// Escrow is the collateral account of one market. It only relabels funds between
// reserved (backing open orders), locked (backing claims) and fees; Balance changes
// only when funds enter (Reserve, CollectFee) or leave (Release, refunds, claims, WithdrawFees).
//
// Conservation: Balance == Σ reservations + Locked + Fees
//
// Not safe for concurrent use; the engine serializes access per market.
type Escrow struct {
	MarketID string
	FeeBps   int64

	Balance int64 // settlement asset held for this market
	Locked  int64 // settlement pool backing all positions
	Fees    int64 // unwithdrawn fees, never user-claimable
	Accrued int64 // trading fees still inside the pool, moved to Fees at resolution

	reserved     int64
	reservations map[uint64]int64 // order id -> collateral reserved
	positions    map[common.Address]*Position
}

func newEscrow(marketID string, feeBps int64) *Escrow {
	return &Escrow{
		MarketID:     marketID,
		FeeBps:       feeBps,
		reservations: make(map[uint64]int64),
		positions:    make(map[common.Address]*Position),
	}
}

// Reserved returns the total collateral reserved for open orders
func (e *Escrow) Reserved() int64 { return e.reserved }

// Reservation returns the collateral reserved for one order
func (e *Escrow) Reservation(orderID uint64) int64 { return e.reservations[orderID] }

// Reserve records collateral paid in for an order
func (e *Escrow) Reserve(orderID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive: %d", amount)
	}
	e.reservations[orderID] += amount
	e.reserved += amount
	e.Balance += amount
	return nil
}

// Release refunds part of an order's reservation out of the market
func (e *Escrow) Release(orderID uint64, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("release amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	if e.reservations[orderID] < amount {
		return fmt.Errorf("%w: order %d releases %d of %d reserved", errs.ErrInvariantViolated, orderID, amount, e.reservations[orderID])
	}
	e.take(orderID, amount)
	e.Balance -= amount
	return nil
}

func (e *Escrow) take(orderID uint64, amount int64) {
	e.reservations[orderID] -= amount
	e.reserved -= amount
	if e.reservations[orderID] == 0 {
		delete(e.reservations, orderID)
	}
}

// Settlement is one fill as seen by the escrow
type Settlement struct {
	Outcome     market.Outcome // outcome the buyer bought
	Price       int64          // execution (maker) price
	Amount      int64
	BuyerLimit  int64 // buyer's own limit; reservation was taken at this price
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
}

// SettleResult reports the funds a fill moved out of reservations
type SettleResult struct {
	BuyerRefund int64 // (limit − price) × amount, paid back to the buyer now
	Fee         int64
	Locked      int64
}

// Settle moves one fill's collateral from reservations into the locked pool.
// Buyer: limit×A leaves the reservation, price×A is locked, the rest is refunded.
// Seller: the full face value 10000×A is locked. The fee is owed out of the seller's
// proceeds and only leaves the pool at resolution, so a refund returns full contributions.
func (e *Escrow) Settle(s Settlement) (SettleResult, error) {
	if s.Amount <= 0 {
		return SettleResult{}, fmt.Errorf("settle amount must be positive: %d", s.Amount)
	}
	if s.Price > s.BuyerLimit {
		return SettleResult{}, fmt.Errorf("%w: execution price %d above buyer limit %d", errs.ErrInvariantViolated, s.Price, s.BuyerLimit)
	}

	buyerDraw := s.BuyerLimit * s.Amount
	cost := s.Price * s.Amount
	face := market.BpsDenominator * s.Amount

	if e.reservations[s.BuyOrderID] < buyerDraw {
		return SettleResult{}, fmt.Errorf("%w: buy order %d holds %d, fill needs %d",
			errs.ErrInvariantViolated, s.BuyOrderID, e.reservations[s.BuyOrderID], buyerDraw)
	}
	if e.reservations[s.SellOrderID] < face {
		return SettleResult{}, fmt.Errorf("%w: sell order %d holds %d, fill needs %d",
			errs.ErrInvariantViolated, s.SellOrderID, e.reservations[s.SellOrderID], face)
	}

	e.take(s.BuyOrderID, buyerDraw)
	e.take(s.SellOrderID, face)

	refund := buyerDraw - cost
	e.Balance -= refund

	fee := cost * e.FeeBps / market.BpsDenominator
	e.Accrued += fee

	locked := cost + face
	e.Locked += locked

	buyer := e.position(s.Buyer)
	buyer.addShares(s.Outcome, s.Amount)
	buyer.Paid += cost
	buyer.Locked += cost

	seller := e.position(s.Seller)
	seller.addShares(s.Outcome.Opposite(), s.Amount)
	seller.Proceeds += cost
	seller.FeesOwed += fee
	seller.Locked += face

	return SettleResult{BuyerRefund: refund, Fee: fee, Locked: locked}, nil
}

// CollectFee records a protocol fee paid into the market (market creation)
func (e *Escrow) CollectFee(amount int64) {
	e.Balance += amount
	e.Fees += amount
}

// WithdrawFees empties the fee sink and returns the amount to pay out
func (e *Escrow) WithdrawFees() int64 {
	amount := e.Fees
	e.Fees = 0
	e.Balance -= amount
	return amount
}

// Resolve relabels every position's locked collateral to its entitlement under outcome
// and moves accrued trading fees out of the pool into the fee sink.
// Per fill the pool receives price×A + 10000×A and the gross entitlements
// (winning shares × 10000 + proceeds) sum to the same amount.
func (e *Escrow) Resolve(outcome market.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %s", errs.ErrInvalidOutcome, outcome)
	}
	var total, owed int64
	for _, p := range e.positions {
		total += p.Shares(outcome)*market.BpsDenominator + p.Proceeds
		owed += p.FeesOwed
	}
	if total != e.Locked {
		return fmt.Errorf("%w: entitlements %d != locked pool %d", errs.ErrInvariantViolated, total, e.Locked)
	}
	if owed != e.Accrued {
		return fmt.Errorf("%w: positions owe %d fees, %d accrued", errs.ErrInvariantViolated, owed, e.Accrued)
	}
	for _, p := range e.positions {
		p.Locked = p.Shares(outcome)*market.BpsDenominator + p.Proceeds - p.FeesOwed
	}
	e.Locked -= e.Accrued
	e.Fees += e.Accrued
	e.Accrued = 0
	return nil
}

// ClaimWinnings pays the user's entitlement and zeroes the position.
// Losing shares are zeroed with no payout. ok is false if there was nothing to zero.
func (e *Escrow) ClaimWinnings(user common.Address, outcome market.Outcome) (Payout, bool) {
	p, exists := e.positions[user]
	if !exists || p.Empty() {
		return Payout{}, false
	}
	payout := Payout{
		Winnings: p.Shares(outcome) * market.BpsDenominator,
		Proceeds: p.Proceeds - p.FeesOwed,
		Total:    p.Locked,
	}
	e.pay(p)
	return payout, true
}

// ClaimRefund returns the user's own locked contribution and zeroes the position.
// Fees the user owed are forgiven.
func (e *Escrow) ClaimRefund(user common.Address) (int64, bool) {
	p, exists := e.positions[user]
	if !exists || p.Empty() {
		return 0, false
	}
	amount := p.Locked
	e.Accrued -= p.FeesOwed
	e.pay(p)
	return amount, true
}

func (e *Escrow) pay(p *Position) {
	e.Locked -= p.Locked
	e.Balance -= p.Locked
	p.zero()
}

func (e *Escrow) position(user common.Address) *Position {
	p, ok := e.positions[user]
	if !ok {
		p = &Position{Owner: user}
		e.positions[user] = p
	}
	return p
}

// Position returns a copy of the user's position, or nil
func (e *Escrow) Position(user common.Address) *Position {
	p, ok := e.positions[user]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Positions returns copies of all positions sorted by owner
func (e *Escrow) Positions() []Position {
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Hex() < out[j].Owner.Hex() })
	return out
}

// Check verifies conservation. required maps every open order id to the
// collateral its remainder needs at its own terms.
func (e *Escrow) Check(required map[uint64]int64) error {
	var reserved int64
	for id, amount := range e.reservations {
		if amount < 0 {
			return fmt.Errorf("%w: order %d reservation %d", errs.ErrInvariantViolated, id, amount)
		}
		if required[id] != amount {
			return fmt.Errorf("%w: order %d reserves %d, terms require %d", errs.ErrInvariantViolated, id, amount, required[id])
		}
		reserved += amount
	}
	for id, amount := range required {
		if amount != 0 && e.reservations[id] != amount {
			return fmt.Errorf("%w: order %d reserves %d, terms require %d", errs.ErrInvariantViolated, id, e.reservations[id], amount)
		}
	}
	if reserved != e.reserved {
		return fmt.Errorf("%w: reservation total %d != tracked %d", errs.ErrInvariantViolated, reserved, e.reserved)
	}

	var locked int64
	for _, p := range e.positions {
		if p.Locked < 0 {
			return fmt.Errorf("%w: negative locked for %s", errs.ErrInvariantViolated, p.Owner.Hex())
		}
		locked += p.Locked
	}
	if locked != e.Locked {
		return fmt.Errorf("%w: positions lock %d, pool holds %d", errs.ErrInvariantViolated, locked, e.Locked)
	}

	if e.Fees < 0 || e.Accrued < 0 {
		return fmt.Errorf("%w: negative fees %d accrued %d", errs.ErrInvariantViolated, e.Fees, e.Accrued)
	}
	if e.Balance != e.reserved+e.Locked+e.Fees {
		return fmt.Errorf("%w: balance %d != reserved %d + locked %d + fees %d",
			errs.ErrInvariantViolated, e.Balance, e.reserved, e.Locked, e.Fees)
	}
	return nil
}
