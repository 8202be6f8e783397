package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
)

// maxOrderAmount keeps price × amount and 10000 × amount far from int64 overflow
const maxOrderAmount int64 = 1 << 40

type PlaceOrderRequest struct {
	MarketID string
	Owner    common.Address
	Side     orderbook.Side
	Outcome  market.Outcome
	Price    int64 // limit, bps
	Amount   int64 // shares
	Payment  int64 // collateral attached; surplus over the requirement is refunded
}

type PlaceResult struct {
	OrderID   uint64
	Status    orderbook.Status
	Fills     []orderbook.Fill
	Filled    int64
	Remaining int64 // resting on the book

	// Truncated is set when the per-call match cap was hit while the remainder still
	// crossed the book; that remainder was cancelled and refunded instead of resting.
	Truncated bool

	// Refund is everything returned to the owner by this call:
	// surplus payment, price improvement and any truncated remainder
	Refund int64
}

// PlaceOrder reserves collateral for a limit order, matches it against the book in
// price/time priority at maker prices and rests any remainder.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceResult, error) {
	ctx, ms, err := e.begin(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	defer ms.call.Unlock()

	now := e.clock.Now()
	required, err := e.admit(ms, req, now)
	if err != nil {
		e.log.Infow("order_rejected", "market", req.MarketID, "owner", req.Owner.Hex(), "err", err)
		return nil, err
	}

	if err := e.pull(ctx, ms, req.Owner, req.Payment); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	res, outbox, events, err := e.placeLocked(ms, req, required, now)
	if err == nil {
		ms.stamp(events)
	}
	ms.mu.Unlock()
	if err != nil {
		if res == nil {
			// nothing was committed
			e.payout(ctx, ms, []transfer{{req.Owner, req.Payment, "order_failed"}})
		}
		return nil, err
	}

	e.payout(ctx, ms, outbox)
	e.log.Infow("order_placed",
		"market", req.MarketID,
		"order_id", res.OrderID,
		"owner", req.Owner.Hex(),
		"side", req.Side.String(),
		"outcome", req.Outcome.String(),
		"price", req.Price,
		"amount", req.Amount,
		"fills", len(res.Fills),
		"truncated", res.Truncated,
	)
	e.dispatch(ctx, events)
	return res, nil
}

// admit validates an order before any funds move and returns the collateral it requires
func (e *Engine) admit(ms *marketState, req PlaceOrderRequest, now time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	e.advanceLocked(ms, now)
	if err := ms.m.AcceptingOrders(now); err != nil {
		return 0, err
	}
	if req.Side != orderbook.Buy && req.Side != orderbook.Sell {
		return 0, fmt.Errorf("%w: %d", errs.ErrInvalidSide, req.Side)
	}
	if !req.Outcome.Valid() {
		return 0, fmt.Errorf("%w: %s", errs.ErrInvalidOutcome, req.Outcome)
	}
	if !market.ValidPrice(req.Price) {
		return 0, fmt.Errorf("%w: %d bps outside (0, %d)", errs.ErrInvalidPrice, req.Price, market.BpsDenominator)
	}
	if req.Amount < ms.m.Params.MinOrderSize {
		return 0, fmt.Errorf("%w: %d < %d", errs.ErrBelowMinimumSize, req.Amount, ms.m.Params.MinOrderSize)
	}
	if req.Amount > maxOrderAmount {
		return 0, fmt.Errorf("%w: %d exceeds %d", errs.ErrInvalidAmount, req.Amount, maxOrderAmount)
	}
	required := orderbook.Required(req.Side, req.Price, req.Amount)
	if req.Payment < required {
		return 0, fmt.Errorf("%w: order requires %d, attached %d", errs.ErrInsufficientPayment, required, req.Payment)
	}
	return required, nil
}

// placeLocked runs the mutation phase. Caller holds ms.mu.
// A nil result with an error means nothing was committed.
func (e *Engine) placeLocked(ms *marketState, req PlaceOrderRequest, required int64, now time.Time) (*PlaceResult, []transfer, []Event, error) {
	// time may not move between admit and here, but the state must still be open
	if err := ms.m.AcceptingOrders(now); err != nil {
		return nil, nil, nil, err
	}

	o := ms.book.NewOrder(req.Owner, req.Side, req.Outcome, req.Price, req.Amount, now)
	if err := ms.escrow.Reserve(o.ID, required); err != nil {
		ms.book.Cancel(o)
		return nil, nil, nil, err
	}

	res := &PlaceResult{OrderID: o.ID}
	var outbox []transfer
	if surplus := req.Payment - required; surplus > 0 {
		outbox = append(outbox, transfer{req.Owner, surplus, "surplus"})
		res.Refund += surplus
	}
	events := []Event{ms.orderEvent(EventOrderPlaced, o, now)}

	fills := ms.book.Match(o, ms.m.Params.MaxMatchesPerOrder, now)
	for _, f := range fills {
		buy, _ := ms.book.Order(f.BuyOrderID)
		sr, err := ms.escrow.Settle(ledger.Settlement{
			Outcome:     f.Outcome,
			Price:       f.Price,
			Amount:      f.Amount,
			BuyerLimit:  buy.Price,
			BuyOrderID:  f.BuyOrderID,
			SellOrderID: f.SellOrderID,
			Buyer:       f.Buyer,
			Seller:      f.Seller,
		})
		if err != nil {
			ms.halted = err
			e.log.Errorw("settle_failed", "market", ms.m.ID, "buy", f.BuyOrderID, "sell", f.SellOrderID, "err", err)
			return res, nil, nil, err
		}
		if sr.BuyerRefund > 0 {
			outbox = append(outbox, transfer{f.Buyer, sr.BuyerRefund, "price_improvement"})
			if f.Buyer == req.Owner {
				res.Refund += sr.BuyerRefund
			}
		}
		events = append(events, ms.fillEvent(f))
	}

	if o.Remaining > 0 {
		if ms.book.Crosses(o) {
			// cap hit mid-sweep; resting a crossing order would lock the book
			reserved := o.Reserved()
			ms.book.Cancel(o)
			if err := ms.escrow.Release(o.ID, reserved); err != nil {
				ms.halted = err
				return res, nil, nil, err
			}
			outbox = append(outbox, transfer{req.Owner, reserved, "truncated"})
			res.Truncated = true
			res.Refund += reserved
			ev := ms.event(EventOrderCancelled, now)
			ev.OrderID = o.ID
			ev.Owner = o.Owner.Hex()
			ev.Refund = reserved
			events = append(events, ev)
		} else {
			ms.book.Rest(o)
		}
	}

	if err := e.checkLocked(ms); err != nil {
		return res, nil, nil, err
	}

	res.Fills = fills
	res.Status = o.Status
	res.Filled = o.Filled
	res.Remaining = o.Remaining
	return res, outbox, events, nil
}

// CancelOrder cancels the unfilled remainder of an order and refunds exactly its reservation.
// Filled quantity is final. Allowed in any market state while the order is open.
func (e *Engine) CancelOrder(ctx context.Context, marketID string, orderID uint64, caller common.Address) (int64, error) {
	ctx, ms, err := e.begin(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer ms.call.Unlock()

	now := e.clock.Now()
	ms.mu.Lock()
	refund, ev, err := e.cancelLocked(ms, orderID, caller, now)
	if err == nil {
		err = e.checkLocked(ms)
	}
	events := []Event{ev}
	if err == nil {
		ms.stamp(events)
	}
	ms.mu.Unlock()
	if err != nil {
		return 0, err
	}

	e.payout(ctx, ms, []transfer{{caller, refund, "cancel"}})
	e.log.Infow("order_cancelled", "market", marketID, "order_id", orderID, "owner", caller.Hex(), "refund", refund)
	e.dispatch(ctx, events)
	return refund, nil
}

func (e *Engine) cancelLocked(ms *marketState, orderID uint64, caller common.Address, now time.Time) (int64, Event, error) {
	e.advanceLocked(ms, now)

	o, ok := ms.book.Order(orderID)
	if !ok {
		return 0, Event{}, fmt.Errorf("%w: %d in market %s", errs.ErrOrderNotFound, orderID, ms.m.ID)
	}
	if o.Owner != caller {
		return 0, Event{}, fmt.Errorf("%w: order %d belongs to %s", errs.ErrNotOwner, orderID, o.Owner.Hex())
	}
	switch o.Status {
	case orderbook.StatusFilled:
		return 0, Event{}, fmt.Errorf("%w: order %d", errs.ErrOrderAlreadyFullyFilled, orderID)
	case orderbook.StatusCancelled:
		return 0, Event{}, fmt.Errorf("%w: order %d", errs.ErrOrderAlreadyCancelled, orderID)
	}

	reserved := o.Reserved()
	ms.book.Cancel(o)
	if err := ms.escrow.Release(o.ID, reserved); err != nil {
		ms.halted = err
		return 0, Event{}, err
	}

	ev := ms.event(EventOrderCancelled, now)
	ev.OrderID = o.ID
	ev.Owner = o.Owner.Hex()
	ev.Refund = reserved
	return reserved, ev, nil
}

// cancelRestingLocked cancels every open order of user and returns the total reservation released
func (e *Engine) cancelRestingLocked(ms *marketState, user common.Address, now time.Time) (int64, []Event, error) {
	var (
		total  int64
		events []Event
	)
	for _, o := range ms.book.Resting(user) {
		refund, ev, err := e.cancelLocked(ms, o.ID, user, now)
		if err != nil {
			return 0, nil, err
		}
		total += refund
		events = append(events, ev)
	}
	return total, events, nil
}
