package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/oracle"
)

// Resolution reports how ResolveMarket ended the market
type Resolution struct {
	State   market.State // Resolved or Refundable
	Outcome market.Outcome
}

// ResolveMarket settles a market past its deadline from the oracle's answer.
// Without an answer it fails with ErrOracleNotReady until the grace window ends,
// after which the market becomes Refundable.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string) (*Resolution, error) {
	ctx, ms, err := e.begin(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer ms.call.Unlock()

	now := e.clock.Now()
	ms.mu.Lock()
	e.advanceLocked(ms, now)
	state := ms.m.State
	questionID := ms.m.QuestionID
	minConfidence := ms.m.Params.MinOracleConfidence
	ms.mu.Unlock()

	switch {
	case state.Terminal():
		return nil, fmt.Errorf("%w: market %s is %s", errs.ErrAlreadyResolved, marketID, state)
	case state != market.PendingResolution:
		return nil, fmt.Errorf("%w: market %s", errs.ErrDeadlineNotReached, marketID)
	}

	ans, askErr := e.answer(ctx, ms, questionID)
	ready := askErr == nil && ans.Resolved && ans.Confidence >= minConfidence

	ms.mu.Lock()
	var ev Event
	switch {
	case ready:
		outcome := market.No
		if ans.Outcome {
			outcome = market.Yes
		}
		if err = ms.m.Resolve(outcome, now); err == nil {
			if err = ms.escrow.Resolve(outcome); err != nil {
				ms.halted = err
			}
		}
		ev = ms.event(EventMarketResolved, now)
		ev.Outcome = outcome.String()
	case ms.m.GraceExpired(now):
		err = ms.m.MarkRefundable(now)
		ev = ms.event(EventMarketRefundable, now)
	case askErr != nil:
		err = fmt.Errorf("%w: %v", errs.ErrOracleFailure, askErr)
	case ans.Resolved:
		err = fmt.Errorf("%w: confidence %d below %d", errs.ErrOracleNotReady, ans.Confidence, minConfidence)
	default:
		err = fmt.Errorf("%w: question %s", errs.ErrOracleNotReady, questionID)
	}
	if err == nil {
		err = e.checkLocked(ms)
	}
	events := []Event{ev}
	if err == nil {
		ms.stamp(events)
	}
	res := &Resolution{State: ms.m.State, Outcome: ms.m.Outcome}
	ms.mu.Unlock()
	if err != nil {
		e.log.Infow("resolve_deferred", "market", marketID, "err", err)
		return nil, err
	}

	e.log.Infow("market_resolved", "market", marketID, "state", res.State.String(), "outcome", res.Outcome.String())
	e.dispatch(ctx, events)
	return res, nil
}

func (e *Engine) answer(ctx context.Context, ms *marketState, questionID string) (oracle.Answer, error) {
	ms.external.Store(true)
	defer ms.external.Store(false)
	return e.oracle.GetAnswer(ctx, questionID)
}

// Claim reports what a claim returned to the user
type Claim struct {
	Winnings    int64 // winning shares × 10000 (zero on refunds)
	Proceeds    int64 // sale proceeds net of fees (zero on refunds)
	Contributed int64 // locked contribution returned by a refund
	OrderRefund int64 // reservations of still-resting orders
	Total       int64
}

// ClaimWinnings pays the user's winning claim plus sale proceeds, zeroes the position
// and refunds any still-resting orders.
func (e *Engine) ClaimWinnings(ctx context.Context, marketID string, user common.Address) (*Claim, error) {
	return e.claim(ctx, marketID, user, false)
}

// ClaimRefund returns the user's own locked contribution and resting-order reservations
// from a market the oracle never answered.
func (e *Engine) ClaimRefund(ctx context.Context, marketID string, user common.Address) (*Claim, error) {
	return e.claim(ctx, marketID, user, true)
}

func (e *Engine) claim(ctx context.Context, marketID string, user common.Address, refund bool) (*Claim, error) {
	ctx, ms, err := e.begin(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer ms.call.Unlock()

	now := e.clock.Now()
	ms.mu.Lock()
	c, events, err := e.claimLocked(ms, user, refund, now)
	if err == nil {
		err = e.checkLocked(ms)
	}
	if err == nil {
		ms.stamp(events)
	}
	ms.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.payout(ctx, ms, []transfer{{user, c.Total, "claim"}})
	e.log.Infow("claimed",
		"market", marketID,
		"user", user.Hex(),
		"refund", refund,
		"total", c.Total,
		"orders_refunded", c.OrderRefund,
	)
	e.dispatch(ctx, events)
	return c, nil
}

func (e *Engine) claimLocked(ms *marketState, user common.Address, refund bool, now time.Time) (*Claim, []Event, error) {
	e.advanceLocked(ms, now)
	if refund && ms.m.State != market.Refundable {
		return nil, nil, fmt.Errorf("%w: market %s is %s", errs.ErrMarketNotRefundable, ms.m.ID, ms.m.State)
	}
	if !refund && ms.m.State != market.Resolved {
		return nil, nil, fmt.Errorf("%w: market %s is %s", errs.ErrMarketNotResolved, ms.m.ID, ms.m.State)
	}

	pos := ms.escrow.Position(user)
	resting := ms.book.Resting(user)
	if (pos == nil || pos.Empty()) && len(resting) == 0 {
		return nil, nil, fmt.Errorf("%w: %s in market %s", errs.ErrNothingToClaim, user.Hex(), ms.m.ID)
	}

	c := &Claim{}
	orderRefund, events, err := e.cancelRestingLocked(ms, user, now)
	if err != nil {
		return nil, nil, err
	}
	c.OrderRefund = orderRefund

	ev := ms.event(EventWinningsClaimed, now)
	if refund {
		ev.Type = EventRefundClaimed
		if amount, ok := ms.escrow.ClaimRefund(user); ok {
			c.Contributed = amount
		}
	} else if payout, ok := ms.escrow.ClaimWinnings(user, ms.m.Outcome); ok {
		c.Winnings, c.Proceeds = payout.Winnings, payout.Proceeds
		c.Total = payout.Total
	}
	// a user with only resting orders has no position to zero
	c.Total += c.Contributed + c.OrderRefund

	ev.Owner = user.Hex()
	ev.Amount = c.Total
	return c, append(events, ev), nil
}

// WithdrawFees pays the market's accrued fees to the fee owner
func (e *Engine) WithdrawFees(ctx context.Context, marketID string, caller common.Address) (int64, error) {
	ctx, ms, err := e.begin(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer ms.call.Unlock()

	if caller != e.cfg.FeeOwner {
		return 0, fmt.Errorf("%w: %s is not the fee owner", errs.ErrNotOwner, caller.Hex())
	}

	now := e.clock.Now()
	ms.mu.Lock()
	amount := ms.escrow.WithdrawFees()
	var events []Event
	if amount > 0 {
		ev := ms.event(EventFeesWithdrawn, now)
		ev.Owner = caller.Hex()
		ev.Amount = amount
		if err = e.checkLocked(ms); err == nil {
			events = []Event{ev}
			ms.stamp(events)
		}
	}
	ms.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: no fees accrued in market %s", errs.ErrNothingToClaim, marketID)
	}

	e.payout(ctx, ms, []transfer{{caller, amount, "fees"}})
	e.log.Infow("fees_withdrawn", "market", marketID, "amount", amount)
	e.dispatch(ctx, events)
	return amount, nil
}
