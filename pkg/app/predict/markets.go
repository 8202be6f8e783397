package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
)

type CreateMarketRequest struct {
	Creator  common.Address
	Question string
	Deadline time.Time
	Payment  int64 // must cover creation + oracle fee; surplus is refunded
}

// CreateMarket registers a question with the oracle and opens a market for it.
// The creation fee stays in the market's fee sink, the oracle fee goes to the oracle's payee.
func (e *Engine) CreateMarket(ctx context.Context, req CreateMarketRequest) (*market.Market, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	id := uuid.NewString()
	m, err := market.New(id, req.Question, req.Creator, now, req.Deadline, e.cfg.Params)
	if err != nil {
		return nil, err
	}
	fee := e.cfg.MarketFee()
	if req.Payment < fee {
		return nil, fmt.Errorf("%w: market creation requires %d, attached %d", errs.ErrInsufficientPayment, fee, req.Payment)
	}

	if err := e.pull(ctx, nil, req.Creator, req.Payment); err != nil {
		return nil, err
	}

	questionID, err := e.oracle.AskQuestion(ctx, req.Question, req.Deadline)
	if err != nil {
		e.payout(ctx, nil, []transfer{{req.Creator, req.Payment, "create_failed"}})
		e.log.Warnw("oracle_ask_failed", "creator", req.Creator.Hex(), "err", err)
		return nil, fmt.Errorf("%w: %v", errs.ErrOracleFailure, err)
	}
	if err := m.Open(questionID); err != nil {
		e.payout(ctx, nil, []transfer{{req.Creator, req.Payment, "create_failed"}})
		return nil, err
	}

	escrow, err := e.ledger.Open(id, m.Params.TradingFeeBps)
	if err != nil {
		e.payout(ctx, nil, []transfer{{req.Creator, req.Payment, "create_failed"}})
		return nil, err
	}
	escrow.CollectFee(e.cfg.CreationFee)

	ms := &marketState{
		m:      m,
		book:   orderbook.NewMarketBook(),
		escrow: escrow,
	}
	ev := ms.event(EventMarketCreated, now)
	ev.Question = m.Question
	ev.Deadline = m.Deadline.Unix()
	ev.Owner = req.Creator.Hex()
	ev.QuestionID = questionID
	params := m.Params
	ev.Params = &params
	ev.Amount = e.cfg.CreationFee
	events := []Event{ev}
	if err := e.checkLocked(ms); err != nil {
		e.ledger.Discard(id)
		e.payout(ctx, nil, []transfer{{req.Creator, req.Payment, "create_failed"}})
		return nil, err
	}
	ms.stamp(events)

	snapshot := m.Clone()
	if err := e.install(ms); err != nil {
		e.payout(ctx, nil, []transfer{{req.Creator, req.Payment, "create_failed"}})
		return nil, err
	}

	e.payout(ctx, nil, []transfer{
		{e.oracle.Payee(), e.cfg.OracleFee, "oracle_fee"},
		{req.Creator, req.Payment - fee, "surplus"},
	})
	e.log.Infow("market_created",
		"market", id,
		"creator", req.Creator.Hex(),
		"question_id", questionID,
		"deadline", m.Deadline,
	)
	e.dispatch(ctx, events)
	return snapshot, nil
}

// install publishes a fully built market. Its escrow must already be open in the
// ledger; on failure the escrow is discarded so nothing of the market stays behind.
func (e *Engine) install(ms *marketState) error {
	if err := e.registry.Register(ms.m); err != nil {
		e.ledger.Discard(ms.m.ID)
		return err
	}
	e.mu.Lock()
	e.markets[ms.m.ID] = ms
	e.mu.Unlock()
	return nil
}
