package predict

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperpredict/pkg/oracle"
)

// Journal is the persisted event log a node restarts from
type Journal interface {
	MarketIDs() ([]string, error)
	LoadEvents(marketID string, after uint64, limit int) ([]Event, error)
}

// Recover rebuilds every market found in the journal. Markets that fail to
// rebuild are skipped and reported in the joined error; the rest go live.
func (e *Engine) Recover(j Journal) (int, error) {
	ids, err := j.MarketIDs()
	if err != nil {
		return 0, err
	}
	var (
		restored int
		failed   []error
	)
	for _, id := range ids {
		events, err := j.LoadEvents(id, 0, 0)
		if err == nil {
			err = e.Restore(events)
		}
		if err != nil {
			e.log.Errorw("market_restore_failed", "market", id, "err", err)
			failed = append(failed, fmt.Errorf("market %s: %w", id, err))
			continue
		}
		restored++
	}
	e.log.Infow("markets_recovered", "restored", restored, "failed", len(failed))
	return restored, errors.Join(failed...)
}

// Restore rebuilds one market from its journal, oldest first. Commands are
// re-applied through the same mutation paths as live calls, but no funds move
// and the oracle is not asked: the journal already reflects both. Fills are
// re-derived by matching and must agree with the journaled ones.
func (e *Engine) Restore(events []Event) error {
	if len(events) == 0 || events[0].Type != EventMarketCreated {
		return errors.New("journal does not start with MarketCreated")
	}
	created := events[0]
	if _, err := e.state(created.MarketID); err == nil {
		return fmt.Errorf("market %s already loaded", created.MarketID)
	}

	ms, err := e.rebuildCreated(created)
	if err != nil {
		return err
	}
	if err := e.replayAll(ms, events[1:]); err != nil {
		e.ledger.Discard(ms.m.ID)
		return err
	}
	if r, ok := e.oracle.(oracle.Restorer); ok && !ms.m.State.Terminal() {
		if err := r.RestoreQuestion(ms.m.QuestionID, ms.m.Question, ms.m.Deadline); err != nil {
			e.ledger.Discard(ms.m.ID)
			return err
		}
	}
	if err := e.install(ms); err != nil {
		return err
	}
	e.log.Infow("market_restored", "market", ms.m.ID, "state", ms.m.State.String(), "seq", ms.seq)
	return nil
}

// replayAll applies the journal tail and checks conservation on the result
func (e *Engine) replayAll(ms *marketState, events []Event) error {
	var pending []orderbook.Fill // fills derived by the last replayed placement
	for _, ev := range events {
		if ev.MarketID != ms.m.ID {
			return fmt.Errorf("event %d belongs to market %s", ev.Seq, ev.MarketID)
		}
		if ev.Seq != ms.seq+1 {
			return fmt.Errorf("event seq %d does not follow %d", ev.Seq, ms.seq)
		}
		if ev.Type == EventOrderFilled {
			if len(pending) == 0 {
				return fmt.Errorf("fill %d has no matching placement", ev.Seq)
			}
			f := pending[0]
			pending = pending[1:]
			if f.BuyOrderID != ev.BuyOrderID || f.SellOrderID != ev.SellOrderID || f.Price != ev.Price || f.Amount != ev.Amount {
				return fmt.Errorf("fill %d diverges: journal %d/%d %d@%d, replay %d/%d %d@%d", ev.Seq,
					ev.BuyOrderID, ev.SellOrderID, ev.Amount, ev.Price, f.BuyOrderID, f.SellOrderID, f.Amount, f.Price)
			}
			ms.seq = ev.Seq
			continue
		}
		if len(pending) > 0 {
			return fmt.Errorf("replay produced %d fills the journal lacks", len(pending))
		}

		fills, err := e.replay(ms, ev)
		if err != nil {
			return fmt.Errorf("replay %s seq %d: %w", ev.Type, ev.Seq, err)
		}
		pending = fills
		ms.seq = ev.Seq
	}
	if len(pending) > 0 {
		return fmt.Errorf("replay produced %d fills the journal lacks", len(pending))
	}
	return e.checkLocked(ms)
}

func (e *Engine) rebuildCreated(ev Event) (*marketState, error) {
	params := e.cfg.Params
	if ev.Params != nil {
		params = *ev.Params
	}
	m, err := market.New(ev.MarketID, ev.Question, common.HexToAddress(ev.Owner), ev.Time, time.Unix(ev.Deadline, 0), params)
	if err != nil {
		return nil, err
	}
	if err := m.Open(ev.QuestionID); err != nil {
		return nil, err
	}
	escrow, err := e.ledger.Open(m.ID, m.Params.TradingFeeBps)
	if err != nil {
		return nil, err
	}
	escrow.CollectFee(ev.Amount)
	return &marketState{
		m:      m,
		book:   orderbook.NewMarketBook(),
		escrow: escrow,
		seq:    ev.Seq,
	}, nil
}

// replay applies one journaled command to a market that is not yet live
func (e *Engine) replay(ms *marketState, ev Event) ([]orderbook.Fill, error) {
	e.advanceLocked(ms, ev.Time)

	switch ev.Type {
	case EventOrderPlaced:
		side, err := orderbook.ParseSide(ev.Side)
		if err != nil {
			return nil, err
		}
		outcome, err := market.ParseOutcome(ev.Outcome)
		if err != nil {
			return nil, err
		}
		required := orderbook.Required(side, ev.Price, ev.Amount)
		res, _, _, err := e.placeLocked(ms, PlaceOrderRequest{
			MarketID: ms.m.ID,
			Owner:    common.HexToAddress(ev.Owner),
			Side:     side,
			Outcome:  outcome,
			Price:    ev.Price,
			Amount:   ev.Amount,
			Payment:  required,
		}, required, ev.Time)
		if err != nil {
			return nil, err
		}
		if res.OrderID != ev.OrderID {
			return nil, fmt.Errorf("order id %d, journal has %d", res.OrderID, ev.OrderID)
		}
		return res.Fills, nil

	case EventOrderCancelled:
		o, ok := ms.book.Order(ev.OrderID)
		if !ok {
			return nil, fmt.Errorf("unknown order %d", ev.OrderID)
		}
		// truncated remainders were already cancelled by the placement replay
		if o.IsClosed() {
			return nil, nil
		}
		_, _, err := e.cancelLocked(ms, o.ID, o.Owner, ev.Time)
		return nil, err

	case EventMarketResolved:
		outcome, err := market.ParseOutcome(ev.Outcome)
		if err != nil {
			return nil, err
		}
		if err := ms.m.Resolve(outcome, ev.Time); err != nil {
			return nil, err
		}
		return nil, ms.escrow.Resolve(outcome)

	case EventMarketRefundable:
		return nil, ms.m.MarkRefundable(ev.Time)

	case EventWinningsClaimed, EventRefundClaimed:
		// the resting orders a claim cancels were journaled ahead of it, so a
		// claimant holding nothing else has nothing left to claim here
		_, _, err := e.claimLocked(ms, common.HexToAddress(ev.Owner), ev.Type == EventRefundClaimed, ev.Time)
		if errors.Is(err, errs.ErrNothingToClaim) {
			return nil, nil
		}
		return nil, err

	case EventFeesWithdrawn:
		if amount := ms.escrow.WithdrawFees(); amount != ev.Amount {
			return nil, fmt.Errorf("withdrew %d, journal has %d", amount, ev.Amount)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unexpected event type %s", ev.Type)
	}
}
