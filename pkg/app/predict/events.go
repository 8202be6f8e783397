package predict

import (
	"context"
	"time"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/orderbook"
)

type EventType string

const (
	EventMarketCreated    EventType = "MarketCreated"
	EventOrderPlaced      EventType = "OrderPlaced"
	EventOrderFilled      EventType = "OrderFilled"
	EventOrderCancelled   EventType = "OrderCancelled"
	EventMarketResolved   EventType = "MarketResolved"
	EventMarketRefundable EventType = "MarketRefundable"
	EventWinningsClaimed  EventType = "WinningsClaimed"
	EventRefundClaimed    EventType = "RefundClaimed"
	EventFeesWithdrawn    EventType = "FeesWithdrawn"
)

// Event is emitted after a mutating call commits. Seq is gapless per market:
// it is assigned only when the call commits, so rejected calls consume none.
// Only the fields relevant to Type are set.
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	MarketID string    `json:"marketId"`
	Time     time.Time `json:"time"`

	// MarketCreated
	Question   string         `json:"question,omitempty"`
	Deadline   int64          `json:"deadline,omitempty"` // unix seconds
	QuestionID string         `json:"questionId,omitempty"`
	Params     *market.Params `json:"params,omitempty"`

	// Order events
	OrderID     uint64 `json:"orderId,omitempty"`
	BuyOrderID  uint64 `json:"buyOrderId,omitempty"`
	SellOrderID uint64 `json:"sellOrderId,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Side        string `json:"side,omitempty"`
	Outcome     string `json:"outcome,omitempty"` // also set by MarketResolved
	Price       int64  `json:"price,omitempty"`
	Amount      int64  `json:"amount,omitempty"` // shares, or collateral for claims and fees (creation fee on MarketCreated)
	Refund      int64  `json:"refundAmount,omitempty"`
}

// EventSink consumes committed events (journal, websocket hub, gossip).
// Events for one market arrive in Seq order.
type EventSink interface {
	HandleEvents(ctx context.Context, events []Event) error
}

// event builds an unsequenced event; stamp numbers it once the call commits
func (ms *marketState) event(typ EventType, now time.Time) Event {
	return Event{Type: typ, MarketID: ms.m.ID, Time: now}
}

// stamp assigns the next sequence numbers to a committed batch. Caller holds ms.mu.
func (ms *marketState) stamp(events []Event) {
	for i := range events {
		ms.seq++
		events[i].Seq = ms.seq
	}
}

func (ms *marketState) orderEvent(typ EventType, o *orderbook.Order, now time.Time) Event {
	ev := ms.event(typ, now)
	ev.OrderID = o.ID
	ev.Owner = o.Owner.Hex()
	ev.Side = o.Side.String()
	ev.Outcome = o.Outcome.String()
	ev.Price = o.Price
	ev.Amount = o.Original
	return ev
}

func (ms *marketState) fillEvent(f orderbook.Fill) Event {
	ev := ms.event(EventOrderFilled, f.Timestamp)
	ev.BuyOrderID = f.BuyOrderID
	ev.SellOrderID = f.SellOrderID
	ev.Outcome = f.Outcome.String()
	ev.Price = f.Price
	ev.Amount = f.Amount
	ev.Side = f.TakerSide.String()
	return ev
}

// dispatch hands events to every sink; sink failures are logged, never returned
func (e *Engine) dispatch(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.HandleEvents(ctx, events); err != nil {
			e.log.Warnw("event_sink_failed", "market", events[0].MarketID, "events", len(events), "err", err)
		}
	}
}
