package orderbook

import (
	"container/heap"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

type PriceLevel struct {
	Price  int64
	Qty    int64 // total remaining qty at this price level
	Orders int
}

// Book holds the resting orders of one outcome.
// Heaps track the best price (O(1) peek); each price level is a FIFO of arena ids.
type Book struct {
	outcome market.Outcome

	bidHeap *priceHeap
	askHeap *priceHeap

	bids map[int64][]uint64 // price -> FIFO of order ids
	asks map[int64][]uint64

	lastPrice int64 // most recent fill price
}

func newBook(outcome market.Outcome) *Book {
	return &Book{
		outcome: outcome,
		bidHeap: newPriceHeap(true),
		askHeap: newPriceHeap(false),
		bids:    make(map[int64][]uint64),
		asks:    make(map[int64][]uint64),
	}
}

func (b *Book) side(s Side) (map[int64][]uint64, *priceHeap) {
	if s == Buy {
		return b.bids, b.bidHeap
	}
	return b.asks, b.askHeap
}

func (b *Book) add(o *Order) {
	levels, h := b.side(o.Side)
	if len(levels[o.Price]) == 0 {
		// New price level - add to heap
		heap.Push(h, o.Price)
	}
	levels[o.Price] = append(levels[o.Price], o.ID)
}

func (b *Book) remove(o *Order) bool {
	levels, h := b.side(o.Side)
	queue := levels[o.Price]
	for i, id := range queue {
		if id != o.ID {
			continue
		}
		levels[o.Price] = append(queue[:i], queue[i+1:]...)
		if len(levels[o.Price]) == 0 {
			delete(levels, o.Price)
			h.remove(o.Price)
		}
		return true
	}
	return false
}

// popHead drops the first order of a level after it was fully filled
func (b *Book) popHead(s Side, price int64) {
	levels, h := b.side(s)
	levels[price] = levels[price][1:]
	if len(levels[price]) == 0 {
		delete(levels, price)
		h.remove(price)
	}
}

// BestBid returns the highest resting bid
func (b *Book) BestBid() (int64, bool) { return b.bidHeap.peek() }

// BestAsk returns the lowest resting ask
func (b *Book) BestAsk() (int64, bool) { return b.askHeap.peek() }

// LastPrice returns the most recent fill price, 0 if none
func (b *Book) LastPrice() int64 { return b.lastPrice }

// MarketBook is the per-market arena of orders plus one Book per outcome.
// Order ids are arena indexes + 1, so lookups never touch a map.
// Not safe for concurrent use; the engine serializes access per market.
type MarketBook struct {
	orders []*Order
	books  map[market.Outcome]*Book
}

func NewMarketBook() *MarketBook {
	return &MarketBook{
		books: map[market.Outcome]*Book{
			market.Yes: newBook(market.Yes),
			market.No:  newBook(market.No),
		},
	}
}

// NewOrder allocates an order in the arena. It does not rest or match it.
func (mb *MarketBook) NewOrder(owner common.Address, side Side, outcome market.Outcome, price, qty int64, now time.Time) *Order {
	o := &Order{
		ID:        uint64(len(mb.orders) + 1),
		Owner:     owner,
		Side:      side,
		Outcome:   outcome,
		Price:     price,
		Original:  qty,
		Remaining: qty,
		Status:    StatusOpen,
		CreatedAt: now,
	}
	mb.orders = append(mb.orders, o)
	return o
}

// Order looks up an order by id
func (mb *MarketBook) Order(id uint64) (*Order, bool) {
	if id == 0 || id > uint64(len(mb.orders)) {
		return nil, false
	}
	return mb.orders[id-1], true
}

// Book returns the book for an outcome
func (mb *MarketBook) Book(outcome market.Outcome) *Book {
	return mb.books[outcome]
}

// Match walks the opposite side of the taker's book in price/time priority
// and fills against every crossing order, at most maxFills times.
// Each fill executes at the maker's price. The taker is never rested here.
func (mb *MarketBook) Match(taker *Order, maxFills int, now time.Time) []Fill {
	b := mb.books[taker.Outcome]
	var fills []Fill

	for taker.Remaining > 0 && len(fills) < maxFills {
		var (
			price int64
			ok    bool
		)
		if taker.Side == Buy {
			price, ok = b.BestAsk()
		} else {
			price, ok = b.BestBid()
		}
		if !ok || !taker.crosses(price) {
			break
		}

		levels, _ := b.side(-taker.Side)
		maker := mb.orders[levels[price][0]-1]
		qty := min(taker.Remaining, maker.Remaining)
		taker.fill(qty)
		maker.fill(qty)

		f := Fill{
			Outcome:   taker.Outcome,
			Price:     price,
			Amount:    qty,
			TakerSide: taker.Side,
			Timestamp: now,
		}
		if taker.Side == Buy {
			f.BuyOrderID, f.Buyer = taker.ID, taker.Owner
			f.SellOrderID, f.Seller = maker.ID, maker.Owner
		} else {
			f.BuyOrderID, f.Buyer = maker.ID, maker.Owner
			f.SellOrderID, f.Seller = taker.ID, taker.Owner
		}
		fills = append(fills, f)
		b.lastPrice = price

		if maker.Remaining == 0 {
			b.popHead(maker.Side, price)
		}
	}
	return fills
}

// Crosses reports whether o would still trade against the opposite side
func (mb *MarketBook) Crosses(o *Order) bool {
	b := mb.books[o.Outcome]
	var (
		price int64
		ok    bool
	)
	if o.Side == Buy {
		price, ok = b.BestAsk()
	} else {
		price, ok = b.BestBid()
	}
	return ok && o.crosses(price)
}

// Rest places the unfilled remainder of o on its book
func (mb *MarketBook) Rest(o *Order) {
	if o.Remaining == 0 || o.IsClosed() {
		return
	}
	mb.books[o.Outcome].add(o)
}

// Cancel removes o from its book (if resting) and drops its remainder.
// Returns the cancelled quantity.
func (mb *MarketBook) Cancel(o *Order) int64 {
	mb.books[o.Outcome].remove(o)
	return o.cancel()
}

// OrdersOf returns every order ever placed by owner, oldest first
func (mb *MarketBook) OrdersOf(owner common.Address) []*Order {
	var out []*Order
	for _, o := range mb.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out
}

// Resting returns owner's orders that still hold a remainder
func (mb *MarketBook) Resting(owner common.Address) []*Order {
	var out []*Order
	for _, o := range mb.orders {
		if o.Owner == owner && !o.IsClosed() {
			out = append(out, o)
		}
	}
	return out
}

// Open returns every order that still holds a remainder
func (mb *MarketBook) Open() []*Order {
	var out []*Order
	for _, o := range mb.orders {
		if !o.IsClosed() {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the number of orders in the arena
func (mb *MarketBook) Len() int { return len(mb.orders) }

// BidLevels returns bid levels sorted high to low (best bid first), at most depth (0 = all)
func (mb *MarketBook) BidLevels(outcome market.Outcome, depth int) []PriceLevel {
	b := mb.books[outcome]
	levels := mb.aggregate(b.bids)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return truncate(levels, depth)
}

// AskLevels returns ask levels sorted low to high (best ask first), at most depth (0 = all)
func (mb *MarketBook) AskLevels(outcome market.Outcome, depth int) []PriceLevel {
	b := mb.books[outcome]
	levels := mb.aggregate(b.asks)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return truncate(levels, depth)
}

func (mb *MarketBook) aggregate(side map[int64][]uint64) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for price, ids := range side {
		if len(ids) == 0 {
			continue
		}
		lvl := PriceLevel{Price: price, Orders: len(ids)}
		for _, id := range ids {
			lvl.Qty += mb.orders[id-1].Remaining
		}
		levels = append(levels, lvl)
	}
	return levels
}

func truncate(levels []PriceLevel, depth int) []PriceLevel {
	if depth > 0 && len(levels) > depth {
		return levels[:depth]
	}
	return levels
}
