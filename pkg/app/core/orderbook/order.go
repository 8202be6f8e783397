package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidSide, s)
	}
}

// Status represents the lifecycle state of an order
type Status int8

const (
	StatusOpen Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a limit order on one outcome of one market.
// Invariant: Filled + Remaining + cancelled quantity == Original.
type Order struct {
	ID      uint64 // arena index + 1, unique per market
	Owner   common.Address
	Side    Side
	Outcome market.Outcome
	Price   int64 // limit price in bps

	Original  int64
	Remaining int64
	Filled    int64

	Status    Status
	CreatedAt time.Time
}

// Required returns the collateral that covers qty shares at these terms:
// limit price × qty for a buy, full face value for a sell.
func Required(side Side, price, qty int64) int64 {
	if side == Buy {
		return price * qty
	}
	return market.BpsDenominator * qty
}

// Required returns the collateral covering qty shares of this order
func (o *Order) Required(qty int64) int64 {
	return Required(o.Side, o.Price, qty)
}

// Reserved is the collateral that must be held for the unfilled remainder
func (o *Order) Reserved() int64 {
	if o.Status == StatusCancelled {
		return 0
	}
	return o.Required(o.Remaining)
}

// Cancelled returns the quantity removed by cancellation
func (o *Order) Cancelled() int64 {
	return o.Original - o.Filled - o.Remaining
}

// IsClosed returns true if the order can no longer trade
func (o *Order) IsClosed() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// crosses reports whether a resting counter-order at price would trade with o
func (o *Order) crosses(price int64) bool {
	if o.Side == Buy {
		return price <= o.Price
	}
	return price >= o.Price
}

func (o *Order) fill(qty int64) {
	o.Remaining -= qty
	o.Filled += qty
	if o.Remaining == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// cancel drops the unfilled remainder and returns it
func (o *Order) cancel() int64 {
	qty := o.Remaining
	o.Remaining = 0
	o.Status = StatusCancelled
	return qty
}

// Fill is one match between a taker and a resting maker.
// Price is always the maker's limit.
type Fill struct {
	Outcome     market.Outcome
	Price       int64
	Amount      int64
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
	TakerSide   Side
	Timestamp   time.Time
}

// Notional is the collateral the buyer pays for this fill (price × amount)
func (f Fill) Notional() int64 { return f.Price * f.Amount }
