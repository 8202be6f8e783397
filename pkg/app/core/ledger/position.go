package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

// Position is one user's claim on a market's locked pool.
// Before resolution Locked is the user's own contribution (what a refund returns);
// after resolution it is relabelled to the entitlement (winning shares × 10000 + proceeds − fees).
type Position struct {
	Owner common.Address

	// Shares redeemable for BpsDenominator units each if the outcome wins
	YesShares int64
	NoShares  int64

	// Gross sale proceeds (price × amount) owed to a seller, paid out with the claim
	Proceeds int64
	// Trading fees deducted from Proceeds at resolution
	FeesOwed int64

	// Collateral paid by this user for shares bought
	Paid int64

	// Collateral locked against this claim
	Locked int64

	Claimed bool
}

// Shares returns the share count held on an outcome
func (p *Position) Shares(o market.Outcome) int64 {
	switch o {
	case market.Yes:
		return p.YesShares
	case market.No:
		return p.NoShares
	default:
		return 0
	}
}

func (p *Position) addShares(o market.Outcome, qty int64) {
	if o == market.Yes {
		p.YesShares += qty
	} else {
		p.NoShares += qty
	}
}

// Empty reports whether nothing is left to claim or zero out
func (p *Position) Empty() bool {
	return p.YesShares == 0 && p.NoShares == 0 && p.Locked == 0 && p.Proceeds == 0
}

func (p *Position) zero() {
	p.YesShares = 0
	p.NoShares = 0
	p.Proceeds = 0
	p.FeesOwed = 0
	p.Locked = 0
	p.Claimed = true
}

// Payout describes what a claim returned
type Payout struct {
	Winnings int64 // winning shares × BpsDenominator
	Proceeds int64 // sale proceeds net of fees
	Total    int64
}
