package market

import (
	"fmt"
	"time"
)

// Params holds the per-market trading and settlement knobs.
// Copied into the Market at creation so later config changes never affect live markets.
type Params struct {
	// Trading fee owed by the seller on every fill (basis points of P×A).
	// Deducted from sale proceeds at resolution; forgiven if the market is refunded.
	TradingFeeBps int64 `json:"tradingFeeBps"`

	// Minimum order size in shares
	MinOrderSize int64 `json:"minOrderSize"`

	// Upper bound on fills produced by one PlaceOrder call
	MaxMatchesPerOrder int `json:"maxMatchesPerOrder"`

	// How long after the deadline the oracle may still answer before the market becomes Refundable
	ResolutionGrace time.Duration `json:"resolutionGrace"`

	// Answers below this confidence are treated as not ready
	MinOracleConfidence uint8 `json:"minOracleConfidence"`
}

// DefaultParams mirrors a small binary market:
// 0.5% fee, single-share minimum, 64 fills per call, one day of grace
var DefaultParams = Params{
	TradingFeeBps:       50,
	MinOrderSize:        1,
	MaxMatchesPerOrder:  64,
	ResolutionGrace:     24 * time.Hour,
	MinOracleConfidence: 0,
}

// Validate checks parameter sanity
func (p Params) Validate() error {
	if p.TradingFeeBps < 0 || p.TradingFeeBps >= BpsDenominator {
		return fmt.Errorf("trading fee must be in [0, %d) bps: %d", BpsDenominator, p.TradingFeeBps)
	}
	if p.MinOrderSize <= 0 {
		return fmt.Errorf("min order size must be positive")
	}
	if p.MaxMatchesPerOrder <= 0 {
		return fmt.Errorf("max matches per order must be positive")
	}
	if p.ResolutionGrace < 0 {
		return fmt.Errorf("resolution grace cannot be negative")
	}
	if p.MinOracleConfidence > 100 {
		return fmt.Errorf("min oracle confidence is a percentage: %d", p.MinOracleConfidence)
	}
	return nil
}

// ValidPrice reports whether a limit price lies strictly inside (0, BpsDenominator)
func ValidPrice(priceBps int64) bool {
	return priceBps > 0 && priceBps < BpsDenominator
}
