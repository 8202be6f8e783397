package predict

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

// Config holds the engine-wide fees and the params copied into every new market
type Config struct {
	// Kept in the market's fee sink at creation (collateral units)
	CreationFee int64

	// Forwarded to the oracle's payee at creation
	OracleFee int64

	// Only this address may withdraw accrued fees
	FeeOwner common.Address

	// Per-market params for new markets
	Params market.Params
}

// DefaultConfig returns dev defaults: 1.0 creation fee, 0.5 oracle fee
func DefaultConfig() Config {
	return Config{
		CreationFee: 10000,
		OracleFee:   5000,
		Params:      market.DefaultParams,
	}
}

// Validate checks config sanity
func (c Config) Validate() error {
	if c.CreationFee < 0 {
		return fmt.Errorf("creation fee cannot be negative: %d", c.CreationFee)
	}
	if c.OracleFee < 0 {
		return fmt.Errorf("oracle fee cannot be negative: %d", c.OracleFee)
	}
	return c.Params.Validate()
}

// MarketFee is the total payment required to create a market
func (c Config) MarketFee() int64 { return c.CreationFee + c.OracleFee }
