package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	ev:{market}:{seq}             → Event (seq zero-padded, per-market journal)
//	fill:{market}:{ts}:{seq}      → Fill record (ts unix nanos, zero-padded)
//	mkt:{market}                  → MarketRecord (latest lifecycle snapshot)
//	bal:{address}                 → wallet balance
const (
	prefixEvent   = "ev:"
	prefixFill    = "fill:"
	prefixMarket  = "mkt:"
	prefixBalance = "bal:"
)

// eventKey returns the key for a journal entry
// Format: "ev:{market}:{seq}"
func eventKey(marketID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixEvent, marketID, seq))
}

// eventPrefix returns the prefix for one market's journal
func eventPrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEvent, marketID))
}

// fillKey returns the key for a fill
// Format: "fill:{market}:{ts}:{seq}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func fillKey(marketID string, ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixFill, marketID, ts, seq))
}

func fillPrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, marketID))
}

func marketKey(marketID string) []byte {
	return []byte(prefixMarket + marketID)
}

func balanceKey(addr common.Address) []byte {
	return []byte(prefixBalance + addr.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ev:m1:" -> upper bound "ev:m1;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// addressFromBalanceKey is the inverse of balanceKey
func addressFromBalanceKey(key []byte) (common.Address, error) {
	if len(key) < len(prefixBalance)+42 { // 42 = "0x" + 40 hex chars
		return common.Address{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	addrHex := string(key[len(prefixBalance):])
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", addrHex)
	}
	return common.HexToAddress(addrHex), nil
}
