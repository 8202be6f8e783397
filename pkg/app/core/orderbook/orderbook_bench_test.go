package orderbook

import (
	"math/rand"
	"testing"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/market"
)

// seedBook rests 100 bid levels below 4500 and 100 ask levels above 5500
func seedBook() *MarketBook {
	mb := NewMarketBook()
	for i := int64(0); i < 100; i++ {
		rest(mb, alice, Buy, 4500-i, 100, t0)
		rest(mb, bob, Sell, 5500+i, 100, t0)
	}
	return mb
}

// BenchmarkMatchCrossing measures a taker that fills against the best level
func BenchmarkMatchCrossing(b *testing.B) {
	mb := seedBook()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side, price := Buy, int64(5500)
		if i%2 == 0 {
			side, price = Sell, 4500
		}
		taker := mb.NewOrder(carol, side, market.Yes, price, 1, t0)
		mb.Match(taker, 64, t0)
		// replenish the consumed liquidity so depth stays constant
		maker := mb.NewOrder(alice, -side, market.Yes, price, 1, t0)
		mb.Rest(maker)
	}
}

// BenchmarkRestAndCancel measures resting a non-crossing order and cancelling it
func BenchmarkRestAndCancel(b *testing.B) {
	mb := seedBook()
	r := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o := mb.NewOrder(carol, Buy, market.Yes, 4000+r.Int63n(400), 5, t0)
		mb.Rest(o)
		mb.Cancel(o)
	}
}

func BenchmarkDepthSnapshot(b *testing.B) {
	mb := seedBook()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mb.BidLevels(market.Yes, 20)
		mb.AskLevels(market.Yes, 20)
	}
}
