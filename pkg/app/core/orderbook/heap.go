package orderbook

import "container/heap"

// priceHeap implements heap.Interface over distinct price levels.
// desc=true keeps the highest price on top (bids), false the lowest (asks).
// Use container/heap to manipulate it (Init, Push, Pop, Remove).
type priceHeap struct {
	prices []int64
	desc   bool
}

func newPriceHeap(desc bool) *priceHeap {
	h := &priceHeap{desc: desc}
	heap.Init(h)
	return h
}

func (h priceHeap) Len() int { return len(h.prices) }
func (h priceHeap) Less(i, j int) bool {
	if h.desc {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}
func (h priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x any) {
	h.prices = append(h.prices, x.(int64))
}

func (h *priceHeap) Pop() any {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[:n-1]
	return x
}

// peek returns the best price without removing it
func (h *priceHeap) peek() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

// remove drops a price level (O(N) scan, only on emptied levels)
func (h *priceHeap) remove(price int64) {
	for i, p := range h.prices {
		if p == price {
			heap.Remove(h, i)
			return
		}
	}
}
