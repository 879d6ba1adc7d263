package orderbook

import "container/heap"

// halfBook is one side of the book: a price-time priority queue backed
// by container/heap. Bids rank the highest price first, asks the
// lowest; at equal prices the lower order id (earlier arrival) wins.
type halfBook struct {
	side   Side
	orders []*Order
}

func (h *halfBook) Len() int { return len(h.orders) }

func (h *halfBook) Less(i, j int) bool {
	a, b := h.orders[i], h.orders[j]
	if a.Price != b.Price {
		if h.side == Buy {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	return a.ID < b.ID
}

func (h *halfBook) Swap(i, j int) { h.orders[i], h.orders[j] = h.orders[j], h.orders[i] }

func (h *halfBook) Push(x any) { h.orders = append(h.orders, x.(*Order)) }

func (h *halfBook) Pop() any {
	old := h.orders
	n := len(old)
	o := old[n-1]
	old[n-1] = nil
	h.orders = old[:n-1]
	return o
}

func (h *halfBook) pushOrder(o *Order) { heap.Push(h, o) }

func (h *halfBook) popOrder() *Order { return heap.Pop(h).(*Order) }

// best discards dead entries off the top until a live resting order
// surfaces, then returns its price. Orders mutated in place by fills or
// timeouts leave stale entries behind; this is where they get dropped.
func (h *halfBook) best() (float64, bool) {
	for h.Len() > 0 {
		top := h.orders[0]
		if top.IsPending() && top.Quantity > 0 {
			return top.Price, true
		}
		heap.Pop(h)
	}
	return 0, false
}

// reap removes every entry whose order has timed out as of the given
// step and restores the heap invariant over the survivors.
func (h *halfBook) reap(current int) []*Order {
	var removed []*Order
	kept := h.orders[:0]
	for _, o := range h.orders {
		if o.CheckTimeout(current) {
			removed = append(removed, o)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(h.orders); i++ {
		h.orders[i] = nil
	}
	h.orders = kept
	heap.Init(h)
	return removed
}

func (h *halfBook) clear() { h.orders = nil }
