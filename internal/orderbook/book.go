// Package orderbook implements a single-asset limit order book with
// price-time priority matching, the core of the market simulation.
package orderbook

import (
	"fmt"
	"log/slog"
	"sync"
)

// Trade is one fill between an initiating order and a resting limit
// order. Both the order ids and the trader ids are recorded: the book
// matches orders, settlement needs owners.
type Trade struct {
	BuyOrderID  int64
	SellOrderID int64
	Buyer       int // trader id on the buy side
	Seller      int // trader id on the sell side
	Price       float64
	Quantity    int
	Step        int
}

// Book holds both sides of the market and the chronological trade log.
// Every operation runs under a single lock: fills mutate resting orders
// in place, so finer-grained locking cannot keep price-time priority
// and the tombstone discipline sound.
type Book struct {
	mu     sync.Mutex
	seq    *Sequence
	bids   halfBook
	asks   halfBook
	trades []Trade
}

// NewBook creates an empty book drawing order ids from seq.
func NewBook(seq *Sequence) *Book {
	return &Book{
		seq:  seq,
		bids: halfBook{side: Buy},
		asks: halfBook{side: Sell},
	}
}

// Submit places a limit order on its side of the book or sweeps a
// market order against the opposite side.
//
// Limit orders rest exactly as given: the book never matches two
// resting limits against each other, even when their prices cross.
// Deciding that a crossing limit should trade immediately, and
// reclassifying it as a market order, is the caller's job before
// submission.
func (b *Book) Submit(o *Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submit(o)
}

func (b *Book) submit(o *Order) error {
	switch o.Type {
	case Limit:
		b.sideFor(o.Side).pushOrder(o)
		return nil
	case Market:
		return b.matchMarket(o)
	default:
		return fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, int(o.Type))
	}
}

func (b *Book) sideFor(s Side) *halfBook {
	if s == Buy {
		return &b.bids
	}
	return &b.asks
}

// matchMarket sweeps the opposite side until the order fills, liquidity
// runs out, or the next resting price falls outside the initiator's
// bound. Fills always execute at the resting order's price. Whatever
// remains unfilled converts into a fresh limit order at the bound.
func (b *Book) matchMarket(o *Order) error {
	opp := b.sideFor(o.Side.Opposite())
	if _, ok := opp.best(); !ok {
		slog.Debug("market order found no liquidity",
			slog.Int64("order_id", o.ID), slog.String("side", o.Side.String()))
		return nil
	}

	remaining := o.Quantity
	for remaining > 0 && opp.Len() > 0 {
		top := opp.popOrder()
		if !top.IsPending() || top.Quantity <= 0 {
			continue // stale entry, drop it
		}
		if !o.accepts(top.Price) {
			// The bound failed but the resting order is still live; it
			// stays in the book.
			opp.pushOrder(top)
			break
		}

		qty := min(remaining, top.Quantity)
		price := top.Price
		o.Execute(price, o.SubmittedStep, qty)
		top.Execute(price, o.SubmittedStep, qty)
		remaining -= qty

		b.trades = append(b.trades, newTrade(o, top, price, qty))

		if top.Quantity > 0 {
			opp.pushOrder(top)
		}
	}

	if remaining > 0 {
		leftover, err := NewLimitOrder(b.seq, o.TraderID, o.Side, remaining, o.Price, o.SubmittedStep, o.MaxWait)
		if err != nil {
			return err
		}
		slog.Debug("market order remainder resting as limit",
			slog.Int64("from", o.ID), slog.Int64("to", leftover.ID),
			slog.Int("qty", remaining), slog.Float64("price", o.Price))
		return b.submit(leftover)
	}
	return nil
}

func newTrade(initiator, resting *Order, price float64, qty int) Trade {
	t := Trade{Price: price, Quantity: qty, Step: initiator.SubmittedStep}
	if initiator.Side == Buy {
		t.BuyOrderID, t.Buyer = initiator.ID, initiator.TraderID
		t.SellOrderID, t.Seller = resting.ID, resting.TraderID
	} else {
		t.BuyOrderID, t.Buyer = resting.ID, resting.TraderID
		t.SellOrderID, t.Seller = initiator.ID, initiator.TraderID
	}
	return t
}

// BestBid returns the highest price among live resting bids.
func (b *Book) BestBid() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.best()
}

// BestAsk returns the lowest price among live resting asks.
func (b *Book) BestAsk() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asks.best()
}

// Snapshot is a point-in-time view of the book edges. Depths count raw
// entries per side; stale entries not yet discarded are included, so
// the counts are upper bounds on live orders.
type Snapshot struct {
	BestBid   *float64
	BestAsk   *float64
	BuyDepth  int
	SellDepth int
}

// Snapshot returns the current best quotes and per-side depths.
func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var snap Snapshot
	if bid, ok := b.bids.best(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := b.asks.best(); ok {
		snap.BestAsk = &ask
	}
	snap.BuyDepth = b.bids.Len()
	snap.SellDepth = b.asks.Len()
	return snap
}

// CancelTimedOut removes every resting order that has waited past its
// MaxWait as of the given step and returns the cancelled orders. The
// driver runs this once at the top of each simulated step, before any
// new submissions.
func (b *Book) CancelTimedOut(current int) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	cancelled := b.bids.reap(current)
	cancelled = append(cancelled, b.asks.reap(current)...)
	if len(cancelled) > 0 {
		slog.Debug("resting orders timed out",
			slog.Int("count", len(cancelled)), slog.Int("step", current))
	}
	return cancelled
}

// Trades returns a copy of the full trade log in execution order.
func (b *Book) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// TradesSince returns the fills logged at index n and later. Callers
// record TradeCount before a submission to observe just its fills.
func (b *Book) TradesSince(n int) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= len(b.trades) {
		return nil
	}
	out := make([]Trade, len(b.trades)-n)
	copy(out, b.trades[n:])
	return out
}

// TradeCount returns the number of fills so far.
func (b *Book) TradeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}

// LastTradePrice returns the price of the most recent fill.
func (b *Book) LastTradePrice() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.trades) == 0 {
		return 0, false
	}
	return b.trades[len(b.trades)-1].Price, true
}

// Reset clears both sides and the trade log. Order ids keep increasing
// across a reset.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.clear()
	b.asks.clear()
	b.trades = nil
}
