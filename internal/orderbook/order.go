package orderbook

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Opposite returns the side a matching order would rest on.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes immediate execution from resting orders.
type OrderType int

const (
	Market OrderType = iota
	Limit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

// Status is the lifecycle state of an order. Pending is the only
// non-terminal state; Executed and Cancelled are final, and an order
// never moves between the two.
type Status int

const (
	Pending Status = iota
	Executed
	Cancelled
)

func (st Status) String() string {
	switch st {
	case Pending:
		return "PENDING"
	case Executed:
		return "EXECUTED"
	case Cancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("Status(%d)", int(st))
}

// ErrInvalidOrder is returned when construction parameters violate the
// order constraints.
var ErrInvalidOrder = errors.New("invalid order")

// Sequence hands out strictly increasing order ids. One instance is
// shared by a book and the agents feeding it, so ids stay unique per
// engine and independent books never leak ids into each other.
type Sequence struct {
	n atomic.Int64
}

// NewSequence creates a generator starting at id 1.
func NewSequence() *Sequence { return &Sequence{} }

// Next returns the next order id.
func (s *Sequence) Next() int64 { return s.n.Add(1) }

// Order is a single instruction to trade. Identity and terms are fixed
// at construction; Quantity and Status mutate as the book fills or
// expires it. The id doubles as the time-priority tie break: lower id
// means earlier arrival.
type Order struct {
	ID       int64
	TraderID int
	Side     Side
	Type     OrderType

	// Price is the limit price for Limit orders. Market orders carry it
	// too, as the worst price the sweep may fill at.
	Price float64

	Quantity      int // remaining, decremented on partial fills
	SubmittedStep int
	MaxWait       int // steps the order may rest before it times out

	Status        Status
	ExecutedPrice float64
	ExecutedStep  int
}

// NewLimitOrder creates a resting order at the given price.
func NewLimitOrder(seq *Sequence, traderID int, side Side, qty int, price float64, step, maxWait int) (*Order, error) {
	return newOrder(seq, traderID, side, Limit, qty, price, step, maxWait)
}

// NewMarketOrder creates an order that executes immediately against the
// opposite side. The price is not a quote: it bounds how far into the
// book the sweep may reach.
func NewMarketOrder(seq *Sequence, traderID int, side Side, qty int, bound float64, step, maxWait int) (*Order, error) {
	return newOrder(seq, traderID, side, Market, qty, bound, step, maxWait)
}

func newOrder(seq *Sequence, traderID int, side Side, typ OrderType, qty int, price float64, step, maxWait int) (*Order, error) {
	if side != Buy && side != Sell {
		return nil, fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, int(side))
	}
	if typ != Market && typ != Limit {
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidOrder, int(typ))
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %d, want > 0", ErrInvalidOrder, qty)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price %v, want > 0", ErrInvalidOrder, price)
	}
	if maxWait < 0 {
		return nil, fmt.Errorf("%w: max wait %d, want >= 0", ErrInvalidOrder, maxWait)
	}
	return &Order{
		ID:            seq.Next(),
		TraderID:      traderID,
		Side:          side,
		Type:          typ,
		Price:         price,
		Quantity:      qty,
		SubmittedStep: step,
		MaxWait:       maxWait,
		Status:        Pending,
	}, nil
}

// Execute applies a fill at the given price. Partial fills keep the
// order Pending; it turns Executed once nothing remains.
func (o *Order) Execute(price float64, step, fillQty int) {
	o.ExecutedPrice = price
	o.ExecutedStep = step
	o.Quantity -= fillQty
	if o.Quantity <= 0 {
		o.Status = Executed
	}
}

// CheckTimeout cancels the order once it has rested for more than
// MaxWait steps. Calling it again on a cancelled order keeps reporting
// true without further effect. Executed orders are final and report
// false.
func (o *Order) CheckTimeout(current int) bool {
	switch o.Status {
	case Executed:
		return false
	case Cancelled:
		return true
	}
	if current-o.SubmittedStep > o.MaxWait {
		o.Status = Cancelled
		return true
	}
	return false
}

// IsExecutable reports whether the order would trade against the given
// best quotes. A query helper only: submission never consults it.
func (o *Order) IsExecutable(bestBid, bestAsk *float64) bool {
	if o.Type == Market {
		return true
	}
	switch o.Side {
	case Buy:
		return bestAsk != nil && o.Price >= *bestAsk
	case Sell:
		return bestBid != nil && o.Price <= *bestBid
	}
	return false
}

// IsPending reports whether the order can still rest or fill.
func (o *Order) IsPending() bool { return o.Status == Pending }

// accepts reports whether a resting price satisfies this initiator's
// bound: a buyer pays at most its price, a seller receives at least.
func (o *Order) accepts(restingPrice float64) bool {
	if o.Side == Buy {
		return restingPrice <= o.Price
	}
	return restingPrice >= o.Price
}

func (o *Order) String() string {
	return fmt.Sprintf("order %d trader=%d %s %s qty=%d price=%.2f status=%s step=%d",
		o.ID, o.TraderID, o.Side, o.Type, o.Quantity, o.Price, o.Status, o.SubmittedStep)
}
