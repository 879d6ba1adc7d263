package domain

import (
	"abmarket/internal/orderbook"

	"github.com/shopspring/decimal"
)

// TraderKind distinguishes the agent populations for sizing and reporting
type TraderKind string

const (
	KindRetail        TraderKind = "retail"
	KindInstitutional TraderKind = "institutional"
)

// Trader defines the interface the market driver works against. Decide may
// return (nil, nil) when the agent chooses not to trade this step.
type Trader interface {
	ID() int
	Kind() TraderKind

	// Decide produces at most one order from the agent's view of the market.
	Decide(step int, snap *MarketSnapshot) (*orderbook.Order, error)

	// ApplyFill settles one trade from this agent's side of it.
	ApplyFill(side orderbook.Side, qty int, price float64)

	Cash() decimal.Decimal
	Position() int

	// Wealth is cash plus position marked at the given price.
	Wealth(price float64) decimal.Decimal

	// Bullied reports whether the agent is currently in the bullied state.
	// Agents outside the social network always return false.
	Bullied() bool
}
