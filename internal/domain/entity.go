package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SimulationRun represents one completed scenario pass and its headline metrics
type SimulationRun struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Label           string    `json:"label" gorm:"index"` // "baseline", "cyberbullying"
	Seed            uint64    `json:"seed"`
	Steps           int       `json:"steps"`
	BullyingEnabled bool      `json:"bullying_enabled"`
	FundamentalEnd  float64   `json:"fundamental_end"` // Fundamental price at the last step
	FinalPrice      float64   `json:"final_price"`
	Volatility      float64   `json:"volatility"`       // Annualized from log returns
	PriceDeviation  float64   `json:"price_deviation"`  // Mean |price - fundamental| / fundamental
	ReturnAutocorr  float64   `json:"return_autocorr"`  // Lag-1 autocorrelation of log returns
	MeanSpread      float64   `json:"mean_spread"`      // Mean bid-ask spread over steps with both quotes
	MeanDepth       float64   `json:"mean_depth"`       // Mean resting orders per step, both sides
	Illiquidity     float64   `json:"illiquidity"`      // Amihud: mean |return| / volume
	GiniInitial     float64   `json:"gini_initial"`
	GiniFinal       float64   `json:"gini_final"`
	TradeCount      int       `json:"trade_count"`
	TotalVolume     int64     `json:"total_volume"`
	BulliedCount    int       `json:"bullied_count"` // Agents in the bullied state at the end
	CreatedAt       time.Time `json:"created_at"`
}

// TradeRecord is one executed trade, keyed to its run for offline analysis
type TradeRecord struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	RunID       uint    `gorm:"index" json:"run_id"`
	Step        int     `json:"step"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	BuyOrderID  int64   `json:"buy_order_id"`
	SellOrderID int64   `json:"sell_order_id"`
	BuyerID     int     `json:"buyer_id"`
	SellerID    int     `json:"seller_id"`
}

// WealthSummary aggregates wealth for one agent group within a run
type WealthSummary struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	RunID       uint            `gorm:"index" json:"run_id"`
	Group       string          `gorm:"index" json:"group"` // "retail", "institutional", "bullied", "non_bullied"
	Traders     int             `json:"traders"`
	InitialMean decimal.Decimal `gorm:"type:decimal(30,10)" json:"initial_mean"`
	FinalMean   decimal.Decimal `gorm:"type:decimal(30,10)" json:"final_mean"`
	ChangePct   decimal.Decimal `gorm:"type:decimal(30,10)" json:"change_pct"`
}
