package domain

// MarketSnapshot is the read-only market view handed to every agent at
// decision time. Quote pointers are nil when the corresponding book side
// is empty.
type MarketSnapshot struct {
	LastPrice        float64   `json:"last_price"`
	FundamentalPrice float64   `json:"fundamental_price"`
	LogReturns       []float64 `json:"-"`
	BestBid          *float64  `json:"best_bid,omitempty"`
	BestAsk          *float64  `json:"best_ask,omitempty"`
}

// ReturnsWindow returns the last n log returns, or the full history when
// fewer than n have accumulated.
func (s *MarketSnapshot) ReturnsWindow(n int) []float64 {
	if n <= 0 || len(s.LogReturns) == 0 {
		return nil
	}
	if n > len(s.LogReturns) {
		n = len(s.LogReturns)
	}
	return s.LogReturns[len(s.LogReturns)-n:]
}
