package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/orderbook"
	"abmarket/internal/social"
)

// Tick is the per-step state pushed to observers after each step
// completes.
type Tick struct {
	Step         int      `json:"step"`
	Price        float64  `json:"price"`
	Fundamental  float64  `json:"fundamental"`
	BestBid      *float64 `json:"best_bid"`
	BestAsk      *float64 `json:"best_ask"`
	TradeCount   int      `json:"trade_count"`
	Volume       int      `json:"volume"`
	BulliedCount int      `json:"bullied_count"`
}

// Market is the single-threaded step driver. Each step it reaps expired
// orders, moves the fundamental, runs the contagion pass, activates
// agents against the book and settles their fills. This MUST be driven
// from a single goroutine; only the book underneath is locked.
type Market struct {
	cfg    infra.MarketConfig
	book   *orderbook.Book
	agents []domain.Trader
	byID   map[int]domain.Trader
	social *social.Model
	rng    *rand.Rand

	fundamental        float64
	fundamentalHistory []float64
	priceHistory       []float64
	logReturns         []float64

	spreads []float64
	depths  []float64
	volumes []float64

	currentTime int

	// Boundary: notifies observers (stream hub, collectors) per step.
	onTick func(Tick)
}

// New creates a market over the given book and agent population. The
// social model may be nil when contagion is disabled; onTick may be nil
// when nobody observes.
func New(cfg infra.MarketConfig, book *orderbook.Book, agents []domain.Trader, model *social.Model, rng *rand.Rand, onTick func(Tick)) (*Market, error) {
	switch cfg.Mode {
	case infra.ModeSingleAgent, infra.ModePartialAgents, infra.ModeAllAgents:
	default:
		return nil, fmt.Errorf("market mode %q: %w", cfg.Mode, domain.ErrUnknownMode)
	}
	byID := make(map[int]domain.Trader, len(agents))
	for _, a := range agents {
		byID[a.ID()] = a
	}
	return &Market{
		cfg:                cfg,
		book:               book,
		agents:             agents,
		byID:               byID,
		social:             model,
		rng:                rng,
		fundamental:        cfg.FundamentalPrice,
		fundamentalHistory: []float64{cfg.FundamentalPrice},
		onTick:             onTick,
	}, nil
}

// Run advances the market for the configured number of steps, checking
// for cancellation between steps.
func (m *Market) Run(ctx context.Context) error {
	slog.Info("market run starting",
		slog.Int("steps", m.cfg.MaxTimesteps),
		slog.Int("agents", len(m.agents)),
		slog.String("mode", m.cfg.Mode))

	for i := 0; i < m.cfg.MaxTimesteps; i++ {
		select {
		case <-ctx.Done():
			slog.Info("market run cancelled", slog.Int("completed_steps", i))
			return ctx.Err()
		default:
		}
		start := time.Now()
		m.Step()
		infra.GlobalMetrics.RecordStep(time.Since(start).Nanoseconds())
	}

	slog.Info("market run finished",
		slog.Int("steps", m.currentTime),
		slog.Int("trades", m.book.TradeCount()),
		slog.Float64("final_price", m.lastPrice()))
	return nil
}

// Step runs one simulated step. The order of phases is fixed: expiry,
// fundamental move, contagion, agent activation, history update.
func (m *Market) Step() {
	if cancelled := m.book.CancelTimedOut(m.currentTime); len(cancelled) > 0 {
		infra.GlobalMetrics.RecordTimeouts(len(cancelled))
	}

	m.advanceFundamental()

	if m.social != nil {
		m.social.Propagate()
	}

	if len(m.agents) == 0 {
		return
	}

	tradesBefore := m.book.TradeCount()
	switch m.cfg.Mode {
	case infra.ModeSingleAgent:
		m.processAgent(m.agents[m.rng.IntN(len(m.agents))])
	case infra.ModePartialAgents:
		n := int(float64(len(m.agents)) * m.cfg.ActivationRatio)
		if n < 1 {
			n = 1
		}
		for _, idx := range m.rng.Perm(len(m.agents))[:n] {
			m.processAgent(m.agents[idx])
		}
	case infra.ModeAllAgents:
		for _, a := range m.agents {
			m.processAgent(a)
		}
	}

	m.updatePriceHistory()
	m.recordDepthAndSpread()

	stepTrades := m.book.TradesSince(tradesBefore)
	volume := 0
	for _, tr := range stepTrades {
		volume += tr.Quantity
	}
	m.volumes = append(m.volumes, float64(volume))

	m.currentTime++

	if m.onTick != nil {
		m.onTick(m.tick(len(stepTrades), volume))
	}
}

// advanceFundamental moves the fundamental price one geometric Brownian
// step and extends its history.
func (m *Market) advanceFundamental() {
	vol := m.cfg.FundamentalVolatility
	drift := m.cfg.FundamentalDrift - 0.5*vol*vol
	m.fundamental *= math.Exp(drift + vol*m.rng.NormFloat64())
	m.fundamentalHistory = append(m.fundamentalHistory, m.fundamental)
}

// processAgent asks one agent for a decision, submits it and settles the
// resulting fills. Decision and submission failures are logged and
// counted, never fatal to the step.
func (m *Market) processAgent(a domain.Trader) {
	order, err := a.Decide(m.currentTime, m.snapshot())
	if err != nil {
		slog.Warn("agent decision failed",
			slog.Int("trader", a.ID()),
			slog.Any("error", &domain.SimulationError{Step: m.currentTime, Op: "decide", Err: err}))
		infra.GlobalMetrics.RecordOrderRejected()
		return
	}
	if order == nil {
		return
	}

	mark := m.book.TradeCount()
	if err := m.book.Submit(order); err != nil {
		slog.Warn("order rejected",
			slog.Int("trader", a.ID()), slog.Int64("order_id", order.ID),
			slog.Any("error", &domain.SimulationError{Step: m.currentTime, Op: "submit", Err: err}))
		infra.GlobalMetrics.RecordOrderRejected()
		return
	}
	infra.GlobalMetrics.RecordOrderSubmitted()

	m.settle(m.book.TradesSince(mark))
}

// settle applies each fill to both owners. Unknown trader ids are
// skipped; ids in the book always come from submissions, so a miss means
// the agent set changed mid-run.
func (m *Market) settle(trades []orderbook.Trade) {
	for _, tr := range trades {
		if buyer, ok := m.byID[tr.Buyer]; ok {
			buyer.ApplyFill(orderbook.Buy, tr.Quantity, tr.Price)
		}
		if seller, ok := m.byID[tr.Seller]; ok {
			seller.ApplyFill(orderbook.Sell, tr.Quantity, tr.Price)
		}
		infra.GlobalMetrics.RecordTrade(tr.Quantity)
	}
}

// snapshot assembles the market view handed to deciding agents. The last
// price falls back to the midquote, then to the fundamental, while no
// trade has printed yet.
func (m *Market) snapshot() *domain.MarketSnapshot {
	bs := m.book.Snapshot()
	last := m.fundamental
	if n := len(m.priceHistory); n > 0 {
		last = m.priceHistory[n-1]
	} else if bs.BestBid != nil && bs.BestAsk != nil {
		last = (*bs.BestBid + *bs.BestAsk) / 2
	}
	return &domain.MarketSnapshot{
		LastPrice:        last,
		FundamentalPrice: m.fundamental,
		LogReturns:       m.logReturns,
		BestBid:          bs.BestBid,
		BestAsk:          bs.BestAsk,
	}
}

// updatePriceHistory appends the latest trade price once any trade has
// ever printed. Steps without new trades repeat the last print, which
// records a zero return.
func (m *Market) updatePriceHistory() {
	price, ok := m.book.LastTradePrice()
	if !ok {
		return
	}
	m.priceHistory = append(m.priceHistory, price)
	if n := len(m.priceHistory); n >= 2 {
		m.logReturns = append(m.logReturns, math.Log(m.priceHistory[n-1]/m.priceHistory[n-2]))
	}
}

func (m *Market) recordDepthAndSpread() {
	bs := m.book.Snapshot()
	if bs.BestBid != nil && bs.BestAsk != nil {
		m.spreads = append(m.spreads, *bs.BestAsk-*bs.BestBid)
	}
	m.depths = append(m.depths, float64(bs.BuyDepth+bs.SellDepth))
}

func (m *Market) tick(trades, volume int) Tick {
	bs := m.book.Snapshot()
	t := Tick{
		Step:        m.currentTime,
		Price:       m.lastPrice(),
		Fundamental: m.fundamental,
		BestBid:     bs.BestBid,
		BestAsk:     bs.BestAsk,
		TradeCount:  trades,
		Volume:      volume,
	}
	for _, a := range m.agents {
		if a.Bullied() {
			t.BulliedCount++
		}
	}
	return t
}

func (m *Market) lastPrice() float64 {
	if n := len(m.priceHistory); n > 0 {
		return m.priceHistory[n-1]
	}
	return m.fundamental
}

// FinalPrice returns the last printed price, or the current fundamental
// if nothing ever traded.
func (m *Market) FinalPrice() float64 { return m.lastPrice() }

// Fundamental returns the current fundamental price.
func (m *Market) Fundamental() float64 { return m.fundamental }

// CurrentStep returns the number of completed steps.
func (m *Market) CurrentStep() int { return m.currentTime }

// Book exposes the underlying order book for persistence and analysis.
func (m *Market) Book() *orderbook.Book { return m.book }

// PriceHistory returns a copy of the printed price series.
func (m *Market) PriceHistory() []float64 { return copyFloats(m.priceHistory) }

// LogReturns returns a copy of the per-step log return series.
func (m *Market) LogReturns() []float64 { return copyFloats(m.logReturns) }

// FundamentalHistory returns a copy of the fundamental series, starting
// at the initial value.
func (m *Market) FundamentalHistory() []float64 { return copyFloats(m.fundamentalHistory) }

// Spreads returns a copy of the recorded bid-ask spreads, one entry per
// step on which both sides were quoted.
func (m *Market) Spreads() []float64 { return copyFloats(m.spreads) }

// Depths returns a copy of the per-step total book depth.
func (m *Market) Depths() []float64 { return copyFloats(m.depths) }

// Volumes returns a copy of the per-step traded volume.
func (m *Market) Volumes() []float64 { return copyFloats(m.volumes) }

func copyFloats(xs []float64) []float64 {
	if xs == nil {
		return nil
	}
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}
