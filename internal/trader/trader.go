package trader

import (
	"math"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/orderbook"
	"abmarket/internal/social"
)

// Profile carries the endowment and strategy weights shared by both agent
// populations. Cash is decimal because settlement must be exact; the
// decision heuristics themselves run on float64 like the price math.
type Profile struct {
	id   int
	kind domain.TraderKind

	cash  decimal.Decimal
	stock int

	g1  float64 // fundamentalist weight
	g2  float64 // chartist weight
	n   float64 // noise weight
	tau float64 // investment horizon in steps

	refTauF       float64
	emotionWeight float64

	state *social.State
	rng   *rand.Rand
	seq   *orderbook.Sequence
}

// newProfile draws the endowment and weights: stock uniform on
// [0.1*max, max), cash worth the stock at the fundamental price, strategy
// weights exponential with the configured scales.
func newProfile(id int, kind domain.TraderKind, cfg infra.AgentsConfig, params infra.TraderParams, fundamentalPrice float64, rng *rand.Rand, seq *orderbook.Sequence) *Profile {
	stockMax := float64(params.InitialStockMax)
	stock := int(0.1*stockMax + rng.Float64()*0.9*stockMax)

	g1 := rng.ExpFloat64() * params.FundamentalSigma
	g2 := rng.ExpFloat64() * params.ChartistSigma
	n := rng.ExpFloat64() * params.NoiseSigma

	return &Profile{
		id:            id,
		kind:          kind,
		cash:          decimal.NewFromFloat(fundamentalPrice).Mul(decimal.NewFromInt(int64(stock))),
		stock:         stock,
		g1:            g1,
		g2:            g2,
		n:             n,
		tau:           cfg.ReferenceTauF / (1 + g1/(1+g2)),
		refTauF:       cfg.ReferenceTauF,
		emotionWeight: rng.ExpFloat64() * cfg.EmotionWeightSigma,
		state: &social.State{
			ID:          id,
			EmotionBias: rng.NormFloat64() * cfg.EmotionInitialBias,
		},
		rng: rng,
		seq: seq,
	}
}

func (p *Profile) ID() int                 { return p.id }
func (p *Profile) Kind() domain.TraderKind { return p.kind }
func (p *Profile) Cash() decimal.Decimal   { return p.cash }
func (p *Profile) Position() int           { return p.stock }
func (p *Profile) Bullied() bool           { return p.state.Bullied }

// Social exposes the contagion-side state for network wiring.
func (p *Profile) Social() *social.State { return p.state }

// Wealth is cash plus the position marked at the given price.
func (p *Profile) Wealth(price float64) decimal.Decimal {
	return p.cash.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(p.stock))))
}

// ApplyFill settles one trade from this agent's side. Cash and position
// are floored at zero, matching the clearing rule of the step loop.
func (p *Profile) ApplyFill(side orderbook.Side, qty int, price float64) {
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty)))
	if side == orderbook.Buy {
		p.cash = p.cash.Sub(value)
		p.stock += qty
	} else {
		p.cash = p.cash.Add(value)
		p.stock -= qty
	}
	if p.cash.IsNegative() {
		p.cash = decimal.Zero
	}
	if p.stock < 0 {
		p.stock = 0
	}
}

// expectedReturn blends the fundamentalist pull, the chartist trend, the
// noise term and the emotional bias, normalized by the total weight.
func (p *Profile) expectedReturn(snap *domain.MarketSnapshot, trend, epsilon float64) float64 {
	bias := p.emotionWeight * p.state.EmotionBias
	weighted := (p.g1/p.refTauF)*math.Log(snap.FundamentalPrice/snap.LastPrice) +
		p.g2*trend + p.n*epsilon + bias
	return weighted / (p.g1 + p.g2 + p.n + 1e-6)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
