package trader

import (
	"math"
	"math/rand/v2"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/orderbook"
)

// Retail is the small-trader population. Retail agents run the blended
// fundamentalist-chartist-noise heuristic, are the only agents wired into
// the social network, and degrade when bullied: suppressed participation,
// amplified noise and inflated order sizes.
type Retail struct {
	*Profile
	noiseStd     float64
	bullyAmplify float64
}

var _ domain.Trader = (*Retail)(nil)

// NewRetail draws a retail agent from the retail parameter block.
func NewRetail(id int, cfg infra.AgentsConfig, fundamentalPrice float64, rng *rand.Rand, seq *orderbook.Sequence) *Retail {
	return &Retail{
		Profile:      newProfile(id, domain.KindRetail, cfg, cfg.Retail, fundamentalPrice, rng, seq),
		noiseStd:     cfg.NoiseStd,
		bullyAmplify: cfg.BullyNoiseAmplify,
	}
}

// Decide runs one trading decision against the current snapshot. A nil
// order with nil error means the agent sits this step out.
func (r *Retail) Decide(step int, snap *domain.MarketSnapshot) (*orderbook.Order, error) {
	if r.state.Bullied && r.rng.Float64() < r.state.Suppression {
		infra.GlobalMetrics.RecordSuppressed()
		return nil, nil
	}

	pt := snap.LastPrice
	tauI := int(r.tau)
	trend := mean(snap.ReturnsWindow(tauI))

	noiseStd := r.noiseStd
	if r.state.Bullied {
		noiseStd *= r.bullyAmplify
	}
	epsilon := r.rng.NormFloat64() * noiseStd

	expected := pt * math.Exp(r.expectedReturn(snap, trend, epsilon)*float64(tauI))
	deviation := (expected - pt) / pt
	if math.Abs(deviation) < 0.0005 {
		return nil, nil
	}

	side := orderbook.Sell
	if deviation > 0 {
		side = orderbook.Buy
	}

	// Cross the touch when the quote is already inside the expectation,
	// otherwise quote passively shaded toward the expectation.
	typ := orderbook.Limit
	var price float64
	if side == orderbook.Buy {
		if snap.BestAsk != nil && *snap.BestAsk <= expected {
			typ = orderbook.Market
			price = *snap.BestAsk
		} else {
			price = expected * (1 - math.Abs(deviation)*0.5)
		}
	} else {
		if snap.BestBid != nil && *snap.BestBid >= expected {
			typ = orderbook.Market
			price = *snap.BestBid
		} else {
			price = expected * (1 + math.Abs(deviation)*0.5)
		}
	}
	// Anchor to a 10% band around the last price.
	price = round2(math.Min(math.Max(price, pt*0.9), pt*1.1))

	cash := r.cash.InexactFloat64()
	priceDiff := math.Abs(price-pt) / pt
	var baseQty int
	if side == orderbook.Buy {
		baseQty = int(cash * 0.2 / pt)
	} else {
		baseQty = int(float64(r.stock) * 0.2)
	}
	qty := int(float64(baseQty) * (1 + priceDiff*2))
	if r.state.Bullied {
		qty = int(float64(qty) * 1.2)
	}
	if affordable := int(cash / pt); qty > affordable {
		qty = affordable
	}
	if qty < 1 {
		return nil, nil
	}

	if typ == orderbook.Market {
		return orderbook.NewMarketOrder(r.seq, r.id, side, qty, price, step, tauI)
	}
	return orderbook.NewLimitOrder(r.seq, r.id, side, qty, price, step, tauI)
}
