package trader

import (
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/orderbook"
)

// Institutional is the large-trader population. Instead of shading a
// price heuristically, an institutional agent holds a CARA demand curve
// pi(p) and root-finds it against the current position to bracket an
// order price. Institutional agents stay off the social network.
type Institutional struct {
	*Profile
	noiseStd      float64
	riskAversion  float64
	participation float64
}

var _ domain.Trader = (*Institutional)(nil)

// NewInstitutional draws an institutional agent from the institutional
// parameter block.
func NewInstitutional(id int, cfg infra.AgentsConfig, fundamentalPrice float64, rng *rand.Rand, seq *orderbook.Sequence) *Institutional {
	return &Institutional{
		Profile:       newProfile(id, domain.KindInstitutional, cfg, cfg.Institutional, fundamentalPrice, rng, seq),
		noiseStd:      cfg.NoiseStd,
		riskAversion:  cfg.Institutional.RiskAversion,
		participation: cfg.Institutional.ParticipationProb,
	}
}

// Decide runs one trading decision against the current snapshot. A nil
// order with nil error means the agent sits this step out.
func (t *Institutional) Decide(step int, snap *domain.MarketSnapshot) (*orderbook.Order, error) {
	if t.rng.Float64() >= t.participation {
		return nil, nil
	}

	pt := snap.LastPrice
	tauI := int(t.tau)
	window := snap.ReturnsWindow(tauI)
	trend := mean(window)
	vol := stddev(window)
	if vol == 0 {
		// Flat or empty history still needs a risk term.
		vol = 0.02
	}

	epsilon := t.rng.NormFloat64() * t.noiseStd
	expected := pt * math.Exp(t.expectedReturn(snap, trend, epsilon)*t.tau)

	// Demand at price p under CARA utility with the current variance view.
	pi := func(p float64) float64 {
		return math.Log(expected/p) / (t.riskAversion * vol * p)
	}

	stock := float64(t.stock)
	cash := t.cash.InexactFloat64()

	// Price where demand equals the current position.
	pStar, err := bisect(func(p float64) float64 { return pi(p) - stock }, 0.01, expected*2)
	if err != nil {
		pStar = pt
	}
	// Lowest price worth quoting: buying the full net demand there would
	// exhaust cash.
	pm, err := bisect(func(p float64) float64 { return p*(pi(p)-stock) - cash }, 0.01, expected)
	if err != nil {
		pm = 0.01
	}

	orderPrice := pm + t.rng.Float64()*(expected-pm)
	delta := pi(orderPrice) - stock
	if math.Abs(delta) < 1e-2 {
		return nil, nil
	}

	side := orderbook.Sell
	if delta > 0 {
		side = orderbook.Buy
	}
	qty := int(math.Abs(delta))
	if qty < 1 {
		return nil, nil
	}
	price := round2(orderPrice)

	slog.Debug("institutional demand",
		"trader", t.id,
		"neutral_price", pStar,
		"order_price", price,
		"delta", delta,
	)

	// Classify against the touch the same way retail does.
	typ := orderbook.Limit
	if side == orderbook.Buy {
		if snap.BestAsk != nil && *snap.BestAsk <= price {
			typ = orderbook.Market
		}
	} else {
		if snap.BestBid != nil && *snap.BestBid >= price {
			typ = orderbook.Market
		}
	}

	if typ == orderbook.Market {
		return orderbook.NewMarketOrder(t.seq, t.id, side, qty, price, step, tauI)
	}
	return orderbook.NewLimitOrder(t.seq, t.id, side, qty, price, step, tauI)
}

var errNoRoot = errors.New("no sign change over bracket")

// bisect finds a root of f on [lo, hi] by interval halving. The bracket
// must be ordered, finite at both ends, and straddle zero.
func bisect(f func(float64) float64, lo, hi float64) (float64, error) {
	if hi <= lo {
		return 0, errNoRoot
	}
	flo, fhi := f(lo), f(hi)
	if math.IsNaN(flo) || math.IsNaN(fhi) || math.IsInf(flo, 0) || math.IsInf(fhi, 0) {
		return 0, errNoRoot
	}
	if flo == 0 {
		return lo, nil
	}
	if fhi == 0 {
		return hi, nil
	}
	if (flo > 0) == (fhi > 0) {
		return 0, errNoRoot
	}
	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		fmid := f(mid)
		switch {
		case fmid == 0, hi-lo < 1e-12:
			return mid, nil
		case (fmid > 0) == (flo > 0):
			lo, flo = mid, fmid
		default:
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}
