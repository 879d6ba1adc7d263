package trader

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"

	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/orderbook"
	"abmarket/internal/social"
)

func testAgentsConfig() infra.AgentsConfig {
	return infra.AgentsConfig{
		Count:              20,
		RetailRatio:        0.8,
		ReferenceTauF:      200,
		NoiseStd:           0.01,
		BullyNoiseAmplify:  3.0,
		EmotionInitialBias: 0.01,
		EmotionWeightSigma: 0.5,
		Retail: infra.TraderParams{
			InitialStockMax:  100,
			FundamentalSigma: 1.0,
			ChartistSigma:    1.5,
			NoiseSigma:       1.0,
		},
		Institutional: infra.TraderParams{
			InitialStockMax:   1000,
			FundamentalSigma:  2.0,
			ChartistSigma:     0.5,
			NoiseSigma:        0.5,
			RiskAversion:      0.1,
			ParticipationProb: 0.5,
		},
	}
}

// fixedProfile builds a profile with hand-picked weights so decisions
// are deterministic regardless of the rng seed.
func fixedProfile(id int, kind domain.TraderKind, cash float64, stock int, g1, g2, n, tau, refTauF float64) *Profile {
	return &Profile{
		id:      id,
		kind:    kind,
		cash:    decimal.NewFromFloat(cash),
		stock:   stock,
		g1:      g1,
		g2:      g2,
		n:       n,
		tau:     tau,
		refTauF: refTauF,
		state:   &social.State{ID: id},
		rng:     rand.New(rand.NewPCG(1, 1)),
		seq:     orderbook.NewSequence(),
	}
}

func snapshot(last, fundamental float64, bid, ask *float64) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		LastPrice:        last,
		FundamentalPrice: fundamental,
		BestBid:          bid,
		BestAsk:          ask,
	}
}

func fptr(v float64) *float64 { return &v }

func TestNewRetail(t *testing.T) {
	cfg := testAgentsConfig()
	rng := rand.New(rand.NewPCG(42, 42))
	seq := orderbook.NewSequence()

	r := NewRetail(3, cfg, 300.0, rng, seq)

	if r.ID() != 3 {
		t.Errorf("Expected id 3, got %d", r.ID())
	}
	if r.Kind() != domain.KindRetail {
		t.Errorf("Expected retail kind, got %s", r.Kind())
	}
	if r.Position() < 10 || r.Position() > 99 {
		t.Errorf("Expected initial stock in [10, 99], got %d", r.Position())
	}
	wantCash := decimal.NewFromFloat(300.0).Mul(decimal.NewFromInt(int64(r.Position())))
	if !r.Cash().Equal(wantCash) {
		t.Errorf("Expected cash %s, got %s", wantCash, r.Cash())
	}
	if r.tau <= 0 || r.tau > cfg.ReferenceTauF {
		t.Errorf("Expected horizon in (0, %v], got %v", cfg.ReferenceTauF, r.tau)
	}
	if r.Bullied() {
		t.Error("Expected fresh agent not bullied")
	}
	if r.Social() == nil || r.Social().ID != 3 {
		t.Error("Expected social state wired with the agent id")
	}
	// Cash was endowed at the fundamental, so wealth marked there doubles it.
	if !r.Wealth(300.0).Equal(wantCash.Mul(decimal.NewFromInt(2))) {
		t.Errorf("Expected wealth %s, got %s", wantCash.Mul(decimal.NewFromInt(2)), r.Wealth(300.0))
	}
}

func TestNewInstitutional(t *testing.T) {
	cfg := testAgentsConfig()
	rng := rand.New(rand.NewPCG(7, 7))
	seq := orderbook.NewSequence()

	in := NewInstitutional(16, cfg, 300.0, rng, seq)

	if in.Kind() != domain.KindInstitutional {
		t.Errorf("Expected institutional kind, got %s", in.Kind())
	}
	if in.Position() < 100 || in.Position() > 999 {
		t.Errorf("Expected initial stock in [100, 999], got %d", in.Position())
	}
	if in.riskAversion != 0.1 {
		t.Errorf("Expected risk aversion 0.1, got %v", in.riskAversion)
	}
	if in.participation != 0.5 {
		t.Errorf("Expected participation 0.5, got %v", in.participation)
	}
	if in.Bullied() {
		t.Error("Expected institutional agent never bullied")
	}
}

func TestApplyFill(t *testing.T) {
	p := fixedProfile(1, domain.KindRetail, 1000.0, 50, 0, 0, 0, 5, 200)

	p.ApplyFill(orderbook.Buy, 10, 20.0)
	if !p.Cash().Equal(decimal.NewFromFloat(800.0)) {
		t.Errorf("Expected cash 800 after buy, got %s", p.Cash())
	}
	if p.Position() != 60 {
		t.Errorf("Expected 60 shares after buy, got %d", p.Position())
	}

	p.ApplyFill(orderbook.Sell, 30, 25.0)
	if !p.Cash().Equal(decimal.NewFromFloat(1550.0)) {
		t.Errorf("Expected cash 1550 after sell, got %s", p.Cash())
	}
	if p.Position() != 30 {
		t.Errorf("Expected 30 shares after sell, got %d", p.Position())
	}
}

func TestApplyFillClampsAtZero(t *testing.T) {
	p := fixedProfile(1, domain.KindRetail, 100.0, 5, 0, 0, 0, 5, 200)

	// Overspending floors cash instead of going negative.
	p.ApplyFill(orderbook.Buy, 10, 50.0)
	if !p.Cash().Equal(decimal.Zero) {
		t.Errorf("Expected cash clamped to zero, got %s", p.Cash())
	}
	if p.Position() != 15 {
		t.Errorf("Expected 15 shares, got %d", p.Position())
	}

	// Overselling floors the position.
	p.ApplyFill(orderbook.Sell, 100, 10.0)
	if p.Position() != 0 {
		t.Errorf("Expected position clamped to zero, got %d", p.Position())
	}
	if !p.Cash().Equal(decimal.NewFromFloat(1000.0)) {
		t.Errorf("Expected cash 1000, got %s", p.Cash())
	}
}

func TestWealthExactness(t *testing.T) {
	p := fixedProfile(1, domain.KindRetail, 1000.50, 3, 0, 0, 0, 5, 200)
	want := decimal.NewFromFloat(1031.25)
	if got := p.Wealth(10.25); !got.Equal(want) {
		t.Errorf("Expected wealth %s, got %s", want, got)
	}
}

func TestRetailDecideAbstainSmallDeviation(t *testing.T) {
	// All weights zero and price at the fundamental: expectation equals
	// the last price and the agent stays out.
	r := &Retail{Profile: fixedProfile(1, domain.KindRetail, 10000.0, 50, 0, 0, 0, 5, 200), noiseStd: 0.01}

	order, err := r.Decide(1, snapshot(100.0, 100.0, nil, nil))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if order != nil {
		t.Errorf("Expected abstention, got %v", order)
	}
}

func TestRetailDecideSuppressed(t *testing.T) {
	r := &Retail{Profile: fixedProfile(1, domain.KindRetail, 10000.0, 50, 1, 0, 0, 5, 1), noiseStd: 0.01}
	r.state.Bullied = true
	r.state.Suppression = 1.0

	for i := 0; i < 10; i++ {
		order, err := r.Decide(i, snapshot(100.0, 110.0, nil, fptr(105.0)))
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if order != nil {
			t.Fatalf("Expected full suppression to abstain, got %v", order)
		}
	}
}

func TestRetailDecideMarketBuy(t *testing.T) {
	// Pure fundamentalist with the fundamental 10% above the last price:
	// the expectation compounds over the horizon and crosses the ask.
	r := &Retail{Profile: fixedProfile(1, domain.KindRetail, 10000.0, 50, 1, 0, 0, 5, 1), noiseStd: 0.01}

	order, err := r.Decide(4, snapshot(100.0, 110.0, fptr(99.0), fptr(105.0)))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if order == nil {
		t.Fatal("Expected an order")
	}
	if order.Type != orderbook.Market {
		t.Errorf("Expected market order against the ask, got %s", order.Type)
	}
	if order.Side != orderbook.Buy {
		t.Errorf("Expected buy, got %s", order.Side)
	}
	if order.Price != 105.0 {
		t.Errorf("Expected bound at the ask 105, got %v", order.Price)
	}
	// Base 20 shares, scaled by the 5% distance from the last price.
	if order.Quantity != 22 {
		t.Errorf("Expected quantity 22, got %d", order.Quantity)
	}
	if order.MaxWait != 5 {
		t.Errorf("Expected max wait 5, got %d", order.MaxWait)
	}
	if order.TraderID != 1 {
		t.Errorf("Expected trader id 1, got %d", order.TraderID)
	}
}

func TestRetailDecidePassiveSell(t *testing.T) {
	// Fundamental 10% below: the sell quote lands under the last price
	// and gets clamped to the bottom of the band.
	r := &Retail{Profile: fixedProfile(1, domain.KindRetail, 10000.0, 50, 1, 0, 0, 5, 1), noiseStd: 0.01}

	order, err := r.Decide(4, snapshot(100.0, 90.0, nil, nil))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if order == nil {
		t.Fatal("Expected an order")
	}
	if order.Type != orderbook.Limit {
		t.Errorf("Expected limit order with no bid to cross, got %s", order.Type)
	}
	if order.Side != orderbook.Sell {
		t.Errorf("Expected sell, got %s", order.Side)
	}
	if order.Price != 90.0 {
		t.Errorf("Expected price clamped to 90, got %v", order.Price)
	}
	// Base 10 shares, scaled by the 10% distance.
	if order.Quantity != 12 {
		t.Errorf("Expected quantity 12, got %d", order.Quantity)
	}
}

func TestRetailDecideBulliedSizing(t *testing.T) {
	// Suppression off but bullied: same passive sell, 20% bigger.
	r := &Retail{Profile: fixedProfile(1, domain.KindRetail, 10000.0, 50, 1, 0, 0, 5, 1), noiseStd: 0.01, bullyAmplify: 3.0}
	r.state.Bullied = true

	order, err := r.Decide(4, snapshot(100.0, 90.0, nil, nil))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if order == nil {
		t.Fatal("Expected an order")
	}
	if order.Quantity != 14 {
		t.Errorf("Expected bullied quantity 14, got %d", order.Quantity)
	}
}

func TestRetailDecideNoStockNoSell(t *testing.T) {
	r := &Retail{Profile: fixedProfile(1, domain.KindRetail, 10000.0, 0, 1, 0, 0, 5, 1), noiseStd: 0.01}

	order, err := r.Decide(4, snapshot(100.0, 90.0, nil, nil))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if order != nil {
		t.Errorf("Expected abstention with nothing to sell, got %v", order)
	}
}

func TestInstitutionalParticipationGate(t *testing.T) {
	in := &Institutional{
		Profile:       fixedProfile(2, domain.KindInstitutional, 1000000.0, 100, 1, 0, 0, 1, 1),
		noiseStd:      0.0,
		riskAversion:  0.1,
		participation: 0.0,
	}

	for i := 0; i < 10; i++ {
		order, err := in.Decide(i, snapshot(100.0, 200.0, nil, nil))
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if order != nil {
			t.Fatalf("Expected zero participation to abstain, got %v", order)
		}
	}
}

func TestInstitutionalBuysWhenFlat(t *testing.T) {
	// No position and deep cash against a doubled expectation: demand is
	// positive everywhere below it, so every order must be a buy.
	in := &Institutional{
		Profile:       fixedProfile(2, domain.KindInstitutional, 1000000.0, 0, 1, 0, 0, 1, 1),
		noiseStd:      0.0,
		riskAversion:  0.1,
		participation: 1.0,
	}

	orders := 0
	for i := 0; i < 50; i++ {
		order, err := in.Decide(i, snapshot(100.0, 200.0, nil, nil))
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if order == nil {
			continue
		}
		orders++
		if order.Side != orderbook.Buy {
			t.Fatalf("Expected buy with no position, got %s", order.Side)
		}
		if order.Quantity < 1 {
			t.Fatalf("Expected positive quantity, got %d", order.Quantity)
		}
		if order.Price <= 0 {
			t.Fatalf("Expected positive price, got %v", order.Price)
		}
		if order.MaxWait != 1 {
			t.Fatalf("Expected max wait 1, got %d", order.MaxWait)
		}
	}
	if orders == 0 {
		t.Error("Expected at least one order in 50 attempts")
	}
}

func TestInstitutionalSellsWhenBroke(t *testing.T) {
	// No cash: the lower price bound collapses onto the neutral price, so
	// every drawn price carries non-positive net demand.
	in := &Institutional{
		Profile:       fixedProfile(2, domain.KindInstitutional, 0.0, 100, 1, 0, 0, 1, 1),
		noiseStd:      0.0,
		riskAversion:  0.1,
		participation: 1.0,
	}

	orders := 0
	for i := 0; i < 50; i++ {
		order, err := in.Decide(i, snapshot(100.0, 200.0, nil, nil))
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if order == nil {
			continue
		}
		orders++
		if order.Side != orderbook.Sell {
			t.Fatalf("Expected sell with no cash, got %s", order.Side)
		}
		if order.Quantity < 1 || order.Quantity > 100 {
			t.Fatalf("Expected quantity within the position, got %d", order.Quantity)
		}
	}
	if orders == 0 {
		t.Error("Expected at least one order in 50 attempts")
	}
}

func TestBisect(t *testing.T) {
	t.Run("finds root", func(t *testing.T) {
		root, err := bisect(func(x float64) float64 { return x*x - 4 }, 0, 5)
		if err != nil {
			t.Fatalf("bisect failed: %v", err)
		}
		if math.Abs(root-2.0) > 1e-9 {
			t.Errorf("Expected root 2, got %v", root)
		}
	})

	t.Run("endpoint root", func(t *testing.T) {
		root, err := bisect(func(x float64) float64 { return x - 2 }, 2, 5)
		if err != nil {
			t.Fatalf("bisect failed: %v", err)
		}
		if root != 2 {
			t.Errorf("Expected endpoint root 2, got %v", root)
		}
	})

	t.Run("no sign change", func(t *testing.T) {
		if _, err := bisect(func(x float64) float64 { return x*x - 4 }, 3, 5); err == nil {
			t.Error("Expected error without a sign change")
		}
	})

	t.Run("reversed bracket", func(t *testing.T) {
		if _, err := bisect(func(x float64) float64 { return x }, 5, 3); err == nil {
			t.Error("Expected error for a reversed bracket")
		}
	})

	t.Run("non-finite endpoint", func(t *testing.T) {
		if _, err := bisect(math.Log, -1, 1); err == nil {
			t.Error("Expected error for a NaN endpoint")
		}
	})
}

func TestMeanAndStddev(t *testing.T) {
	if got := mean(nil); got != 0 {
		t.Errorf("Expected zero mean for empty input, got %v", got)
	}
	if got := mean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("Expected mean 2.5, got %v", got)
	}
	if got := stddev(nil); got != 0 {
		t.Errorf("Expected zero stddev for empty input, got %v", got)
	}
	if got := stddev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); math.Abs(got-2.0) > 1e-12 {
		t.Errorf("Expected stddev 2, got %v", got)
	}
}
