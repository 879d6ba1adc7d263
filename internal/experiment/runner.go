package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"abmarket/internal/analysis"
	"abmarket/internal/domain"
	"abmarket/internal/infra"
	"abmarket/internal/infra/storage"
	"abmarket/internal/market"
	"abmarket/internal/orderbook"
	"abmarket/internal/social"
	"abmarket/internal/stream"
	"abmarket/internal/trader"
)

// Runner executes the configured experiment: either one baseline/
// cyberbullying pair on a single seed, or a paired study over many
// seeds with significance tests.
type Runner struct {
	cfg      *infra.Config
	store    *storage.Storage
	streamer *stream.Server
	renderer *analysis.Renderer
}

// NewRunner wires the runner against optional sinks. store and streamer
// may be nil when their sections are disabled.
func NewRunner(cfg *infra.Config, store *storage.Storage, streamer *stream.Server) (*Runner, error) {
	r := &Runner{cfg: cfg, store: store, streamer: streamer}
	if cfg.Report.Charts {
		renderer, err := analysis.NewRenderer(cfg.Report.Dir)
		if err != nil {
			return nil, err
		}
		r.renderer = renderer
	}
	return r, nil
}

// Run dispatches on the configured experiment mode.
func (r *Runner) Run(ctx context.Context) error {
	switch r.cfg.Simulation.ExperimentMode {
	case infra.ExperimentSingle:
		_, err := r.RunSingle(ctx)
		return err
	case infra.ExperimentPaired:
		_, err := r.RunPaired(ctx)
		return err
	default:
		return &domain.ConfigError{
			Field: "simulation.experiment_mode",
			Err:   fmt.Errorf("unknown experiment mode %q", r.cfg.Simulation.ExperimentMode),
		}
	}
}

// WealthChange tracks one agent group's mean wealth across a run. Group
// membership (bullied or not) is taken at the end of the run; initial
// wealth is each member's endowment marked at the starting fundamental.
type WealthChange struct {
	Group       string
	Traders     int
	InitialMean decimal.Decimal
	FinalMean   decimal.Decimal
	ChangePct   decimal.Decimal
}

// ScenarioResult is everything one scenario run produced.
type ScenarioResult struct {
	Label          string
	Seed           uint64
	Bullying       bool
	RunID          uint // 0 when persistence is disabled
	Steps          int
	FinalPrice     float64
	FundamentalEnd float64
	Metrics        analysis.Metrics
	GiniInitial    float64
	GiniFinal      float64
	WealthGroups   []WealthChange
	TradeCount     int
	TotalVolume    int64
	BulliedCount   int
}

// SingleResult compares one baseline run against one cyberbullying run
// on the same seed.
type SingleResult struct {
	Baseline      *ScenarioResult
	Cyberbullying *ScenarioResult
	// MetricChanges holds the percentage change of each market metric,
	// cyberbullying relative to baseline.
	MetricChanges map[string]float64
}

// RunSingle executes the baseline and cyberbullying scenarios on the
// configured seed and reports the differences.
func (r *Runner) RunSingle(ctx context.Context) (*SingleResult, error) {
	seed := r.cfg.Simulation.RandomSeed
	slog.Info("single experiment starting", slog.Uint64("seed", seed))

	baseline, err := r.runScenario(ctx, "baseline", seed, false)
	if err != nil {
		return nil, err
	}
	cyber, err := r.runScenario(ctx, "cyberbullying", seed, true)
	if err != nil {
		return nil, err
	}

	res := &SingleResult{
		Baseline:      baseline,
		Cyberbullying: cyber,
		MetricChanges: metricChanges(baseline.Metrics, cyber.Metrics),
	}

	for _, name := range analysis.MetricNames {
		slog.Info("metric comparison",
			slog.String("metric", name),
			slog.Float64("baseline", baseline.Metrics.Values()[name]),
			slog.Float64("cyberbullying", cyber.Metrics.Values()[name]),
			slog.Float64("change_pct", res.MetricChanges[name]))
	}
	for i, g := range cyber.WealthGroups {
		slog.Info("wealth comparison",
			slog.String("group", g.Group),
			slog.String("baseline_change_pct", baseline.WealthGroups[i].ChangePct.StringFixed(4)),
			slog.String("cyberbullying_change_pct", g.ChangePct.StringFixed(4)))
	}
	slog.Info("single experiment finished",
		slog.Int("bullied_agents", cyber.BulliedCount),
		slog.Float64("gini_baseline", baseline.GiniFinal),
		slog.Float64("gini_cyberbullying", cyber.GiniFinal))

	return res, nil
}

// ScenarioPair is one seed's baseline and cyberbullying runs.
type ScenarioPair struct {
	Seed          uint64
	Baseline      *ScenarioResult
	Cyberbullying *ScenarioResult
}

// PairedResult is the outcome of the paired study: every pair plus a
// two-sided paired t-test per metric, cyberbullying minus baseline.
type PairedResult struct {
	Pairs []ScenarioPair
	Tests map[string]analysis.TTestResult
}

// RunPaired executes n_simulations seeded pairs and tests each market
// and wealth metric for a systematic difference.
func (r *Runner) RunPaired(ctx context.Context) (*PairedResult, error) {
	n := r.cfg.Simulation.NSimulations
	slog.Info("paired experiment starting",
		slog.Int("simulations", n), slog.Uint64("seed", r.cfg.Simulation.RandomSeed))

	seedRng := rand.New(rand.NewPCG(r.cfg.Simulation.RandomSeed, r.cfg.Simulation.RandomSeed))
	pairs := make([]ScenarioPair, 0, n)
	for i := 0; i < n; i++ {
		seed := seedRng.Uint64()
		baseline, err := r.runScenario(ctx, fmt.Sprintf("baseline-%d", i), seed, false)
		if err != nil {
			return nil, err
		}
		cyber, err := r.runScenario(ctx, fmt.Sprintf("cyberbullying-%d", i), seed, true)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, ScenarioPair{Seed: seed, Baseline: baseline, Cyberbullying: cyber})
	}

	tests := make(map[string]analysis.TTestResult)
	for _, name := range analysis.MetricNames {
		base := make([]float64, n)
		cyber := make([]float64, n)
		for i, p := range pairs {
			base[i] = p.Baseline.Metrics.Values()[name]
			cyber[i] = p.Cyberbullying.Metrics.Values()[name]
		}
		res, err := analysis.PairedTTest(cyber, base)
		if err != nil {
			return nil, fmt.Errorf("t-test for %s: %w", name, err)
		}
		tests[name] = res
	}
	for key, pick := range wealthMetricPickers() {
		base := make([]float64, n)
		cyber := make([]float64, n)
		for i, p := range pairs {
			base[i] = pick(p.Baseline)
			cyber[i] = pick(p.Cyberbullying)
		}
		res, err := analysis.PairedTTest(cyber, base)
		if err != nil {
			return nil, fmt.Errorf("t-test for %s: %w", key, err)
		}
		tests[key] = res
	}

	for name, res := range tests {
		slog.Info("paired t-test",
			slog.String("metric", name),
			slog.Float64("t", res.T),
			slog.Float64("p", res.P),
			slog.Float64("mean_diff", res.MeanDiff),
			slog.Bool("significant", res.Significant))
	}

	return &PairedResult{Pairs: pairs, Tests: tests}, nil
}

// wealthMetricPickers maps the wealth-side test names onto scenario
// fields.
func wealthMetricPickers() map[string]func(*ScenarioResult) float64 {
	return map[string]func(*ScenarioResult) float64{
		"retail_wealth_change":        groupChangePct(analysis.GroupRetail),
		"institutional_wealth_change": groupChangePct(analysis.GroupInstitutional),
		"gini_final": func(s *ScenarioResult) float64 {
			return s.GiniFinal
		},
	}
}

func groupChangePct(group string) func(*ScenarioResult) float64 {
	return func(s *ScenarioResult) float64 {
		for _, g := range s.WealthGroups {
			if g.Group == group {
				return g.ChangePct.InexactFloat64()
			}
		}
		return 0
	}
}

// runScenario builds a fresh market from the scenario seed, runs it to
// completion and collects metrics, wealth changes, persistence rows and
// charts.
func (r *Runner) runScenario(ctx context.Context, label string, seed uint64, enableBullying bool) (*ScenarioResult, error) {
	slog.Info("scenario starting",
		slog.String("label", label), slog.Uint64("seed", seed), slog.Bool("bullying", enableBullying))

	rng := rand.New(rand.NewPCG(seed, seed))
	seq := orderbook.NewSequence()
	book := orderbook.NewBook(seq)

	agents := buildAgents(r.cfg.Agents, r.cfg.Market.FundamentalPrice, rng, seq)

	var model *social.Model
	if enableBullying {
		socialCfg := r.cfg.Social
		socialCfg.EnableCyberbullying = true

		states := retailStates(agents)
		adj, err := social.BuildNetwork(socialCfg, rng, states)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", label, err)
		}
		model = social.NewModel(socialCfg, rng, states, adj)
	}

	var onTick func(market.Tick)
	if r.streamer != nil {
		onTick = r.streamer.Publish
	}

	m, err := market.New(r.cfg.Market, book, agents, model, rng, onTick)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", label, err)
	}

	// Endowments marked at the starting fundamental, before any trading.
	initialWealth := make(map[int]decimal.Decimal, len(agents))
	initialVec := make([]float64, len(agents))
	for i, a := range agents {
		w := a.Wealth(r.cfg.Market.FundamentalPrice)
		initialWealth[a.ID()] = w
		initialVec[i] = w.InexactFloat64()
	}
	giniInitial := analysis.Gini(initialVec)

	if err := m.Run(ctx); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", label, err)
	}

	finalPrice := m.FinalPrice()
	metrics := analysis.ComputeMarketMetrics(analysis.Series{
		Prices:       m.PriceHistory(),
		LogReturns:   m.LogReturns(),
		Fundamentals: m.FundamentalHistory(),
		Spreads:      m.Spreads(),
		Depths:       m.Depths(),
		Volumes:      m.Volumes(),
	})

	trades := book.Trades()
	var totalVolume int64
	for _, tr := range trades {
		totalVolume += int64(tr.Quantity)
	}
	bullied := 0
	for _, a := range agents {
		if a.Bullied() {
			bullied++
		}
	}

	res := &ScenarioResult{
		Label:          label,
		Seed:           seed,
		Bullying:       enableBullying,
		Steps:          m.CurrentStep(),
		FinalPrice:     finalPrice,
		FundamentalEnd: m.Fundamental(),
		Metrics:        metrics,
		GiniInitial:    giniInitial,
		GiniFinal:      analysis.Gini(analysis.Wealths(agents, finalPrice)),
		WealthGroups:   wealthChanges(agents, initialWealth, finalPrice),
		TradeCount:     len(trades),
		TotalVolume:    totalVolume,
		BulliedCount:   bullied,
	}

	if r.store != nil {
		if err := r.persist(res, trades); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", label, err)
		}
	}
	if r.renderer != nil {
		r.renderCharts(label, m)
	}

	slog.Info("scenario finished",
		slog.String("label", label),
		slog.Int("trades", res.TradeCount),
		slog.Float64("final_price", res.FinalPrice),
		slog.Int("bullied", res.BulliedCount))
	return res, nil
}

// buildAgents creates the mixed population: retail ids first, then
// institutional, sharing one rng and one order id sequence.
func buildAgents(cfg infra.AgentsConfig, fundamentalPrice float64, rng *rand.Rand, seq *orderbook.Sequence) []domain.Trader {
	nRetail := int(float64(cfg.Count) * cfg.RetailRatio)
	agents := make([]domain.Trader, 0, cfg.Count)
	for i := 0; i < nRetail; i++ {
		agents = append(agents, trader.NewRetail(i, cfg, fundamentalPrice, rng, seq))
	}
	for i := nRetail; i < cfg.Count; i++ {
		agents = append(agents, trader.NewInstitutional(i, cfg, fundamentalPrice, rng, seq))
	}
	return agents
}

// retailStates collects the social nodes. Only retail agents join the
// network; institutional agents have social state but never edges.
func retailStates(agents []domain.Trader) []*social.State {
	var states []*social.State
	for _, a := range agents {
		if rt, ok := a.(*trader.Retail); ok {
			states = append(states, rt.Social())
		}
	}
	return states
}

// wealthChanges groups agents by their end-of-run membership and
// compares mean wealth against the captured endowments.
func wealthChanges(agents []domain.Trader, initial map[int]decimal.Decimal, finalPrice float64) []WealthChange {
	type acc struct {
		n            int
		initialTotal decimal.Decimal
		finalTotal   decimal.Decimal
	}
	groups := map[string]*acc{}
	add := func(name string, a domain.Trader) {
		g, ok := groups[name]
		if !ok {
			g = &acc{}
			groups[name] = g
		}
		g.n++
		g.initialTotal = g.initialTotal.Add(initial[a.ID()])
		g.finalTotal = g.finalTotal.Add(a.Wealth(finalPrice))
	}

	for _, a := range agents {
		switch a.Kind() {
		case domain.KindRetail:
			add(analysis.GroupRetail, a)
			if a.Bullied() {
				add(analysis.GroupBullied, a)
			} else {
				add(analysis.GroupNonBullied, a)
			}
		case domain.KindInstitutional:
			add(analysis.GroupInstitutional, a)
		}
	}

	names := []string{analysis.GroupRetail, analysis.GroupInstitutional, analysis.GroupBullied, analysis.GroupNonBullied}
	out := make([]WealthChange, 0, len(names))
	for _, name := range names {
		wc := WealthChange{Group: name}
		if g, ok := groups[name]; ok && g.n > 0 {
			n := decimal.NewFromInt(int64(g.n))
			wc.Traders = g.n
			wc.InitialMean = g.initialTotal.Div(n)
			wc.FinalMean = g.finalTotal.Div(n)
			wc.ChangePct = analysis.PercentChange(wc.InitialMean, wc.FinalMean)
		}
		out = append(out, wc)
	}
	return out
}

// persist writes the run row, its trade log and its wealth summaries.
func (r *Runner) persist(res *ScenarioResult, trades []orderbook.Trade) error {
	run := &domain.SimulationRun{
		Label:           res.Label,
		Seed:            res.Seed,
		Steps:           res.Steps,
		BullyingEnabled: res.Bullying,
		FundamentalEnd:  res.FundamentalEnd,
		FinalPrice:      res.FinalPrice,
		Volatility:      res.Metrics.Volatility,
		PriceDeviation:  res.Metrics.PriceDeviation,
		ReturnAutocorr:  res.Metrics.ReturnAutocorr,
		MeanSpread:      res.Metrics.MeanSpread,
		MeanDepth:       res.Metrics.MeanDepth,
		Illiquidity:     res.Metrics.Illiquidity,
		GiniInitial:     res.GiniInitial,
		GiniFinal:       res.GiniFinal,
		TradeCount:      res.TradeCount,
		TotalVolume:     res.TotalVolume,
		BulliedCount:    res.BulliedCount,
		CreatedAt:       time.Now(),
	}
	if err := r.store.SaveRun(run); err != nil {
		return err
	}
	res.RunID = run.ID

	records := make([]domain.TradeRecord, len(trades))
	for i, tr := range trades {
		records[i] = domain.TradeRecord{
			RunID:       run.ID,
			Step:        tr.Step,
			Price:       tr.Price,
			Quantity:    tr.Quantity,
			BuyOrderID:  tr.BuyOrderID,
			SellOrderID: tr.SellOrderID,
			BuyerID:     tr.Buyer,
			SellerID:    tr.Seller,
		}
	}
	if err := r.store.SaveTrades(records); err != nil {
		return err
	}

	summaries := make([]domain.WealthSummary, len(res.WealthGroups))
	for i, g := range res.WealthGroups {
		summaries[i] = domain.WealthSummary{
			RunID:       run.ID,
			Group:       g.Group,
			Traders:     g.Traders,
			InitialMean: g.InitialMean,
			FinalMean:   g.FinalMean,
			ChangePct:   g.ChangePct,
		}
	}
	return r.store.SaveWealthSummaries(summaries)
}

// renderCharts is best effort: a failed chart is logged, never fatal.
func (r *Runner) renderCharts(label string, m *market.Market) {
	if _, err := r.renderer.PriceChart(label, m.PriceHistory(), m.FundamentalHistory()); err != nil {
		slog.Warn("price chart failed", slog.String("label", label), slog.Any("error", err))
	}
	if _, err := r.renderer.ReturnsChart(label, m.LogReturns()); err != nil {
		slog.Warn("returns chart failed", slog.String("label", label), slog.Any("error", err))
	}
}

// metricChanges is the percentage move of each metric from baseline to
// cyberbullying, zero where the baseline itself is zero.
func metricChanges(baseline, cyber analysis.Metrics) map[string]float64 {
	base := baseline.Values()
	after := cyber.Values()
	out := make(map[string]float64, len(base))
	for name, b := range base {
		if b == 0 {
			out[name] = 0
			continue
		}
		out[name] = (after[name] - b) / math.Abs(b) * 100
	}
	return out
}
