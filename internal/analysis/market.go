package analysis

import "math"

// Series bundles the per-run time series the metrics are computed from.
// The driver exposes each slice through an accessor; the experiment
// runner assembles them here so analysis stays decoupled from the
// stepping machinery.
type Series struct {
	Prices       []float64
	LogReturns   []float64
	Fundamentals []float64
	Spreads      []float64
	Depths       []float64
	Volumes      []float64
}

// Metrics summarizes price discovery and liquidity over one run.
type Metrics struct {
	Volatility     float64 `json:"volatility"`
	PriceDeviation float64 `json:"price_deviation"`
	ReturnAutocorr float64 `json:"return_autocorr"`
	Skewness       float64 `json:"skewness"`
	Kurtosis       float64 `json:"kurtosis"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MeanSpread     float64 `json:"mean_spread"`
	MeanDepth      float64 `json:"mean_depth"`
	Illiquidity    float64 `json:"illiquidity"`
}

// Values returns the metrics in a fixed name order, for paired
// comparisons across runs.
func (m Metrics) Values() map[string]float64 {
	return map[string]float64{
		"volatility":      m.Volatility,
		"price_deviation": m.PriceDeviation,
		"return_autocorr": m.ReturnAutocorr,
		"skewness":        m.Skewness,
		"kurtosis":        m.Kurtosis,
		"max_drawdown":    m.MaxDrawdown,
		"mean_spread":     m.MeanSpread,
		"mean_depth":      m.MeanDepth,
		"illiquidity":     m.Illiquidity,
	}
}

// MetricNames lists the metric keys in report order.
var MetricNames = []string{
	"volatility",
	"price_deviation",
	"return_autocorr",
	"skewness",
	"kurtosis",
	"max_drawdown",
	"mean_spread",
	"mean_depth",
	"illiquidity",
}

// ComputeMarketMetrics derives the full metric set from one run's
// series. Degenerate inputs (no trades, flat prices) produce zeros
// rather than NaNs.
func ComputeMarketMetrics(s Series) Metrics {
	return Metrics{
		Volatility:     annualizedVolatility(s.LogReturns),
		PriceDeviation: priceDeviation(s.Prices, s.Fundamentals),
		ReturnAutocorr: lag1Autocorr(s.LogReturns),
		Skewness:       skewness(s.LogReturns),
		Kurtosis:       excessKurtosis(s.LogReturns),
		MaxDrawdown:    maxDrawdown(s.Prices),
		MeanSpread:     mean(s.Spreads),
		MeanDepth:      mean(s.Depths),
		Illiquidity:    amihudIlliquidity(s.LogReturns, s.Prices, s.Volumes),
	}
}

// annualizedVolatility scales the per-step return deviation by the
// square root of 252 trading days.
func annualizedVolatility(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return stddev(returns) * math.Sqrt(252)
}

// priceDeviation is the mean relative distance between the printed
// price and the fundamental, over the steps both are defined for.
func priceDeviation(prices, fundamentals []float64) float64 {
	n := min(len(prices), len(fundamentals))
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		if fundamentals[i] == 0 {
			continue
		}
		sum += math.Abs(prices[i]-fundamentals[i]) / fundamentals[i]
	}
	return sum / float64(n)
}

// lag1Autocorr is the Pearson correlation between the return series and
// itself shifted by one step.
func lag1Autocorr(returns []float64) float64 {
	if len(returns) < 3 {
		return 0
	}
	a := returns[:len(returns)-1]
	b := returns[1:]
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

func skewness(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sd := stddev(xs)
	if sd == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := (x - m) / sd
		sum += d * d * d
	}
	return sum / float64(len(xs))
}

// excessKurtosis returns kurtosis minus 3, so a normal series scores 0.
func excessKurtosis(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sd := stddev(xs)
	if sd == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := (x - m) / sd
		sum += d * d * d * d
	}
	return sum/float64(len(xs)) - 3
}

// maxDrawdown is the largest peak-relative decline over the price path.
func maxDrawdown(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	peak := prices[0]
	worst := 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			if dd := (peak - p) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// amihudIlliquidity is the mean of |return| over dollar volume across
// steps that traded. The three series are aligned from their tails,
// since prices only start printing at the first trade.
func amihudIlliquidity(returns, prices, volumes []float64) float64 {
	n := min(len(returns), min(len(prices), len(volumes)))
	if n == 0 {
		return 0
	}
	r := returns[len(returns)-n:]
	p := prices[len(prices)-n:]
	v := volumes[len(volumes)-n:]

	sum := 0.0
	count := 0
	for i := 0; i < n; i++ {
		dollar := p[i] * v[i]
		if dollar <= 0 {
			continue
		}
		sum += math.Abs(r[i]) / dollar
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
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

// stddev is the population standard deviation.
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
