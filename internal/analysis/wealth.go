package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"abmarket/internal/domain"
)

// Wealth group labels. Bullied and non-bullied partition the retail
// population; institutional agents never enter the social network.
const (
	GroupRetail        = "retail"
	GroupInstitutional = "institutional"
	GroupBullied       = "bullied"
	GroupNonBullied    = "non_bullied"
)

// GroupWealth is the mean wealth of one agent group at a single
// valuation price.
type GroupWealth struct {
	Group   string
	Traders int
	Mean    decimal.Decimal
}

// GroupMeans marks every agent's wealth at the given price and averages
// it per group. Groups with no members report a zero mean.
func GroupMeans(agents []domain.Trader, price float64) []GroupWealth {
	sums := map[string]decimal.Decimal{}
	counts := map[string]int{}

	add := func(group string, w decimal.Decimal) {
		sums[group] = sums[group].Add(w)
		counts[group]++
	}

	for _, a := range agents {
		w := a.Wealth(price)
		switch a.Kind() {
		case domain.KindRetail:
			add(GroupRetail, w)
			if a.Bullied() {
				add(GroupBullied, w)
			} else {
				add(GroupNonBullied, w)
			}
		case domain.KindInstitutional:
			add(GroupInstitutional, w)
		}
	}

	groups := []string{GroupRetail, GroupInstitutional, GroupBullied, GroupNonBullied}
	out := make([]GroupWealth, 0, len(groups))
	for _, g := range groups {
		gw := GroupWealth{Group: g, Traders: counts[g]}
		if counts[g] > 0 {
			gw.Mean = sums[g].Div(decimal.NewFromInt(int64(counts[g])))
		}
		out = append(out, gw)
	}
	return out
}

// PercentChange returns (final-initial)/initial as a percentage, zero
// when the base is zero.
func PercentChange(initial, final decimal.Decimal) decimal.Decimal {
	if initial.IsZero() {
		return decimal.Zero
	}
	return final.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100))
}

// Wealths marks every agent at the given price and returns the float
// vector used for distribution statistics.
func Wealths(agents []domain.Trader, price float64) []float64 {
	out := make([]float64, len(agents))
	for i, a := range agents {
		out[i] = a.Wealth(price).InexactFloat64()
	}
	return out
}

// Gini computes the Gini coefficient of a wealth vector: 0 for perfect
// equality, approaching 1 as wealth concentrates. Empty or zero-total
// vectors score 0.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	total := 0.0
	weighted := 0.0
	for i, v := range sorted {
		total += v
		weighted += float64(2*(i+1)-n-1) * v
	}
	if total == 0 {
		return 0
	}
	return weighted / (float64(n) * total)
}
