package analysis

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadSample is returned when a test gets samples it cannot work on.
var ErrBadSample = errors.New("analysis: bad sample")

// TTestResult holds a two-sided paired t-test outcome at the 95% level.
type TTestResult struct {
	T           float64 `json:"t"`
	P           float64 `json:"p"`
	Df          int     `json:"df"`
	MeanDiff    float64 `json:"mean_diff"`
	CILow       float64 `json:"ci_low"`
	CIHigh      float64 `json:"ci_high"`
	Significant bool    `json:"significant"`
}

// PairedTTest runs a two-sided paired t-test on a minus b. The samples
// must be the same length with at least two pairs.
func PairedTTest(a, b []float64) (TTestResult, error) {
	if len(a) != len(b) {
		return TTestResult{}, fmt.Errorf("%w: paired samples differ in length", ErrBadSample)
	}
	n := len(a)
	if n < 2 {
		return TTestResult{}, fmt.Errorf("%w: need at least two pairs", ErrBadSample)
	}

	diffs := make([]float64, n)
	for i := range a {
		diffs[i] = a[i] - b[i]
	}
	md := mean(diffs)

	ss := 0.0
	for _, d := range diffs {
		dev := d - md
		ss += dev * dev
	}
	sd := math.Sqrt(ss / float64(n-1))
	stderr := sd / math.Sqrt(float64(n))
	df := n - 1

	var t, p float64
	switch {
	case sd == 0 && md == 0:
		t, p = 0, 1
	case sd == 0:
		// Identical nonzero differences: the effect is exact.
		t = math.Inf(1)
		if md < 0 {
			t = math.Inf(-1)
		}
		p = 0
	default:
		t = md / stderr
		p = tTestPValue(t, float64(df))
	}

	return TTestResult{
		T:           t,
		P:           p,
		Df:          df,
		MeanDiff:    md,
		CILow:       md - 1.96*stderr,
		CIHigh:      md + 1.96*stderr,
		Significant: p < 0.05,
	}, nil
}

// tTestPValue is the two-sided tail probability of Student's t with df
// degrees of freedom, via the regularized incomplete beta function.
func tTestPValue(t, df float64) float64 {
	if t == 0 {
		return 1
	}
	x := df / (df + t*t)
	return regIncBeta(df/2, 0.5, x)
}

// regIncBeta evaluates the regularized incomplete beta function
// I_x(a, b) with the continued fraction expansion, switching to the
// symmetric form where the fraction converges faster.
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lgab, _ := math.Lgamma(a + b)
	lga, _ := math.Lgamma(a)
	lgb, _ := math.Lgamma(b)
	front := math.Exp(lgab - lga - lgb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

// betaCF is the continued fraction for the incomplete beta function,
// evaluated with the modified Lentz method.
func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpmin   = 1e-300
	)

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
