package nre

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// PreparePosterior1D turns a log-ratio curve sampled at x into a normalized
// 1-d density: points are sorted by x, exponentiated (relative to the curve
// maximum) and divided by their trapezoidal integral. The inputs are not
// modified.
func PreparePosterior1D(x, logr []float64) ([]float64, []float64, error) {
	if len(x) != len(logr) {
		return nil, nil, fmt.Errorf("%w: %d points but %d values", ErrDimensionMismatch, len(x), len(logr))
	}
	if len(x) < 2 {
		return nil, nil, fmt.Errorf("posterior needs at least 2 points, got %d", len(x))
	}
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	xs := make([]float64, len(x))
	pdf := make([]float64, len(x))
	for i, o := range order {
		xs[i] = x[o]
		pdf[i] = logr[o]
	}
	floats.AddConst(-floats.Max(pdf), pdf)
	for i, v := range pdf {
		pdf[i] = math.Exp(v)
	}
	norm := integrate.Trapezoidal(xs, pdf)
	if !(norm > 0) || math.IsInf(norm, 0) {
		return nil, nil, fmt.Errorf("posterior normalization is %g", norm)
	}
	floats.Scale(1/norm, pdf)
	return xs, pdf, nil
}
