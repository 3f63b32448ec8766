package nre

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/inference-sim/nre-sim/nre/trace"
)

// CrossingPolicy selects how curves that are above zero at a grid boundary
// are paired into intervals.
type CrossingPolicy int

const (
	// CrossingClip extends each boundary independently: a curve above zero at
	// the left edge gets a synthetic upcrossing at index 0, one above zero at the
	// right edge a synthetic downcrossing at the last index. Always yields a
	// consistent pairing.
	CrossingClip CrossingPolicy = iota

	// CrossingStrict corrects only a net up/down imbalance of one and returns
	// ErrMalformedCurve when the positional pairing is inverted (curve above
	// zero at both edges with an interior dip).
	CrossingStrict
)

var crossingPolicyNames = map[string]CrossingPolicy{
	"clip":   CrossingClip,
	"strict": CrossingStrict,
}

// ParseCrossingPolicy maps "clip" or "strict" to a CrossingPolicy.
func ParseCrossingPolicy(name string) (CrossingPolicy, error) {
	if p, ok := crossingPolicyNames[name]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("unknown crossing policy %q; valid: clip, strict", name)
}

func (p CrossingPolicy) String() string {
	if p == CrossingStrict {
		return "strict"
	}
	return "clip"
}

// Crossings describes how an extraction paired the curve.
// Up and Down hold grid indices after any boundary extension.
type Crossings struct {
	Up, Down  []int
	Detected  [2]int // upcrossings, downcrossings before extension
	Rule      string // trace.Rule* constant
	FlatAbove bool   // for trace.RuleNoCrossings: curve entirely above zero
}

// ConstructIntervals returns the x segments where y > 0.
//
// An upcrossing at i means y[i] <= 0 < y[i+1]; a downcrossing at i means
// y[i] > 0 >= y[i+1]. Crossings are paired positionally into [x[up], x[down]].
// A curve with no crossings yields the full span [x[0], x[m-1]] whether it is
// entirely above or entirely below zero: a flat curve places no constraint.
// NaN values count as not above zero.
//
// x must be strictly ascending and match y in length (at least two points),
// otherwise ErrMalformedCurve is returned.
func ConstructIntervals(x, y []float64, policy CrossingPolicy) (IntervalSet, Crossings, error) {
	if len(x) != len(y) {
		return IntervalSet{}, Crossings{}, fmt.Errorf("%w: %d grid points but %d values", ErrMalformedCurve, len(x), len(y))
	}
	m := len(x)
	if m < 2 {
		return IntervalSet{}, Crossings{}, fmt.Errorf("%w: need at least 2 grid points, got %d", ErrMalformedCurve, m)
	}
	for i := 1; i < m; i++ {
		if !(x[i] > x[i-1]) {
			return IntervalSet{}, Crossings{}, fmt.Errorf("%w: grid not strictly ascending at %d", ErrMalformedCurve, i)
		}
	}

	above := make([]bool, m)
	for i, v := range y {
		above[i] = v > 0
	}
	var up, down []int
	for i := 0; i < m-1; i++ {
		switch {
		case !above[i] && above[i+1]:
			up = append(up, i)
		case above[i] && !above[i+1]:
			down = append(down, i)
		}
	}
	c := Crossings{Detected: [2]int{len(up), len(down)}}

	if len(up) == 0 && len(down) == 0 {
		c.Rule = trace.RuleNoCrossings
		c.FlatAbove = above[0]
		if !above[0] {
			logrus.Warnf("ConstructIntervals: curve never exceeds threshold on [%g, %g]; keeping full span", x[0], x[m-1])
		}
		return IntervalSet{intervals: []Interval{{Lo: x[0], Hi: x[m-1]}}}, c, nil
	}

	switch policy {
	case CrossingStrict:
		switch len(up) - len(down) {
		case 0:
			c.Rule = trace.RuleCrossings
		case 1:
			down = append(down, m-1)
			c.Rule = trace.RuleSyntheticDown
		case -1:
			up = append([]int{0}, up...)
			c.Rule = trace.RuleSyntheticUp
		default:
			return IntervalSet{}, c, fmt.Errorf("%w: %d upcrossings vs %d downcrossings", ErrMalformedCurve, len(up), len(down))
		}
	default:
		left, right := above[0], above[m-1]
		if left {
			up = append([]int{0}, up...)
		}
		if right {
			down = append(down, m-1)
		}
		switch {
		case left && right:
			c.Rule = trace.RuleSyntheticBoth
		case left:
			c.Rule = trace.RuleSyntheticUp
		case right:
			c.Rule = trace.RuleSyntheticDown
		default:
			c.Rule = trace.RuleCrossings
		}
	}
	c.Up, c.Down = up, down

	if len(up) != len(down) {
		return IntervalSet{}, c, fmt.Errorf("%w: %d upcrossings vs %d downcrossings after boundary extension", ErrMalformedCurve, len(up), len(down))
	}
	ivs := make([]Interval, len(up))
	for i := range up {
		if up[i] > down[i] || (i > 0 && down[i-1] >= up[i]) {
			return IntervalSet{}, c, fmt.Errorf("%w: crossing pair %d inverted (up %d, down %d)", ErrMalformedCurve, i, up[i], down[i])
		}
		ivs[i] = Interval{Lo: x[up[i]], Hi: x[down[i]]}
	}
	return IntervalSet{intervals: ivs}, c, nil
}

// CurveFromLogRatio converts a log-ratio curve into the extractor's input:
// logr - max(logr) - log(threshold). The result is above zero exactly where
// the ratio exceeds threshold times its mode. NaN entries are ignored when
// locating the maximum.
func CurveFromLogRatio(logr []float64, threshold float64) []float64 {
	finite := make([]float64, 0, len(logr))
	for _, v := range logr {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	out := make([]float64, len(logr))
	copy(out, logr)
	if len(finite) == 0 {
		return out
	}
	floats.AddConst(-floats.Max(finite)-math.Log(threshold), out)
	return out
}

// LinearGrid returns int(1/res)+1 evenly spaced points on [0, 1].
func LinearGrid(res float64) []float64 {
	if !(res > 0) || res > 1 {
		panic(fmt.Sprintf("LinearGrid: resolution must be in (0, 1], got %g", res))
	}
	n := int(1/res+1e-9) + 1
	g := floats.Span(make([]float64, n), 0, 1)
	g[n-1] = 1
	return g
}
