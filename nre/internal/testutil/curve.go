// Package testutil provides shared test infrastructure for the nre engine.
// It consolidates curve builders and float assertion helpers used across
// nre/ and its sub-package tests.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

// Grid returns m evenly spaced points on [lo, hi].
func Grid(m int, lo, hi float64) []float64 {
	return floats.Span(make([]float64, m), lo, hi)
}

// StepCurve returns +1 where x lies in any of the closed intervals and -1
// elsewhere.
func StepCurve(x []float64, intervals [][2]float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = -1
		for _, iv := range intervals {
			if iv[0] <= v && v <= iv[1] {
				y[i] = 1
				break
			}
		}
	}
	return y
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertIntervalsWithin checks that got matches want pair by pair with every
// bound within tol.
func AssertIntervalsWithin(t *testing.T, want, got [][2]float64, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("got %d intervals %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if math.Abs(want[i][0]-got[i][0]) > tol || math.Abs(want[i][1]-got[i][1]) > tol {
			t.Errorf("interval %d: got %v, want %v (tol %g)", i, got[i], want[i], tol)
		}
	}
}
