package nre

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naiveUnionLength merges pairs by repeated pairwise absorption, O(n^2).
func naiveUnionLength(pairs [][2]float64) float64 {
	ivs := append([][2]float64(nil), pairs...)
	merged := true
	for merged {
		merged = false
		for i := 0; i < len(ivs) && !merged; i++ {
			for j := i + 1; j < len(ivs); j++ {
				a, b := ivs[i], ivs[j]
				if a[0] <= b[1] && b[0] <= a[1] {
					ivs[i] = [2]float64{math.Min(a[0], b[0]), math.Max(a[1], b[1])}
					ivs = append(ivs[:j], ivs[j+1:]...)
					merged = true
					break
				}
			}
		}
	}
	total := 0.0
	for _, iv := range ivs {
		total += iv[1] - iv[0]
	}
	return total
}

func TestNewIntervalSet_NormalizesRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		// GIVEN a random list of possibly overlapping pairs
		n := rng.Intn(12)
		pairs := make([][2]float64, n)
		for i := range pairs {
			a, b := rng.Float64(), rng.Float64()
			if a > b {
				a, b = b, a
			}
			pairs[i] = [2]float64{a, b}
		}

		// WHEN normalized
		s, err := NewIntervalSet(pairs)
		require.NoError(t, err)

		// THEN intervals are sorted, disjoint, and cover the same length
		ivs := s.Intervals()
		assert.True(t, sort.SliceIsSorted(ivs, func(i, j int) bool { return ivs[i].Lo < ivs[j].Lo }))
		for i := 1; i < len(ivs); i++ {
			assert.Greater(t, ivs[i].Lo, ivs[i-1].Hi, "trial %d: intervals %d and %d overlap or touch", trial, i-1, i)
		}
		assert.InDelta(t, naiveUnionLength(pairs), s.Length(), 1e-12, "trial %d", trial)
	}
}

func TestNewIntervalSet_MergesTouching(t *testing.T) {
	s, err := NewIntervalSet([][2]float64{{0.5, 0.7}, {0.1, 0.3}, {0.3, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{0.1, 0.7}}, s.Pairs())
}

func TestNewIntervalSet_InvalidBounds(t *testing.T) {
	tests := []struct {
		name  string
		pairs [][2]float64
	}{
		{"lo greater than hi", [][2]float64{{0.1, 0.2}, {0.5, 0.4}}},
		{"NaN bound", [][2]float64{{math.NaN(), 0.4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIntervalSet(tt.pairs)
			assert.True(t, errors.Is(err, ErrInvalidRegion), "got %v", err)
		})
	}
}

func TestIntervalSet_EmptyIsValid(t *testing.T) {
	s, err := NewIntervalSet(nil)
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0.0, s.Length())
	assert.False(t, s.Contains(0.5))
	_, ok := s.Extent()
	assert.False(t, ok)
}

func TestIntervalSet_ContainsInclusiveBounds(t *testing.T) {
	s := MustIntervalSet([2]float64{0.2, 0.4}, [2]float64{0.6, 0.9})
	tests := []struct {
		x    float64
		want bool
	}{
		{0.2, true}, {0.4, true}, {0.3, true}, {0.6, true}, {0.9, true},
		{0.1, false}, {0.5, false}, {0.95, false}, {0.4000001, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Contains(tt.x), "Contains(%v)", tt.x)
	}
}

func TestIntervalSet_Intersect(t *testing.T) {
	a := MustIntervalSet([2]float64{0, 0.5}, [2]float64{0.7, 1})
	b := MustIntervalSet([2]float64{0.4, 0.8})
	got := a.Intersect(b)
	assert.Equal(t, [][2]float64{{0.4, 0.5}, {0.7, 0.8}}, got.Pairs())
	// Intersection is pure: inputs are unchanged.
	assert.Equal(t, [][2]float64{{0, 0.5}, {0.7, 1}}, a.Pairs())
	assert.True(t, a.Intersect(IntervalSet{}).IsEmpty())
}

func TestIntervalSet_UnionAndCovers(t *testing.T) {
	a := MustIntervalSet([2]float64{0.1, 0.2})
	b := MustIntervalSet([2]float64{0.15, 0.3}, [2]float64{0.5, 0.6})
	u := a.Union(b)
	assert.Equal(t, [][2]float64{{0.1, 0.3}, {0.5, 0.6}}, u.Pairs())
	assert.True(t, u.Covers(a))
	assert.True(t, u.Covers(b))
	assert.False(t, a.Covers(u))
	assert.True(t, UnitInterval().Covers(u))
	assert.True(t, u.Covers(IntervalSet{}), "everything covers the empty set")
	// A sub-interval straddling a gap is not covered.
	assert.False(t, u.Covers(MustIntervalSet([2]float64{0.25, 0.55})))
}

func TestIntervalSet_SampleStaysInsideAndWeightsByLength(t *testing.T) {
	// GIVEN segments of length 0.1 and 0.3
	s := MustIntervalSet([2]float64{0.0, 0.1}, [2]float64{0.5, 0.8})
	rng := rand.New(rand.NewSource(3))

	// WHEN sampled many times
	inSecond := 0
	const n = 20000
	for i := 0; i < n; i++ {
		x := s.Sample(rng)
		require.True(t, s.Contains(x), "sample %v outside set", x)
		if x >= 0.5 {
			inSecond++
		}
	}

	// THEN the longer segment receives ~75% of samples
	assert.InDelta(t, 0.75, float64(inSecond)/n, 0.02)
}

func TestIntervalSet_SampleZeroLength(t *testing.T) {
	s := MustIntervalSet([2]float64{0.3, 0.3})
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 0.3, s.Sample(rng))
	assert.Panics(t, func() { IntervalSet{}.Sample(rng) })
}
