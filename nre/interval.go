package nre

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// Interval is a closed interval [Lo, Hi] on one parameter axis.
type Interval struct {
	Lo, Hi float64
}

// Length returns Hi - Lo.
func (iv Interval) Length() float64 {
	return iv.Hi - iv.Lo
}

// Contains reports whether x lies in the closed interval.
func (iv Interval) Contains(x float64) bool {
	return iv.Lo <= x && x <= iv.Hi
}

// IntervalSet is an immutable union of disjoint closed intervals on one axis,
// sorted ascending. Overlapping or touching intervals are merged at
// construction, so no two stored intervals share a point. The zero value is
// the empty set.
type IntervalSet struct {
	intervals []Interval
}

// NewIntervalSet normalizes [lo, hi] pairs into an IntervalSet.
// Returns ErrInvalidRegion if any pair has lo > hi or a NaN bound.
func NewIntervalSet(pairs [][2]float64) (IntervalSet, error) {
	ivs := make([]Interval, 0, len(pairs))
	for i, p := range pairs {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return IntervalSet{}, fmt.Errorf("%w: interval %d has NaN bound", ErrInvalidRegion, i)
		}
		if p[0] > p[1] {
			return IntervalSet{}, fmt.Errorf("%w: interval %d has lo %g > hi %g", ErrInvalidRegion, i, p[0], p[1])
		}
		ivs = append(ivs, Interval{Lo: p[0], Hi: p[1]})
	}
	return IntervalSet{intervals: normalize(ivs)}, nil
}

// MustIntervalSet is NewIntervalSet for literal inputs known to be valid.
// Panics on invalid bounds.
func MustIntervalSet(pairs ...[2]float64) IntervalSet {
	s, err := NewIntervalSet(pairs)
	if err != nil {
		panic(err)
	}
	return s
}

// UnitInterval returns the set {[0, 1]}.
func UnitInterval() IntervalSet {
	return IntervalSet{intervals: []Interval{{Lo: 0, Hi: 1}}}
}

// normalize sorts by lower bound and merges overlapping or touching intervals.
// The input slice is reordered in place.
func normalize(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Lo != ivs[j].Lo {
			return ivs[i].Lo < ivs[j].Lo
		}
		return ivs[i].Hi < ivs[j].Hi
	})
	merged := make([]Interval, 0, len(ivs))
	cur := ivs[0]
	for _, iv := range ivs[1:] {
		if iv.Lo <= cur.Hi {
			cur.Hi = math.Max(cur.Hi, iv.Hi)
			continue
		}
		merged = append(merged, cur)
		cur = iv
	}
	return append(merged, cur)
}

// Intervals returns a copy of the normalized intervals.
func (s IntervalSet) Intervals() []Interval {
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// Pairs returns the intervals as [lo, hi] pairs, the form NewIntervalSet accepts.
func (s IntervalSet) Pairs() [][2]float64 {
	out := make([][2]float64, len(s.intervals))
	for i, iv := range s.intervals {
		out[i] = [2]float64{iv.Lo, iv.Hi}
	}
	return out
}

// Len returns the number of disjoint intervals.
func (s IntervalSet) Len() int {
	return len(s.intervals)
}

// IsEmpty reports whether the set excludes every point.
func (s IntervalSet) IsEmpty() bool {
	return len(s.intervals) == 0
}

// Contains reports whether x lies in any interval (inclusive bounds).
func (s IntervalSet) Contains(x float64) bool {
	// First interval whose Hi >= x is the only candidate.
	i := sort.Search(len(s.intervals), func(i int) bool { return s.intervals[i].Hi >= x })
	return i < len(s.intervals) && s.intervals[i].Lo <= x
}

// Length returns the summed length of all intervals.
func (s IntervalSet) Length() float64 {
	total := 0.0
	for _, iv := range s.intervals {
		total += iv.Length()
	}
	return total
}

// Extent returns the smallest interval containing the set.
// The second return is false for the empty set.
func (s IntervalSet) Extent() (Interval, bool) {
	if len(s.intervals) == 0 {
		return Interval{}, false
	}
	return Interval{Lo: s.intervals[0].Lo, Hi: s.intervals[len(s.intervals)-1].Hi}, true
}

// Intersect returns the points present in both sets.
func (s IntervalSet) Intersect(o IntervalSet) IntervalSet {
	var out []Interval
	i, j := 0, 0
	for i < len(s.intervals) && j < len(o.intervals) {
		a, b := s.intervals[i], o.intervals[j]
		lo, hi := math.Max(a.Lo, b.Lo), math.Min(a.Hi, b.Hi)
		if lo <= hi {
			out = append(out, Interval{Lo: lo, Hi: hi})
		}
		if a.Hi < b.Hi {
			i++
		} else {
			j++
		}
	}
	return IntervalSet{intervals: out}
}

// Union returns the points present in either set.
func (s IntervalSet) Union(o IntervalSet) IntervalSet {
	all := make([]Interval, 0, len(s.intervals)+len(o.intervals))
	all = append(all, s.intervals...)
	all = append(all, o.intervals...)
	return IntervalSet{intervals: normalize(all)}
}

// Covers reports whether every point of o is also in s.
func (s IntervalSet) Covers(o IntervalSet) bool {
	i := 0
	for _, b := range o.intervals {
		for i < len(s.intervals) && s.intervals[i].Hi < b.Lo {
			i++
		}
		// Stored intervals are disjoint, so b must fit inside a single one.
		if i == len(s.intervals) || s.intervals[i].Lo > b.Lo || s.intervals[i].Hi < b.Hi {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold exactly the same intervals.
func (s IntervalSet) Equal(o IntervalSet) bool {
	if len(s.intervals) != len(o.intervals) {
		return false
	}
	for i := range s.intervals {
		if s.intervals[i] != o.intervals[i] {
			return false
		}
	}
	return true
}

// Sample draws one point: an interval is chosen with probability proportional
// to its length, then a point uniformly inside it. A set made only of
// zero-length intervals picks one of them uniformly. Panics on the empty set.
func (s IntervalSet) Sample(rng *rand.Rand) float64 {
	if len(s.intervals) == 0 {
		panic("IntervalSet.Sample: empty set")
	}
	total := s.Length()
	if total <= 0 {
		return s.intervals[rng.Intn(len(s.intervals))].Lo
	}
	u := rng.Float64() * total
	for _, iv := range s.intervals {
		l := iv.Length()
		if u < l {
			return iv.Lo + u
		}
		u -= l
	}
	// Rounding left u just past the final interval.
	return s.intervals[len(s.intervals)-1].Hi
}

// String renders the set as [[lo, hi], ...].
func (s IntervalSet) String() string {
	parts := make([]string, len(s.intervals))
	for i, iv := range s.intervals {
		parts[i] = fmt.Sprintf("[%.6g, %.6g]", iv.Lo, iv.Hi)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
