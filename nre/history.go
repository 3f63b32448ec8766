package nre

import (
	"fmt"
	"slices"
)

// RoundRecord is the allocation half of one round: the region and intensity
// the round sampled from and the store indices it selected. Committed once at
// allocation and never rewritten.
type RoundRecord struct {
	Round     int
	Region    FactorRegion
	Intensity *Intensity
	Indices   []int
	Reused    int
	Appended  int
	Drawn     int
}

// RoundResult is the training half of one round: the trained estimator's
// snapshot, its per-dimension log-ratio curves on the grid, and the intervals
// extracted from them for the next round.
type RoundResult struct {
	Round     int
	Grid      []float64
	LogRatios [][]float64
	Axes      []IntervalSet
	Crossings []Crossings // indexed by dimension; zero value for untruncated axes
	Snapshot  Snapshot
}

// History is the append-only arena of rounds, indexed by round number.
// Readers receive copies of the index lists; curves and grids are shared and
// must be treated as read-only.
type History struct {
	records []RoundRecord
	results []RoundResult
	joints  []JointResult
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

func (h *History) commitRecord(r RoundRecord) {
	if r.Round != len(h.records) {
		panic(fmt.Sprintf("History: record for round %d committed at position %d", r.Round, len(h.records)))
	}
	h.records = append(h.records, r)
}

func (h *History) commitResult(r RoundResult) {
	if r.Round != len(h.results) {
		panic(fmt.Sprintf("History: result for round %d committed at position %d", r.Round, len(h.results)))
	}
	h.results = append(h.results, r)
}

func (h *History) commitJoint(r JointResult) JointResult {
	r.Version = len(h.joints)
	h.joints = append(h.joints, r)
	return r
}

// Joints returns every joint result in the order they were evaluated.
func (h *History) Joints() []JointResult {
	return append([]JointResult(nil), h.joints...)
}

// Joint finds combo in the joint results, newest first, and returns the
// result with the combination's position in it.
func (h *History) Joint(combo []int) (JointResult, int, error) {
	for v := len(h.joints) - 1; v >= 0; v-- {
		for j, c := range h.joints[v].Combos {
			if slices.Equal(c, combo) {
				return h.joints[v], j, nil
			}
		}
	}
	return JointResult{}, -1, fmt.Errorf("%w: %v", ErrUnknownCombination, combo)
}

// Len returns the number of allocated rounds.
func (h *History) Len() int {
	return len(h.records)
}

// Completed returns the number of rounds with a training result.
func (h *History) Completed() int {
	return len(h.results)
}

// resolve maps a version to a position; negative versions count from the end
// (-1 is the latest).
func resolve(version, n int) (int, error) {
	i := version
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("round version %d out of range (%d rounds)", version, n)
	}
	return i, nil
}

// Round returns the allocation record for version.
func (h *History) Round(version int) (RoundRecord, error) {
	i, err := resolve(version, len(h.records))
	if err != nil {
		return RoundRecord{}, err
	}
	r := h.records[i]
	r.Indices = append([]int(nil), r.Indices...)
	return r, nil
}

// Result returns the training result for version.
func (h *History) Result(version int) (RoundResult, error) {
	i, err := resolve(version, len(h.results))
	if err != nil {
		return RoundResult{}, err
	}
	return h.results[i], nil
}

// Records returns every allocation record in round order.
func (h *History) Records() []RoundRecord {
	out := make([]RoundRecord, len(h.records))
	for i, r := range h.records {
		r.Indices = append([]int(nil), r.Indices...)
		out[i] = r
	}
	return out
}

// AcceptedUnder returns the stored indices whose draws the given round's
// intensity region accepts, recomputed from the store. Lets diagnostics ask
// which draws an earlier round would have taken.
func (h *History) AcceptedUnder(version int, store *SimulationStore) ([]int, error) {
	r, err := h.Round(version)
	if err != nil {
		return nil, err
	}
	var out []int
	store.Scan(func(e Entry) bool {
		if r.Region.Contains(e.Draw) {
			out = append(out, e.Index)
		}
		return true
	})
	return out, nil
}
