// Package trace provides decision-trace recording for round-by-round analysis.
// This package has no dependencies on nre/; it stores pure data types.
package trace

// Extraction rules describing how a curve's crossings were paired.
const (
	RuleCrossings     = "crossings"      // balanced crossings, paired as-is
	RuleNoCrossings   = "no-crossings"   // flat curve, full grid span returned
	RuleSyntheticDown = "synthetic-down" // curve above zero at right boundary
	RuleSyntheticUp   = "synthetic-up"   // curve above zero at left boundary
	RuleSyntheticBoth = "synthetic-both" // above zero at both boundaries (clip policy)
)

// ExtractionRecord captures a single credible-region extraction on one axis.
type ExtractionRecord struct {
	Round         int
	Dim           int
	GridPoints    int
	Upcrossings   int          // detected, before boundary extension
	Downcrossings int          // detected, before boundary extension
	Rule          string       // one of the Rule* constants
	Intervals     [][2]float64 // resulting [lo, hi] pairs
	FlatAbove     bool         // for RuleNoCrossings: curve entirely above zero
}

// AllocationRecord captures a single intensity allocation.
type AllocationRecord struct {
	Round     int
	Volume    float64
	Requested int
	Reused    int // satisfied from earlier store entries
	Appended  int // new pending entries
	Drawn     int // proposal candidates drawn
	Exhausted bool
}
