package trace

// TraceSummary aggregates statistics from a RunTrace.
type TraceSummary struct {
	TotalExtractions int
	RuleDistribution map[string]int // extraction rule → count
	FlatCurves       int            // RuleNoCrossings extractions
	TotalRequested   int
	TotalReused      int
	TotalAppended    int
	MeanAcceptance   float64 // appended / drawn over allocations that drew
	ExhaustedCount   int
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *TraceSummary {
	summary := &TraceSummary{
		RuleDistribution: make(map[string]int),
	}
	if rt == nil {
		return summary
	}

	summary.TotalExtractions = len(rt.Extractions)
	for _, e := range rt.Extractions {
		summary.RuleDistribution[e.Rule]++
		if e.Rule == RuleNoCrossings {
			summary.FlatCurves++
		}
	}

	drawn, appended := 0, 0
	for _, a := range rt.Allocations {
		summary.TotalRequested += a.Requested
		summary.TotalReused += a.Reused
		summary.TotalAppended += a.Appended
		if a.Exhausted {
			summary.ExhaustedCount++
		}
		if a.Drawn > 0 {
			drawn += a.Drawn
			appended += a.Appended
		}
	}
	if drawn > 0 {
		summary.MeanAcceptance = float64(appended) / float64(drawn)
	}

	return summary
}
