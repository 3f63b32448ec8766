package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every extraction and allocation decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// RunTrace collects decision records during an inference run.
type RunTrace struct {
	Config      TraceConfig
	Extractions []ExtractionRecord
	Allocations []AllocationRecord
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(config TraceConfig) *RunTrace {
	return &RunTrace{
		Config:      config,
		Extractions: make([]ExtractionRecord, 0),
		Allocations: make([]AllocationRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on nil.
func (rt *RunTrace) Enabled() bool {
	return rt != nil && rt.Config.Level == TraceLevelDecisions
}

// RecordExtraction appends an extraction decision record.
func (rt *RunTrace) RecordExtraction(record ExtractionRecord) {
	rt.Extractions = append(rt.Extractions, record)
}

// RecordAllocation appends an allocation decision record.
func (rt *RunTrace) RecordAllocation(record AllocationRecord) {
	rt.Allocations = append(rt.Allocations, record)
}
