// Tracks engine-wide counters and per-round summaries such as:
// store growth, simulation fills, draw reuse, rejection rate and region volume.

package nre

import (
	"fmt"
	"io"

	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nre_store_appends_total",
		Help: "Total number of draws appended to the simulation store",
	})

	storeFillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nre_store_fills_total",
		Help: "Total number of simulated observations written to the store",
	})

	storePendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nre_store_pending",
		Help: "Number of store entries awaiting simulation",
	})

	allocReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nre_alloc_reused_total",
		Help: "Total number of stored draws reused by later intensities",
	})

	allocRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nre_alloc_rejected_total",
		Help: "Total number of proposal candidates rejected by the region test",
	})

	regionVolumeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nre_region_volume",
		Help: "Volume of the current round's factorized region",
	})

	roundsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nre_rounds_completed_total",
		Help: "Total number of completed inference rounds",
	})
)

// AxisSummary describes the accepted draws of one round along one axis.
type AxisSummary struct {
	Mean   float64
	Median float64
	P05    float64
	P95    float64
}

// RoundMetrics aggregates one round's allocation for reporting.
type RoundMetrics struct {
	Round     int
	Volume    float64
	Requested int
	Reused    int
	New       int
	Drawn     int
	Axes      []AxisSummary
}

// SummarizeDraws computes per-axis summaries of draws. Returns nil for no draws.
func SummarizeDraws(draws [][]float64) ([]AxisSummary, error) {
	if len(draws) == 0 {
		return nil, nil
	}
	dim := len(draws[0])
	out := make([]AxisSummary, dim)
	col := make(stats.Float64Data, len(draws))
	for i := 0; i < dim; i++ {
		for n, z := range draws {
			col[n] = z[i]
		}
		mean, err := col.Mean()
		if err != nil {
			return nil, fmt.Errorf("axis %d mean: %w", i, err)
		}
		median, err := col.Median()
		if err != nil {
			return nil, fmt.Errorf("axis %d median: %w", i, err)
		}
		p05, err := col.PercentileNearestRank(5)
		if err != nil {
			return nil, fmt.Errorf("axis %d p05: %w", i, err)
		}
		p95, err := col.PercentileNearestRank(95)
		if err != nil {
			return nil, fmt.Errorf("axis %d p95: %w", i, err)
		}
		out[i] = AxisSummary{Mean: mean, Median: median, P05: p05, P95: p95}
	}
	return out, nil
}

// Print writes the round summary in the simulator's report format.
func (m *RoundMetrics) Print(w io.Writer) {
	fmt.Fprintf(w, "=== Round %d ===\n", m.Round)
	fmt.Fprintf(w, "Region Volume        : %.6g\n", m.Volume)
	fmt.Fprintf(w, "Requested Samples    : %d\n", m.Requested)
	fmt.Fprintf(w, "Reused / New         : %d / %d\n", m.Reused, m.New)
	if m.Drawn > 0 {
		fmt.Fprintf(w, "Acceptance Rate      : %.4f\n", float64(m.New)/float64(m.Drawn))
	}
	for i, a := range m.Axes {
		fmt.Fprintf(w, "z%-3d mean=%.4f median=%.4f p05=%.4f p95=%.4f\n", i, a.Mean, a.Median, a.P05, a.P95)
	}
}
