package nre

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeDraws(t *testing.T) {
	draws := [][]float64{{0.1, 1}, {0.2, 2}, {0.3, 3}, {0.4, 4}, {0.5, 5}}
	got, err := SummarizeDraws(draws)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.3, got[0].Mean, 1e-12)
	assert.InDelta(t, 0.3, got[0].Median, 1e-12)
	assert.InDelta(t, 3, got[1].Median, 1e-12)
	assert.LessOrEqual(t, got[1].P05, got[1].Median)
	assert.GreaterOrEqual(t, got[1].P95, got[1].Median)

	none, err := SummarizeDraws(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRoundMetrics_Print(t *testing.T) {
	m := RoundMetrics{Round: 2, Volume: 0.08, Requested: 50, Reused: 10, New: 40, Drawn: 500,
		Axes: []AxisSummary{{Mean: 0.3, Median: 0.3, P05: 0.21, P95: 0.39}}}
	var buf bytes.Buffer
	m.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "=== Round 2 ===")
	assert.Contains(t, out, "Reused / New         : 10 / 40")
	assert.Contains(t, out, "Acceptance Rate      : 0.0800")
	assert.Contains(t, out, "z0")
}

func TestSummarizeDraws_SmallSample(t *testing.T) {
	got, err := SummarizeDraws([][]float64{{0.4}, {0.6}})
	require.NoError(t, err)
	assert.Equal(t, 0.4, got[0].P05)
	assert.Equal(t, 0.6, got[0].P95)
}
