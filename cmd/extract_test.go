package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/nre-sim/nre"
)

func TestExtractFromReader_CommaAndWhitespaceRows(t *testing.T) {
	// GIVEN a curve above zero on [0.2, 0.4], mixing separators and comments
	input := `# x, y
0.0, -1
0.1 -1
0.2, 1
0.3	1
0.4, 1
0.5, -1
`
	// WHEN extracted
	set, c, err := extractFromReader(strings.NewReader(input), nre.CrossingClip, false, 0)
	require.NoError(t, err)

	// THEN the interval spans the above-zero rows
	assert.Equal(t, [][2]float64{{0.1, 0.4}}, set.Pairs())
	assert.Equal(t, [2]int{1, 1}, c.Detected)

	var buf bytes.Buffer
	printExtraction(&buf, set, c)
	assert.Contains(t, buf.String(), "0.1 0.4")
}

func TestExtractFromReader_LogRatio(t *testing.T) {
	// GIVEN a Gaussian log-ratio centered on 0.5 with sigma 0.1
	var b strings.Builder
	for i := 0; i <= 100; i++ {
		x := float64(i) / 100
		fmt.Fprintf(&b, "%v,%v\n", x, -0.5*math.Pow((x-0.5)/0.1, 2))
	}

	// WHEN thresholded at e^-2 (two sigma)
	set, _, err := extractFromReader(strings.NewReader(b.String()), nre.CrossingClip, true, math.Exp(-2))
	require.NoError(t, err)

	// THEN the interval is roughly [0.3, 0.7]
	require.Equal(t, 1, set.Len())
	iv := set.Intervals()[0]
	assert.InDelta(t, 0.3, iv.Lo, 0.011)
	assert.InDelta(t, 0.7, iv.Hi, 0.011)
}

func TestExtractFromReader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"three columns", "0,1,2\n1,1,1\n"},
		{"bad number", "0,x\n1,1\n"},
		{"single row", "0,1\n"},
		{"descending x", "0.5,1\n0.2,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := extractFromReader(strings.NewReader(tt.input), nre.CrossingClip, false, 0)
			assert.Error(t, err)
		})
	}

	_, _, err := extractFromReader(strings.NewReader("0,1\n1,1\n"), nre.CrossingClip, true, 2)
	assert.Error(t, err, "threshold outside (0, 1)")

	_, _, err = extractFromReader(strings.NewReader("0,1\n0.5,-1\n1,1\n"), nre.CrossingStrict, false, 0)
	assert.True(t, errors.Is(err, nre.ErrMalformedCurve), "got %v", err)
}
