package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/nre-sim/nre"
)

var (
	extractPolicy    string  // Boundary policy
	extractLogRatio  bool    // Treat y as a log-ratio curve
	extractThreshold float64 // Threshold for --log-ratio
)

// extractCmd finds the intervals where a sampled curve is above zero
var extractCmd = &cobra.Command{
	Use:   "extract <curve.csv>",
	Short: "Print the intervals where a sampled curve is above zero",
	Long: "Reads x,y rows (comma or whitespace separated, '#' comments allowed) with x strictly\n" +
		"ascending and prints the intervals where y > 0. With --log-ratio, y is a log-ratio\n" +
		"curve and the intervals are where it is within --threshold of its maximum.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		policy, err := nre.ParseCrossingPolicy(extractPolicy)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		f, err := os.Open(args[0])
		if err != nil {
			logrus.Fatalf("Failed to open curve file: %v", err)
		}
		defer f.Close()
		set, c, err := extractFromReader(f, policy, extractLogRatio, extractThreshold)
		if err != nil {
			logrus.Fatalf("Extraction failed: %v", err)
		}
		printExtraction(os.Stdout, set, c)
	},
}

// readCurve parses x,y rows.
func readCurve(r io.Reader) (x, y []float64, err error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read curve: %w", err)
		}
		line++
		if len(rec) == 1 {
			rec = strings.Fields(rec[0])
		}
		if len(rec) == 0 {
			continue
		}
		if len(rec) != 2 {
			return nil, nil, fmt.Errorf("curve row %d: want 2 columns, got %d", line, len(rec))
		}
		xv, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("curve row %d: x: %w", line, err)
		}
		yv, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("curve row %d: y: %w", line, err)
		}
		x = append(x, xv)
		y = append(y, yv)
	}
	return x, y, nil
}

// extractFromReader reads a curve and extracts its above-zero intervals.
func extractFromReader(r io.Reader, policy nre.CrossingPolicy, logRatio bool, thr float64) (nre.IntervalSet, nre.Crossings, error) {
	x, y, err := readCurve(r)
	if err != nil {
		return nre.IntervalSet{}, nre.Crossings{}, err
	}
	if logRatio {
		if !(thr > 0 && thr < 1) {
			return nre.IntervalSet{}, nre.Crossings{}, fmt.Errorf("threshold must be in (0, 1), got %v", thr)
		}
		y = nre.CurveFromLogRatio(y, thr)
	}
	return nre.ConstructIntervals(x, y, policy)
}

func printExtraction(w io.Writer, set nre.IntervalSet, c nre.Crossings) {
	fmt.Fprintf(w, "Rule                 : %s\n", c.Rule)
	fmt.Fprintf(w, "Crossings (up/down)  : %d / %d\n", c.Detected[0], c.Detected[1])
	fmt.Fprintf(w, "Total Length         : %.6g\n", set.Length())
	for _, iv := range set.Intervals() {
		fmt.Fprintf(w, "%.6g %.6g\n", iv.Lo, iv.Hi)
	}
}

func init() {
	extractCmd.Flags().StringVar(&extractPolicy, "policy", nre.CrossingClip.String(), "Boundary policy (clip, strict)")
	extractCmd.Flags().BoolVar(&extractLogRatio, "log-ratio", false, "Treat y as a log-ratio curve")
	extractCmd.Flags().Float64Var(&extractThreshold, "threshold", nre.DefaultThreshold, "Ratio threshold relative to the maximum, with --log-ratio")
}
