package nre

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultJointGridResolution is the per-axis spacing of joint grids.
	DefaultJointGridResolution = 0.02
	// MaxJointGridPoints bounds the product grid of a single combination.
	MaxJointGridPoints = 1 << 21
)

// JointEstimator is implemented by estimators that can evaluate joint
// log-ratios over parameter combinations.
//
// For each combination the result holds one value per point of the product
// grid grid^len(combo), in row-major order: the last axis of the combination
// varies fastest.
type JointEstimator interface {
	Estimator
	EvaluateJoint(ctx context.Context, obs Observation, combos [][]int, grid []float64) ([][]float64, error)
}

// JointResult is one joint evaluation: an estimator trained on a completed
// round's samples and evaluated on several parameter combinations.
type JointResult struct {
	Version   int     // position in the joint history
	Round     int     // round whose samples trained the estimator
	Combos    [][]int // ascending parameter indices per combination
	Grid      []float64
	LogRatios [][]float64 // indexed like Combos, row-major over the product grid
	Snapshot  Snapshot
}

// JointPosterior is a normalized density over the product grid of one
// combination.
type JointPosterior struct {
	Combo   []int
	Grid    []float64
	Density []float64 // row-major, last axis fastest
}

// Point returns the parameter values of flat product-grid index i.
func (p JointPosterior) Point(i int) []float64 {
	return JointPoint(p.Grid, len(p.Combo), i)
}

// Mode returns the grid point with the highest density.
func (p JointPosterior) Mode() []float64 {
	return p.Point(floats.MaxIdx(p.Density))
}

// JointGridSize returns len(grid)^k, or -1 when it exceeds MaxJointGridPoints.
func JointGridSize(grid []float64, k int) int {
	n := 1
	for j := 0; j < k; j++ {
		n *= len(grid)
		if n > MaxJointGridPoints {
			return -1
		}
	}
	return n
}

// JointPoint decodes flat index i of the k-dimensional product grid.
func JointPoint(grid []float64, k, i int) []float64 {
	p := make([]float64, k)
	for j := k - 1; j >= 0; j-- {
		p[j] = grid[i%len(grid)]
		i /= len(grid)
	}
	return p
}

// trapezoidWeights returns the 1-d trapezoid rule weights of grid.
func trapezoidWeights(grid []float64) []float64 {
	n := len(grid)
	w := make([]float64, n)
	for i := range w {
		lo, hi := max(i-1, 0), min(i+1, n-1)
		w[i] = (grid[hi] - grid[lo]) / 2
	}
	return w
}

// PreparePosteriorND normalizes a joint log-ratio surface over the
// k-dimensional product grid with the tensor trapezoid rule. logr is not
// modified.
func PreparePosteriorND(grid []float64, k int, logr []float64) ([]float64, error) {
	if k < 1 || len(grid) < 2 {
		return nil, fmt.Errorf("joint posterior needs k >= 1 and 2 grid points, got k=%d, %d points", k, len(grid))
	}
	if n := JointGridSize(grid, k); n != len(logr) {
		return nil, fmt.Errorf("%w: %d values for a %d-point product grid", ErrDimensionMismatch, len(logr), n)
	}
	w := trapezoidWeights(grid)
	pdf := append([]float64(nil), logr...)
	floats.AddConst(-floats.Max(pdf), pdf)
	norm := 0.0
	idx := make([]int, k)
	for i, v := range pdf {
		pdf[i] = math.Exp(v)
		cell := 1.0
		for _, a := range idx {
			cell *= w[a]
		}
		norm += pdf[i] * cell
		for j := k - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < len(grid) {
				break
			}
			idx[j] = 0
		}
	}
	if !(norm > 0) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("joint posterior normalization is %g", norm)
	}
	floats.Scale(1/norm, pdf)
	return pdf, nil
}

// Joint trains a fresh estimator on the samples of the latest completed round
// and evaluates it on every combination, at grid spacing res (0 means
// DefaultJointGridResolution). Each selector is resolved once into ascending
// indices. The result is appended to the joint history; earlier entries are
// never rewritten. With RecycleEstimator the estimator warm-starts from that
// round's snapshot.
func (c *RoundController) Joint(ctx context.Context, res float64, combos ...ParamSelector) (JointResult, error) {
	if len(combos) == 0 {
		return JointResult{}, fmt.Errorf("joint: no parameter combinations")
	}
	last, err := c.history.Result(-1)
	if err != nil {
		return JointResult{}, fmt.Errorf("joint: %w", ErrNoCompletedRound)
	}
	if res <= 0 {
		res = DefaultJointGridResolution
	}
	grid := LinearGrid(res)

	resolved := make([][]int, len(combos))
	for i, sel := range combos {
		idx, err := sel.Resolve(c.cfg.Dim, c.cfg.ParamNames)
		if err != nil {
			return JointResult{}, fmt.Errorf("joint: combination %s: %w", sel, err)
		}
		if len(idx) == 0 {
			return JointResult{}, fmt.Errorf("joint: combination %s selects no parameters", sel)
		}
		if JointGridSize(grid, len(idx)) < 0 {
			return JointResult{}, fmt.Errorf("joint: combination %v at resolution %g exceeds %d grid points",
				idx, res, MaxJointGridPoints)
		}
		resolved[i] = idx
	}

	rec, err := c.history.Round(last.Round)
	if err != nil {
		return JointResult{}, err
	}
	samples, err := c.store.Get(rec.Indices)
	if err != nil {
		return JointResult{}, fmt.Errorf("joint: %w", err)
	}
	var warm *Snapshot
	if c.cfg.RecycleEstimator {
		warm = &last.Snapshot
	}
	est, err := c.factory(c.cfg.Dim, warm)
	if err != nil {
		return JointResult{}, fmt.Errorf("joint: building estimator: %w", err)
	}
	je, ok := est.(JointEstimator)
	if !ok {
		return JointResult{}, fmt.Errorf("joint: %w: %T", ErrJointUnsupported, est)
	}
	if err := je.Train(ctx, samples); err != nil {
		return JointResult{}, fmt.Errorf("joint: training: %w", err)
	}
	surfaces, err := je.EvaluateJoint(ctx, c.obs, resolved, grid)
	if err != nil {
		return JointResult{}, fmt.Errorf("joint: evaluating: %w", err)
	}
	if len(surfaces) != len(resolved) {
		return JointResult{}, fmt.Errorf("joint: %w: estimator returned %d surfaces for %d combinations",
			ErrDimensionMismatch, len(surfaces), len(resolved))
	}
	for i, s := range surfaces {
		if want := JointGridSize(grid, len(resolved[i])); len(s) != want {
			return JointResult{}, fmt.Errorf("joint: %w: combination %v has %d values, want %d",
				ErrDimensionMismatch, resolved[i], len(s), want)
		}
	}
	snap, err := je.Snapshot()
	if err != nil {
		return JointResult{}, fmt.Errorf("joint: snapshot: %w", err)
	}
	jr := c.history.commitJoint(JointResult{
		Round:     last.Round,
		Combos:    resolved,
		Grid:      grid,
		LogRatios: surfaces,
		Snapshot:  snap,
	})
	logrus.Infof("joint %d: evaluated %v on round %d samples (%d grid points per axis)",
		jr.Version, resolved, last.Round, len(grid))
	return jr, nil
}

// PosteriorND returns the normalized joint density of the combination sel
// resolves to, from the most recent joint result that evaluated it.
func (c *RoundController) PosteriorND(sel ParamSelector) (JointPosterior, error) {
	combo, err := sel.Resolve(c.cfg.Dim, c.cfg.ParamNames)
	if err != nil {
		return JointPosterior{}, err
	}
	jr, j, err := c.history.Joint(combo)
	if err != nil {
		return JointPosterior{}, err
	}
	pdf, err := PreparePosteriorND(jr.Grid, len(combo), jr.LogRatios[j])
	if err != nil {
		return JointPosterior{}, err
	}
	return JointPosterior{Combo: slices.Clone(combo), Grid: jr.Grid, Density: pdf}, nil
}
