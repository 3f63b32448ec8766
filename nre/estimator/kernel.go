// Package estimator provides a reference ratio estimator for the round
// controller: a kernel-weighted marginal estimator with no training loop.
//
// For a trained set of (z, x) pairs and an observation x0, each sample is
// weighted by a Gaussian kernel on the standardized distance |x - x0|. The
// marginal log-ratio of parameter d at grid point g is the log of the
// weighted kernel density of z_d over the unweighted one:
//
//	log r_d(g) = log( sum_i w_i K_h(g - z_id) / sum_i w_i )
//	           - log( sum_i K_h(g - z_id) / n )
//
// The kernel bandwidth h is chosen per parameter by Silverman's rule on the
// weighted spread of z_d. Joint log-ratios over parameter combinations use
// the same construction with a product kernel. Outside the support of the training draws the
// denominator is floored so the ratio falls off instead of becoming 0/0.
package estimator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inference-sim/nre-sim/nre"
)

// Kind tags snapshots produced by KernelRatio.
const Kind = "kernel-ratio/v1"

const (
	// DefaultObsBandwidth is the observation kernel width in units of the
	// per-component standard deviation of the training observations.
	DefaultObsBandwidth = 0.2
	// DefaultMinBandwidth floors the parameter kernel width.
	DefaultMinBandwidth = 1e-3

	// priorFloorFraction floors the denominator density relative to its peak.
	priorFloorFraction = 1e-3
	// logTiny is log(smallest positive float64), the value of log(0) here.
	logTiny = -744.44
)

// Config holds the estimator's tuning knobs. Zero fields take defaults.
type Config struct {
	ObsBandwidth float64 `yaml:"obs_bandwidth"`
	MinBandwidth float64 `yaml:"min_bandwidth"`
}

func (c Config) withDefaults() Config {
	if c.ObsBandwidth <= 0 {
		c.ObsBandwidth = DefaultObsBandwidth
	}
	if c.MinBandwidth <= 0 {
		c.MinBandwidth = DefaultMinBandwidth
	}
	return c
}

// state is the serialized form of a trained estimator.
type state struct {
	Dim      int         `json:"dim"`
	ObsScale []float64   `json:"obs_scale"`
	Draws    [][]float64 `json:"draws"`
	Obs      [][]float64 `json:"obs"`
	Rounds   int         `json:"rounds"`
}

// KernelRatio implements nre.Estimator and nre.JointEstimator.
type KernelRatio struct {
	cfg Config
	st  state
	// keepScale freezes the observation standardization inherited from a
	// warm snapshot.
	keepScale bool
}

var _ nre.JointEstimator = (*KernelRatio)(nil)

// New returns an untrained estimator for dim parameters.
func New(dim int, cfg Config) *KernelRatio {
	if dim < 1 {
		panic(fmt.Sprintf("estimator: dim must be >= 1, got %d", dim))
	}
	return &KernelRatio{cfg: cfg.withDefaults(), st: state{Dim: dim}}
}

// Restore rebuilds a trained estimator from a snapshot.
func Restore(snap nre.Snapshot, cfg Config) (*KernelRatio, error) {
	if snap.Kind != Kind {
		return nil, fmt.Errorf("estimator: snapshot kind %q, want %q", snap.Kind, Kind)
	}
	var st state
	if err := json.Unmarshal(snap.Data, &st); err != nil {
		return nil, fmt.Errorf("estimator: decoding snapshot: %w", err)
	}
	if st.Dim < 1 || len(st.Draws) != len(st.Obs) {
		return nil, fmt.Errorf("estimator: inconsistent snapshot (dim %d, %d draws, %d observations)",
			st.Dim, len(st.Draws), len(st.Obs))
	}
	return &KernelRatio{cfg: cfg.withDefaults(), st: st}, nil
}

// NewFactory returns an nre.EstimatorFactory. A warm snapshot carries its
// observation standardization into the new estimator; its samples do not.
func NewFactory(cfg Config) nre.EstimatorFactory {
	return func(dim int, warm *nre.Snapshot) (nre.Estimator, error) {
		if warm == nil {
			return New(dim, cfg), nil
		}
		prev, err := Restore(*warm, cfg)
		if err != nil {
			return nil, err
		}
		if prev.st.Dim != dim {
			return nil, fmt.Errorf("estimator: %w: warm snapshot has dim %d, want %d",
				nre.ErrDimensionMismatch, prev.st.Dim, dim)
		}
		k := New(dim, cfg)
		k.st.ObsScale = prev.st.ObsScale
		k.st.Rounds = prev.st.Rounds
		k.keepScale = len(prev.st.ObsScale) > 0
		return k, nil
	}
}

// Rounds returns how many times this estimator lineage has been trained.
func (k *KernelRatio) Rounds() int { return k.st.Rounds }

// ObsScale returns the per-component observation standardization.
func (k *KernelRatio) ObsScale() []float64 {
	return append([]float64(nil), k.st.ObsScale...)
}

// Train stores the samples and fits the observation standardization.
func (k *KernelRatio) Train(_ context.Context, samples []nre.Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("estimator: no training samples")
	}
	obsDim := len(samples[0].Observation)
	draws := make([][]float64, len(samples))
	obs := make([][]float64, len(samples))
	for i, s := range samples {
		if len(s.Draw) != k.st.Dim {
			return fmt.Errorf("estimator: %w: sample %d has %d parameters, want %d",
				nre.ErrDimensionMismatch, s.Index, len(s.Draw), k.st.Dim)
		}
		if len(s.Observation) != obsDim {
			return fmt.Errorf("estimator: %w: sample %d has %d observation components, want %d",
				nre.ErrDimensionMismatch, s.Index, len(s.Observation), obsDim)
		}
		draws[i] = s.Draw
		obs[i] = s.Observation
	}
	if !k.keepScale || len(k.st.ObsScale) != obsDim {
		k.st.ObsScale = fitScale(obs, obsDim)
	}
	k.st.Draws = draws
	k.st.Obs = obs
	k.st.Rounds++
	logrus.Debugf("estimator: trained on %d samples, obs scale %v", len(samples), k.st.ObsScale)
	return nil
}

func fitScale(obs [][]float64, obsDim int) []float64 {
	scale := make([]float64, obsDim)
	col := make([]float64, len(obs))
	for j := range scale {
		for i, o := range obs {
			col[i] = o[j]
		}
		sd := 1.0
		if len(col) > 1 {
			sd = stat.StdDev(col, nil)
		}
		if !(sd > 0) || math.IsInf(sd, 0) {
			sd = 1
		}
		scale[j] = sd
	}
	return scale
}

// weights returns the observation-kernel weight of every sample, scaled so
// the largest is 1.
func (k *KernelRatio) weights(x0 nre.Observation) []float64 {
	lw := make([]float64, len(k.st.Obs))
	for i, o := range k.st.Obs {
		d2 := 0.0
		for j, v := range o {
			u := (v - x0[j]) / (k.cfg.ObsBandwidth * k.st.ObsScale[j])
			d2 += u * u
		}
		lw[i] = -0.5 * d2
	}
	floats.AddConst(-floats.Max(lw), lw)
	for i, v := range lw {
		lw[i] = math.Exp(v)
	}
	return lw
}

// bandwidth applies Silverman's rule for a k-dimensional product kernel to
// the weighted spread of zs.
func (k *KernelRatio) bandwidth(zs, w []float64, dims int) float64 {
	_, variance := stat.MeanVariance(zs, w)
	sd := math.Sqrt(variance)
	if !(sd > 0) || math.IsInf(sd, 0) {
		sd = stat.StdDev(zs, nil)
	}
	sumW, sumW2 := floats.Sum(w), floats.Dot(w, w)
	nEff := 1.0
	if sumW2 > 0 {
		nEff = sumW * sumW / sumW2
	}
	kd := float64(dims)
	h := math.Pow(4/(kd+2), 1/(kd+4)) * sd * math.Pow(nEff, -1/(kd+4))
	if !(h >= k.cfg.MinBandwidth) {
		h = k.cfg.MinBandwidth
	}
	return h
}

// kernel is the truncated Gaussian kernel.
func kernel(u float64) float64 {
	if u > 6 || u < -6 {
		return 0
	}
	return math.Exp(-0.5 * u * u)
}

// logRatio turns weighted (num) and unweighted (den) densities into a
// log-ratio, flooring den relative to its peak.
func logRatio(num, den []float64) []float64 {
	floor := priorFloorFraction * floats.Max(den)
	if !(floor > 0) {
		floor = math.SmallestNonzeroFloat64
	}
	out := make([]float64, len(num))
	for g := range num {
		lp := logTiny
		if num[g] > 0 {
			lp = math.Log(num[g])
		}
		out[g] = lp - math.Log(math.Max(den[g], floor))
	}
	return out
}

func (k *KernelRatio) checkEval(x0 nre.Observation) error {
	if len(k.st.Draws) == 0 {
		return fmt.Errorf("estimator: evaluate before train")
	}
	if len(x0) != len(k.st.ObsScale) {
		return fmt.Errorf("estimator: %w: observation has %d components, trained on %d",
			nre.ErrDimensionMismatch, len(x0), len(k.st.ObsScale))
	}
	return nil
}

// Evaluate returns one log-ratio curve per parameter on grid.
func (k *KernelRatio) Evaluate(ctx context.Context, x0 nre.Observation, grid []float64) ([][]float64, error) {
	if err := k.checkEval(x0); err != nil {
		return nil, err
	}
	w := k.weights(x0)
	sumW := floats.Sum(w)
	n := float64(len(k.st.Draws))
	zs := make([]float64, len(k.st.Draws))
	curves := make([][]float64, k.st.Dim)
	num := make([]float64, len(grid))
	den := make([]float64, len(grid))
	for d := range curves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, z := range k.st.Draws {
			zs[i] = z[d]
		}
		h := k.bandwidth(zs, w, 1)
		for g, x := range grid {
			var sw, s float64
			for i, z := range zs {
				kv := kernel((x - z) / h)
				if kv == 0 {
					continue
				}
				sw += w[i] * kv
				s += kv
			}
			num[g] = sw / sumW
			den[g] = s / n
		}
		logrus.Debugf("estimator: z%d bandwidth %.4g", d, h)
		curves[d] = logRatio(num, den)
	}
	return curves, nil
}

// EvaluateJoint returns, per combination, the joint log-ratio on the product
// grid (row-major, last axis fastest) using a product kernel over the
// combination's parameters.
func (k *KernelRatio) EvaluateJoint(ctx context.Context, x0 nre.Observation, combos [][]int, grid []float64) ([][]float64, error) {
	if err := k.checkEval(x0); err != nil {
		return nil, err
	}
	w := k.weights(x0)
	sumW := floats.Sum(w)
	n := len(k.st.Draws)
	zs := make([]float64, n)
	out := make([][]float64, len(combos))
	for c, combo := range combos {
		if len(combo) == 0 {
			return nil, fmt.Errorf("estimator: combination %d is empty", c)
		}
		size := nre.JointGridSize(grid, len(combo))
		if size < 0 {
			return nil, fmt.Errorf("estimator: combination %v exceeds %d grid points", combo, nre.MaxJointGridPoints)
		}
		// tables[a][g][i] is the kernel of sample i at grid point g on axis a.
		tables := make([][][]float64, len(combo))
		for a, d := range combo {
			if d < 0 || d >= k.st.Dim {
				return nil, fmt.Errorf("estimator: %w: parameter %d of %d", nre.ErrDimensionMismatch, d, k.st.Dim)
			}
			for i, z := range k.st.Draws {
				zs[i] = z[d]
			}
			h := k.bandwidth(zs, w, len(combo))
			tab := make([][]float64, len(grid))
			for g, x := range grid {
				row := make([]float64, n)
				for i, z := range zs {
					row[i] = kernel((x - z) / h)
				}
				tab[g] = row
			}
			tables[a] = tab
		}

		num := make([]float64, size)
		den := make([]float64, size)
		idx := make([]int, len(combo))
		for p := 0; p < size; p++ {
			if p%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			var sw, s float64
			for i := 0; i < n; i++ {
				kv := 1.0
				for a := range combo {
					if kv *= tables[a][idx[a]][i]; kv == 0 {
						break
					}
				}
				sw += w[i] * kv
				s += kv
			}
			num[p] = sw / sumW
			den[p] = s / float64(n)
			for a := len(idx) - 1; a >= 0; a-- {
				idx[a]++
				if idx[a] < len(grid) {
					break
				}
				idx[a] = 0
			}
		}
		out[c] = logRatio(num, den)
	}
	return out, nil
}

// Snapshot serializes the trained state.
func (k *KernelRatio) Snapshot() (nre.Snapshot, error) {
	data, err := json.Marshal(k.st)
	if err != nil {
		return nre.Snapshot{}, fmt.Errorf("estimator: encoding snapshot: %w", err)
	}
	return nre.Snapshot{Kind: Kind, Data: data}, nil
}
