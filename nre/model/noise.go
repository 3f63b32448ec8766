package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// NoiseSampler draws one additive noise term per observation component.
type NoiseSampler interface {
	Sample(rng *rand.Rand) float64
}

// NoiseSpec selects a noise distribution by type and named parameters.
// An empty Type means Gaussian noise with the model's Noise as std_dev.
type NoiseSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params"`
}

// GaussianNoise is N(0, stdDev^2).
type GaussianNoise struct {
	stdDev float64
}

func (s *GaussianNoise) Sample(rng *rand.Rand) float64 {
	if s.stdDev == 0 {
		return 0
	}
	return s.stdDev * rng.NormFloat64()
}

// LaplaceNoise is a symmetric exponential with the given scale.
type LaplaceNoise struct {
	scale float64
}

func (s *LaplaceNoise) Sample(rng *rand.Rand) float64 {
	v := rng.ExpFloat64() * s.scale
	if rng.Float64() < 0.5 {
		return -v
	}
	return v
}

// ContaminatedNoise mixes a narrow Gaussian with a wide outlier Gaussian.
// With probability mixWeight the outlier component is drawn.
type ContaminatedNoise struct {
	stdDev        float64
	outlierStdDev float64
	mixWeight     float64
}

func (s *ContaminatedNoise) Sample(rng *rand.Rand) float64 {
	sd := s.stdDev
	if rng.Float64() < s.mixWeight {
		sd = s.outlierStdDev
	}
	v := sd * rng.NormFloat64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// UniformNoise is uniform on [-halfWidth, halfWidth].
type UniformNoise struct {
	halfWidth float64
}

func (s *UniformNoise) Sample(rng *rand.Rand) float64 {
	return (2*rng.Float64() - 1) * s.halfWidth
}

func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			return fmt.Errorf("noise distribution requires parameter %q", k)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("noise parameter %q must be finite and >= 0, got %v", k, v)
		}
	}
	return nil
}

var noiseTypes = []string{"contaminated", "gaussian", "laplace", "uniform"}

// NoiseTypes returns the valid NoiseSpec types in sorted order.
func NoiseTypes() []string {
	out := append([]string(nil), noiseTypes...)
	sort.Strings(out)
	return out
}

// NewNoiseSampler builds the sampler described by spec. defaultStdDev is used
// when spec.Type is empty.
func NewNoiseSampler(spec NoiseSpec, defaultStdDev float64) (NoiseSampler, error) {
	switch spec.Type {
	case "":
		if defaultStdDev < 0 || math.IsNaN(defaultStdDev) {
			return nil, fmt.Errorf("model noise must be >= 0, got %v", defaultStdDev)
		}
		return &GaussianNoise{stdDev: defaultStdDev}, nil

	case "gaussian":
		if err := requireParam(spec.Params, "std_dev"); err != nil {
			return nil, err
		}
		return &GaussianNoise{stdDev: spec.Params["std_dev"]}, nil

	case "laplace":
		if err := requireParam(spec.Params, "scale"); err != nil {
			return nil, err
		}
		return &LaplaceNoise{scale: spec.Params["scale"]}, nil

	case "contaminated":
		if err := requireParam(spec.Params, "std_dev", "outlier_std_dev", "mix_weight"); err != nil {
			return nil, err
		}
		if w := spec.Params["mix_weight"]; w > 1 {
			return nil, fmt.Errorf("noise parameter \"mix_weight\" must be in [0, 1], got %v", w)
		}
		return &ContaminatedNoise{
			stdDev:        spec.Params["std_dev"],
			outlierStdDev: spec.Params["outlier_std_dev"],
			mixWeight:     spec.Params["mix_weight"],
		}, nil

	case "uniform":
		if err := requireParam(spec.Params, "half_width"); err != nil {
			return nil, err
		}
		return &UniformNoise{halfWidth: spec.Params["half_width"]}, nil

	default:
		return nil, fmt.Errorf("unknown noise type %q; valid: %v", spec.Type, NoiseTypes())
	}
}
