package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/nre-sim/nre"
	"github.com/inference-sim/nre-sim/nre/estimator"
	"github.com/inference-sim/nre-sim/nre/model"
	"github.com/inference-sim/nre-sim/nre/trace"
)

// defaultTruth is the per-axis parameter used to synthesize an observation
// when the config gives neither an observation nor a truth vector.
const defaultTruth = 0.3

// RunConfig is the YAML form of an inference run. Every field can also be set
// by a flag of the run command; flags win over the file.
type RunConfig struct {
	Seed             int64            `yaml:"seed"`
	Dim              int              `yaml:"dim"`
	ParamNames       []string         `yaml:"param_names"`
	Rounds           int              `yaml:"rounds"`
	SamplesPerRound  int              `yaml:"samples_per_round"`
	Threshold        float64          `yaml:"threshold"`
	GridResolution   float64          `yaml:"grid_resolution"`
	MaxDraws         int              `yaml:"max_draws"`
	Proposal         string           `yaml:"proposal"`
	DisableReuse     bool             `yaml:"disable_reuse"`
	Workers          int              `yaml:"workers"`
	RecycleEstimator bool             `yaml:"recycle_estimator"`
	CrossingPolicy   string           `yaml:"crossing_policy"`
	Truncate         TruncateConfig   `yaml:"truncate"`
	Joint            JointConfig      `yaml:"joint"`
	Model            ModelConfig      `yaml:"model"`
	Estimator        estimator.Config `yaml:"estimator"`
	StorePath        string           `yaml:"store_path"`
	Trace            string           `yaml:"trace"`
}

// TruncateConfig selects the parameters whose region is refined, by index or
// by name. Empty selects all.
type TruncateConfig struct {
	Indices []int    `yaml:"indices"`
	Names   []string `yaml:"names"`
}

// JointConfig lists parameter combinations whose joint posterior is evaluated
// after the last round, by index or by name.
type JointConfig struct {
	Indices        [][]int    `yaml:"indices"`
	Names          [][]string `yaml:"names"`
	GridResolution float64    `yaml:"grid_resolution"`
}

// ModelConfig picks the toy simulator and the observation to condition on.
// Without an observation, one is simulated at Truth.
type ModelConfig struct {
	Name        string          `yaml:"name"`
	Noise       float64         `yaml:"noise"`
	NoiseDist   model.NoiseSpec `yaml:"noise_dist"`
	Observation []float64       `yaml:"observation"`
	Truth       []float64       `yaml:"truth"`
}

// DefaultRunConfig returns the configuration used when no file is given.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Seed:            42,
		Dim:             2,
		Rounds:          3,
		SamplesPerRound: 1000,
		Threshold:       nre.DefaultThreshold,
		GridResolution:  nre.DefaultGridResolution,
		Proposal:        "cube",
		Workers:         nre.DefaultWorkers,
		CrossingPolicy:  nre.CrossingClip.String(),
		Model:           ModelConfig{Name: "gaussian", Noise: 0.05},
		Trace:           string(trace.TraceLevelNone),
	}
}

// LoadRunConfig reads a YAML run config on top of the defaults.
// Unknown keys are rejected so typos surface as errors.
func LoadRunConfig(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read run config %q: %w", path, err)
	}
	return parseRunConfig(data)
}

func parseRunConfig(data []byte) (RunConfig, error) {
	cfg := DefaultRunConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parse run config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the config against the registries and value ranges.
func (c RunConfig) Validate() error {
	if c.Dim < 1 {
		return fmt.Errorf("dim must be >= 1, got %d", c.Dim)
	}
	if len(c.ParamNames) > 0 && len(c.ParamNames) != c.Dim {
		return fmt.Errorf("param_names has %d entries, want dim=%d", len(c.ParamNames), c.Dim)
	}
	if c.Rounds < 0 {
		return fmt.Errorf("rounds must be >= 0, got %d", c.Rounds)
	}
	if c.SamplesPerRound < 1 {
		return fmt.Errorf("samples_per_round must be >= 1, got %d", c.SamplesPerRound)
	}
	if !(c.Threshold > 0 && c.Threshold < 1) {
		return fmt.Errorf("threshold must be in (0, 1), got %v", c.Threshold)
	}
	if !(c.GridResolution > 0 && c.GridResolution <= 0.5) {
		return fmt.Errorf("grid_resolution must be in (0, 0.5], got %v", c.GridResolution)
	}
	if c.MaxDraws < 0 {
		return fmt.Errorf("max_draws must be >= 0, got %d", c.MaxDraws)
	}
	if !nre.IsValidProposal(c.Proposal) {
		return fmt.Errorf("unknown proposal %q", c.Proposal)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if _, err := nre.ParseCrossingPolicy(c.CrossingPolicy); err != nil {
		return err
	}
	if _, err := c.selector(); err != nil {
		return err
	}
	if _, err := c.jointSelectors(); err != nil {
		return err
	}
	if r := c.Joint.GridResolution; r < 0 || r > 0.5 {
		return fmt.Errorf("joint grid_resolution must be in [0, 0.5], got %v", r)
	}
	if !model.IsValidModel(c.Model.Name) {
		return fmt.Errorf("unknown model %q; valid: %v", c.Model.Name, model.Names())
	}
	if c.Model.Noise < 0 || math.IsNaN(c.Model.Noise) {
		return fmt.Errorf("model noise must be >= 0, got %v", c.Model.Noise)
	}
	if _, err := model.NewNoiseSampler(c.Model.NoiseDist, c.Model.Noise); err != nil {
		return fmt.Errorf("model noise_dist: %w", err)
	}
	if n := len(c.Model.Observation); n > 0 && n != c.Dim {
		return fmt.Errorf("model observation has %d components, want dim=%d", n, c.Dim)
	}
	if n := len(c.Model.Truth); n > 0 && n != c.Dim {
		return fmt.Errorf("model truth has %d components, want dim=%d", n, c.Dim)
	}
	for i, v := range c.Model.Truth {
		if v < 0 || v > 1 {
			return fmt.Errorf("model truth[%d]=%v outside [0, 1]", i, v)
		}
	}
	if c.Estimator.ObsBandwidth < 0 || c.Estimator.MinBandwidth < 0 {
		return fmt.Errorf("estimator bandwidths must be >= 0")
	}
	if !trace.IsValidTraceLevel(c.Trace) {
		return fmt.Errorf("unknown trace level %q", c.Trace)
	}
	return nil
}

func (c RunConfig) selector() (nre.ParamSelector, error) {
	t := c.Truncate
	switch {
	case len(t.Indices) > 0 && len(t.Names) > 0:
		return nre.ParamSelector{}, fmt.Errorf("truncate: set indices or names, not both")
	case len(t.Indices) > 0:
		sel := nre.ByIndex(t.Indices...)
		if _, err := sel.Resolve(c.Dim, c.ParamNames); err != nil {
			return nre.ParamSelector{}, fmt.Errorf("truncate: %w", err)
		}
		return sel, nil
	case len(t.Names) > 0:
		sel := nre.ByName(t.Names...)
		if _, err := sel.Resolve(c.Dim, c.ParamNames); err != nil {
			return nre.ParamSelector{}, fmt.Errorf("truncate: %w", err)
		}
		return sel, nil
	default:
		return nre.AllParams(), nil
	}
}

// jointSelectors resolves the configured joint combinations.
func (c RunConfig) jointSelectors() ([]nre.ParamSelector, error) {
	var out []nre.ParamSelector
	for _, idx := range c.Joint.Indices {
		out = append(out, nre.ByIndex(idx...))
	}
	for _, names := range c.Joint.Names {
		out = append(out, nre.ByName(names...))
	}
	for _, sel := range out {
		idx, err := sel.Resolve(c.Dim, c.ParamNames)
		if err != nil {
			return nil, fmt.Errorf("joint: %w", err)
		}
		if len(idx) == 0 {
			return nil, fmt.Errorf("joint: empty combination")
		}
	}
	return out, nil
}

// controllerConfig maps a validated RunConfig onto the engine's config.
func (c RunConfig) controllerConfig() (nre.ControllerConfig, error) {
	proposal, err := nre.NewProposal(c.Proposal)
	if err != nil {
		return nre.ControllerConfig{}, err
	}
	policy, err := nre.ParseCrossingPolicy(c.CrossingPolicy)
	if err != nil {
		return nre.ControllerConfig{}, err
	}
	sel, err := c.selector()
	if err != nil {
		return nre.ControllerConfig{}, err
	}
	return nre.ControllerConfig{
		Dim:              c.Dim,
		ParamNames:       c.ParamNames,
		Rounds:           c.Rounds,
		SamplesPerRound:  c.SamplesPerRound,
		Threshold:        c.Threshold,
		GridResolution:   c.GridResolution,
		MaxDraws:         c.MaxDraws,
		Proposal:         proposal,
		DisableReuse:     c.DisableReuse,
		Workers:          c.Workers,
		RecycleEstimator: c.RecycleEstimator,
		Truncate:         sel,
		CrossingPolicy:   policy,
		Seed:             c.Seed,
	}, nil
}

// truth returns the parameter vector an observation is simulated at.
func (c RunConfig) truth() []float64 {
	if len(c.Model.Truth) > 0 {
		return c.Model.Truth
	}
	z := make([]float64, c.Dim)
	for i := range z {
		z[i] = defaultTruth
	}
	return z
}
