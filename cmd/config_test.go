package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/nre-sim/nre"
	"github.com/inference-sim/nre-sim/nre/model"
)

func TestDefaultRunConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultRunConfig().Validate())
}

func TestLoadRunConfig_OverlaysDefaults(t *testing.T) {
	// GIVEN a config file setting a subset of fields
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dim: 3
param_names: [mu, sigma, rho]
rounds: 5
truncate:
  names: [mu, rho]
model:
  name: folded
  noise: 0.02
estimator:
  obs_bandwidth: 0.3
joint:
  names: [[mu, rho]]
  grid_resolution: 0.05
`), 0o644))

	// WHEN loaded
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	// THEN file values win and unset fields keep their defaults
	assert.Equal(t, 3, cfg.Dim)
	assert.Equal(t, 5, cfg.Rounds)
	assert.Equal(t, "folded", cfg.Model.Name)
	assert.Equal(t, 0.3, cfg.Estimator.ObsBandwidth)
	assert.Equal(t, [][]string{{"mu", "rho"}}, cfg.Joint.Names)
	assert.Equal(t, DefaultRunConfig().SamplesPerRound, cfg.SamplesPerRound)
	require.NoError(t, cfg.Validate())

	cc, err := cfg.controllerConfig()
	require.NoError(t, err)
	idx, err := cc.Truncate.Resolve(cc.Dim, cc.ParamNames)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, idx)
	assert.Equal(t, nre.CrossingClip, cc.CrossingPolicy)
}

func TestLoadRunConfig_RejectsUnknownFields(t *testing.T) {
	// Typos must cause errors, not silently keep defaults.
	_, err := parseRunConfig([]byte("samples_per_rnd: 10\n"))
	assert.Error(t, err)
	_, err = parseRunConfig([]byte("model:\n  nosie: 0.1\n"))
	assert.Error(t, err)
}

func TestLoadRunConfig_MissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRunConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"zero dim", func(c *RunConfig) { c.Dim = 0 }},
		{"param names length", func(c *RunConfig) { c.ParamNames = []string{"a"} }},
		{"negative rounds", func(c *RunConfig) { c.Rounds = -1 }},
		{"no samples", func(c *RunConfig) { c.SamplesPerRound = 0 }},
		{"threshold one", func(c *RunConfig) { c.Threshold = 1 }},
		{"grid too coarse", func(c *RunConfig) { c.GridResolution = 0.9 }},
		{"negative max draws", func(c *RunConfig) { c.MaxDraws = -5 }},
		{"unknown proposal", func(c *RunConfig) { c.Proposal = "sobol" }},
		{"no workers", func(c *RunConfig) { c.Workers = 0 }},
		{"unknown crossing policy", func(c *RunConfig) { c.CrossingPolicy = "smooth" }},
		{"truncate both ways", func(c *RunConfig) { c.Truncate = TruncateConfig{Indices: []int{0}, Names: []string{"a"}} }},
		{"truncate index out of range", func(c *RunConfig) { c.Truncate = TruncateConfig{Indices: []int{7}} }},
		{"truncate unknown name", func(c *RunConfig) { c.Truncate = TruncateConfig{Names: []string{"mu"}} }},
		{"joint index out of range", func(c *RunConfig) { c.Joint.Indices = [][]int{{0, 5}} }},
		{"joint empty combination", func(c *RunConfig) { c.Joint.Indices = [][]int{{}} }},
		{"joint unknown name", func(c *RunConfig) { c.Joint.Names = [][]string{{"mu"}} }},
		{"joint grid too coarse", func(c *RunConfig) { c.Joint.GridResolution = 0.7 }},
		{"unknown model", func(c *RunConfig) { c.Model.Name = "sir" }},
		{"negative noise", func(c *RunConfig) { c.Model.Noise = -0.1 }},
		{"unknown noise type", func(c *RunConfig) { c.Model.NoiseDist = model.NoiseSpec{Type: "cauchy"} }},
		{"observation length", func(c *RunConfig) { c.Model.Observation = []float64{1, 2, 3} }},
		{"truth outside cube", func(c *RunConfig) { c.Model.Truth = []float64{0.5, 1.5} }},
		{"negative bandwidth", func(c *RunConfig) { c.Estimator.ObsBandwidth = -1 }},
		{"unknown trace level", func(c *RunConfig) { c.Trace = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunConfig_Truth(t *testing.T) {
	cfg := DefaultRunConfig()
	assert.Equal(t, []float64{0.3, 0.3}, cfg.truth())
	cfg.Model.Truth = []float64{0.1, 0.9}
	assert.Equal(t, []float64{0.1, 0.9}, cfg.truth())
}
