// Package model provides toy simulators for exercising the round controller.
//
// Every model maps a parameter vector z in [0, 1]^dim to an observation of
// the same length. Noise is derived from the run seed and the exact bits of
// z, so a simulator is safe for concurrent use and the same draw always
// yields the same observation regardless of worker scheduling.
package model

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/inference-sim/nre-sim/nre"
)

// Model is a named toy simulator.
type Model interface {
	nre.Simulator
	Name() string
}

// Config selects and parameterizes a registered model.
type Config struct {
	Name  string    `yaml:"name"`
	Noise float64   `yaml:"noise"`
	Dist  NoiseSpec `yaml:"noise_dist"`
	Seed  int64     `yaml:"-"` // base noise seed, see nre.SimulatorSeed
}

type constructor func(noise NoiseSampler, seed int64) Model

var registry = map[string]constructor{
	"gaussian": func(n NoiseSampler, seed int64) Model { return &Gaussian{noise: n, seed: seed} },
	"folded":   func(n NoiseSampler, seed int64) Model { return &Folded{noise: n, seed: seed} },
}

// Names returns the registered model names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsValidModel reports whether name is a registered model.
func IsValidModel(name string) bool {
	_, ok := registry[name]
	return ok
}

// New builds the model named by cfg.Name.
func New(cfg Config) (Model, error) {
	ctor, ok := registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q; valid: %v", cfg.Name, Names())
	}
	noise, err := NewNoiseSampler(cfg.Dist, cfg.Noise)
	if err != nil {
		return nil, err
	}
	return ctor(noise, cfg.Seed), nil
}

// noiseRNG returns the RNG for one draw: seed XOR fnv1a64(bits of z).
func noiseRNG(seed int64, z []float64) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range z {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}

// Gaussian simulates x = z + eps, with eps from the configured noise
// distribution (N(0, noise^2) by default).
type Gaussian struct {
	noise NoiseSampler
	seed  int64
}

func (g *Gaussian) Name() string { return "gaussian" }

func (g *Gaussian) Simulate(ctx context.Context, z []float64) (nre.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := noiseRNG(g.seed, z)
	x := make(nre.Observation, len(z))
	for i, v := range z {
		x[i] = v + g.noise.Sample(rng)
	}
	return x, nil
}

// Folded simulates x = |z - 1/2| + eps. Each observed component is
// explained equally well by two parameter values mirrored around 1/2, so the
// credible region splits into disjoint intervals.
type Folded struct {
	noise NoiseSampler
	seed  int64
}

func (f *Folded) Name() string { return "folded" }

func (f *Folded) Simulate(ctx context.Context, z []float64) (nre.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := noiseRNG(f.seed, z)
	x := make(nre.Observation, len(z))
	for i, v := range z {
		x[i] = math.Abs(v-0.5) + f.noise.Sample(rng)
	}
	return x, nil
}
