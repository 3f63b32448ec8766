package nre

import (
	"hash/fnv"
	"math/rand"
)

// RunKey uniquely identifies a reproducible inference run.
// Two runs with the same RunKey, configuration and collaborators
// MUST draw identical parameters.
type RunKey int64

// NewRunKey creates a RunKey from a seed value.
func NewRunKey(seed int64) RunKey {
	return RunKey(seed)
}

const (
	// SubsystemProposal is the RNG subsystem for intensity proposals.
	// Uses the master seed directly.
	SubsystemProposal = "proposal"

	// SubsystemSimulator is the RNG subsystem that seeds simulator noise.
	SubsystemSimulator = "simulator"
)

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemProposal: uses the master seed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	derivedSeed := int64(p.key)
	if name != SubsystemProposal {
		derivedSeed ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// SimulatorSeed returns the base seed for simulator noise of a run seeded
// with seed: the first value of its SubsystemSimulator stream.
func SimulatorSeed(seed int64) int64 {
	return NewPartitionedRNG(NewRunKey(seed)).ForSubsystem(SubsystemSimulator).Int63()
}

// Key returns the RunKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() RunKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
