package nre

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionedRNG_ProposalUsesMasterSeed(t *testing.T) {
	a := NewPartitionedRNG(NewRunKey(42)).ForSubsystem(SubsystemProposal)
	b := NewPartitionedRNG(NewRunKey(42)).ForSubsystem(SubsystemProposal)
	assert.Equal(t, a.Int63(), b.Int63())
}

func TestPartitionedRNG_SubsystemsAreIsolated(t *testing.T) {
	// GIVEN two RNGs with the same key
	p1 := NewPartitionedRNG(NewRunKey(7))
	p2 := NewPartitionedRNG(NewRunKey(7))

	// WHEN p1 consumes from the simulator subsystem first
	for i := 0; i < 100; i++ {
		p1.ForSubsystem(SubsystemSimulator).Float64()
	}

	// THEN the proposal streams are unaffected
	assert.Equal(t, p2.ForSubsystem(SubsystemProposal).Float64(), p1.ForSubsystem(SubsystemProposal).Float64())
	assert.NotEqual(t, p2.ForSubsystem(SubsystemSimulator).Int63(), p2.ForSubsystem(SubsystemProposal).Int63())
}

func TestSimulatorSeed_IsFirstSimulatorDraw(t *testing.T) {
	want := NewPartitionedRNG(NewRunKey(42)).ForSubsystem(SubsystemSimulator).Int63()
	assert.Equal(t, want, SimulatorSeed(42))
	assert.Equal(t, SimulatorSeed(42), SimulatorSeed(42))
	assert.NotEqual(t, SimulatorSeed(42), SimulatorSeed(43))
	assert.NotEqual(t, int64(42), SimulatorSeed(42))
}

func TestPartitionedRNG_CachesInstances(t *testing.T) {
	p := NewPartitionedRNG(NewRunKey(1))
	assert.Same(t, p.ForSubsystem(SubsystemSimulator), p.ForSubsystem(SubsystemSimulator))
	assert.Equal(t, RunKey(1), p.Key())
}
