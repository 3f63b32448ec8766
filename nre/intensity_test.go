package nre

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func region1D(pairs ...[2]float64) FactorRegion {
	return NewFactorRegion([]IntervalSet{MustIntervalSet(pairs...)})
}

func TestIntensity_AllocateDrawsInsideRegion(t *testing.T) {
	// GIVEN a two-segment region and an empty store
	region := NewFactorRegion([]IntervalSet{
		MustIntervalSet([2]float64{0.1, 0.2}, [2]float64{0.7, 0.9}),
		MustIntervalSet([2]float64{0.4, 0.6}),
	})
	store := NewSimulationStore()
	in := NewIntensity(100, region)

	// WHEN allocated from the unit cube proposal
	alloc, err := in.Allocate(store, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	// THEN exactly n fresh pending draws are returned, all inside the region
	assert.Len(t, alloc.Indices, 100)
	assert.Equal(t, 0, alloc.Reused)
	assert.Equal(t, 100, alloc.Appended)
	assert.GreaterOrEqual(t, alloc.Drawn, 100)
	assert.Equal(t, 100, store.PendingCount())
	for _, idx := range alloc.Indices {
		e, err := store.Entry(idx)
		require.NoError(t, err)
		assert.True(t, region.Contains(e.Draw), "draw %v outside region", e.Draw)
		assert.False(t, e.Filled)
	}
}

func TestIntensity_ZeroTarget(t *testing.T) {
	store := NewSimulationStore()
	alloc, err := NewIntensity(0, UnitCube(1)).Allocate(store, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Empty(t, alloc.Indices)
	assert.Equal(t, 0, store.Len())
}

func TestIntensity_ReusesDrawsFromCoveringProposal(t *testing.T) {
	store := NewSimulationStore()
	rng := rand.New(rand.NewSource(2))

	// GIVEN 200 draws over the unit interval
	_, err := NewIntensity(200, UnitCube(1)).Allocate(store, rng)
	require.NoError(t, err)
	inLeftHalf := 0
	store.Scan(func(e Entry) bool {
		if e.Draw[0] <= 0.5 {
			inLeftHalf++
		}
		return true
	})

	// WHEN a smaller region asks for more draws than already lie inside it
	half := region1D([2]float64{0, 0.5})
	alloc, err := NewIntensity(inLeftHalf+20, half).Allocate(store, rng)
	require.NoError(t, err)

	// THEN every stored draw inside the smaller region is reused first
	assert.Equal(t, inLeftHalf, alloc.Reused)
	assert.Equal(t, 20, alloc.Appended)
	assert.Equal(t, 220, store.Len())
	for _, idx := range alloc.Indices[alloc.Reused:] {
		e, err := store.Entry(idx)
		require.NoError(t, err)
		assert.True(t, e.Proposal.Covers(half))
		assert.False(t, e.Proposal.Covers(UnitCube(1)), "fresh draws record the smaller proposal")
	}
}

func TestIntensity_DoesNotReuseDrawsFromNarrowerProposal(t *testing.T) {
	store := NewSimulationStore()
	rng := rand.New(rand.NewSource(3))

	// GIVEN draws proposed only on [0, 0.5]
	_, err := NewIntensity(50, region1D([2]float64{0, 0.5})).Allocate(store, rng)
	require.NoError(t, err)

	// WHEN the full unit interval is requested
	alloc, err := NewIntensity(50, UnitCube(1)).Allocate(store, rng)
	require.NoError(t, err)

	// THEN none of them are reused; they are not uniform on the larger region
	assert.Equal(t, 0, alloc.Reused)
	assert.Equal(t, 50, alloc.Appended)
}

func TestIntensity_ReuseDisabled(t *testing.T) {
	store := NewSimulationStore()
	rng := rand.New(rand.NewSource(4))
	_, err := NewIntensity(30, UnitCube(1)).Allocate(store, rng)
	require.NoError(t, err)
	alloc, err := NewIntensity(30, UnitCube(1), WithReuse(false)).Allocate(store, rng)
	require.NoError(t, err)
	assert.Equal(t, 0, alloc.Reused)
	assert.Equal(t, 60, store.Len())
}

func TestIntensity_InsufficientAcceptance(t *testing.T) {
	// GIVEN a tiny region and a small draw budget
	tiny := region1D([2]float64{0.5, 0.5001})
	store := NewSimulationStore()
	in := NewIntensity(50, tiny, WithMaxDraws(20))

	// WHEN allocated
	alloc, err := in.Allocate(store, rand.New(rand.NewSource(5)))

	// THEN the typed error reports the shortfall and accepted draws stay stored
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientAcceptance))
	var iae *InsufficientAcceptanceError
	require.True(t, errors.As(err, &iae))
	assert.Equal(t, 50, iae.Requested)
	assert.Equal(t, 20, iae.Drawn)
	assert.Equal(t, len(alloc.Indices), iae.Accepted)
	assert.Equal(t, alloc.Appended, store.Len())

	// WHEN retried with a proposal that samples the region directly
	retry, err := NewIntensity(50, tiny, WithProposal(RegionProposal{})).Allocate(store, rand.New(rand.NewSource(6)))
	require.NoError(t, err)

	// THEN the earlier accepted draws are reused
	assert.Equal(t, iae.Accepted, retry.Reused)
	assert.Equal(t, 50, store.Len())
}

func TestIntensity_EmptyRegion(t *testing.T) {
	empty := NewFactorRegion([]IntervalSet{{}})
	_, err := NewIntensity(5, empty).Allocate(NewSimulationStore(), rand.New(rand.NewSource(1)))
	assert.True(t, errors.Is(err, ErrInsufficientAcceptance), "got %v", err)
}

func TestIntensity_EachDrawSimulatedAtMostOnce(t *testing.T) {
	// GIVEN a store and a fill counter standing in for the simulator
	store := NewSimulationStore()
	rng := rand.New(rand.NewSource(7))
	fills := make(map[int]int)
	simulatePending := func() {
		for _, idx := range store.PendingIndices() {
			require.NoError(t, store.Fill(idx, Observation{0}))
			fills[idx]++
		}
	}

	// WHEN three overlapping rounds allocate and simulate
	regions := []FactorRegion{
		UnitCube(1),
		region1D([2]float64{0.2, 0.8}),
		region1D([2]float64{0.3, 0.5}),
	}
	for _, r := range regions {
		alloc, err := NewIntensity(100, r).Allocate(store, rng)
		require.NoError(t, err)
		assert.Equal(t, alloc.Appended, store.PendingCount(), "only fresh draws need simulation")
		simulatePending()
	}

	// THEN no index was ever filled twice
	assert.Len(t, fills, store.Len())
	for idx, n := range fills {
		assert.Equal(t, 1, n, "index %d", idx)
	}
}

func TestIntensity_DeterministicForSeed(t *testing.T) {
	draws := func() [][]float64 {
		store := NewSimulationStore()
		_, err := NewIntensity(20, region1D([2]float64{0.1, 0.3})).Allocate(store, rand.New(rand.NewSource(99)))
		require.NoError(t, err)
		var out [][]float64
		for _, e := range store.Records() {
			out = append(out, e.Draw)
		}
		return out
	}
	assert.Equal(t, draws(), draws())
}

func TestIntensity_Density(t *testing.T) {
	in := NewIntensity(10, region1D([2]float64{0.2, 0.7}))
	assert.InDelta(t, 20, in.Density([]float64{0.5}), 1e-12)
	assert.Equal(t, 0.0, in.Density([]float64{0.8}))

	point := NewIntensity(10, region1D([2]float64{0.4, 0.4}))
	assert.Equal(t, 0.0, point.Density([]float64{0.4}), "zero-volume region has zero density")
}

func TestIntensity_PanicsOnNegativeTarget(t *testing.T) {
	assert.Panics(t, func() { NewIntensity(-1, UnitCube(1)) })
}

func TestProposals_CandidatesCoverRegion(t *testing.T) {
	region := NewFactorRegion([]IntervalSet{
		MustIntervalSet([2]float64{0.1, 0.2}, [2]float64{0.6, 0.7}),
		MustIntervalSet([2]float64{0.3, 0.4}),
	})
	rng := rand.New(rand.NewSource(8))
	for _, name := range []string{"cube", "box", "region"} {
		p, err := NewProposal(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
		alloc, err := NewIntensity(50, region, WithProposal(p)).Allocate(NewSimulationStore(), rng)
		require.NoError(t, err, name)
		assert.Len(t, alloc.Indices, 50, name)
	}

	// The region proposal never rejects.
	alloc, err := NewIntensity(50, region, WithProposal(RegionProposal{})).Allocate(NewSimulationStore(), rng)
	require.NoError(t, err)
	assert.Equal(t, 50, alloc.Drawn)
}

func TestNewProposal_Unknown(t *testing.T) {
	_, err := NewProposal("sobol")
	assert.Error(t, err)
	assert.False(t, IsValidProposal("sobol"))
	assert.True(t, IsValidProposal("box"))
}

// fixedProposal proposes the same draw every time.
type fixedProposal struct{ z []float64 }

func (p fixedProposal) Propose(*rand.Rand, FactorRegion) []float64 {
	return append([]float64(nil), p.z...)
}
func (fixedProposal) Name() string { return "fixed" }

func TestIntensity_AllocateKeepsReuseThenDrawOrder(t *testing.T) {
	// GIVEN an early entry drawn under a narrow proposal and a later reusable one
	store := NewSimulationStore()
	early := store.Append([]float64{0.5}, region1D([2]float64{0.4, 0.6}))
	later := store.Append([]float64{0.2}, UnitCube(1))

	// WHEN an allocation reuses the later entry and then draws the early
	// entry's parameters again
	in := NewIntensity(2, UnitCube(1), WithProposal(fixedProposal{z: []float64{0.5}}))
	alloc, err := in.Allocate(store, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	// THEN the reused index comes first, the deduplicated draw second
	assert.Equal(t, []int{later, early}, alloc.Indices)
	assert.Equal(t, 1, alloc.Reused)
	assert.Equal(t, 2, store.Len())
}
