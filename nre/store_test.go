package nre

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationStore_AppendAssignsStableIndices(t *testing.T) {
	s := NewSimulationStore()
	cube := UnitCube(2)

	// GIVEN three distinct draws
	i0 := s.Append([]float64{0.1, 0.2}, cube)
	i1 := s.Append([]float64{0.3, 0.4}, cube)
	i2 := s.Append([]float64{0.5, 0.6}, cube)

	// THEN indices are assigned in order and all are pending
	assert.Equal(t, []int{0, 1, 2}, []int{i0, i1, i2})
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []int{0, 1, 2}, s.PendingIndices())
}

func TestSimulationStore_AppendDeduplicatesIdenticalDraws(t *testing.T) {
	s := NewSimulationStore()
	draw := []float64{0.25, 0.75}
	first := s.Append(draw, UnitCube(2))

	// WHEN the identical draw is appended again
	second := s.Append([]float64{0.25, 0.75}, UnitCube(2))

	// THEN the existing index is returned and nothing is added
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Len())
	idx, ok := s.Lookup(draw)
	assert.True(t, ok)
	assert.Equal(t, first, idx)
}

func TestSimulationStore_AppendCopiesDraw(t *testing.T) {
	s := NewSimulationStore()
	draw := []float64{0.1}
	idx := s.Append(draw, UnitCube(1))
	draw[0] = 0.9
	e, err := s.Entry(idx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1}, e.Draw)
}

func TestSimulationStore_FillOnce(t *testing.T) {
	s := NewSimulationStore()
	idx := s.Append([]float64{0.5}, UnitCube(1))

	// WHEN filled once
	require.NoError(t, s.Fill(idx, Observation{1.5}))

	// THEN a second fill is rejected and the first observation survives
	err := s.Fill(idx, Observation{2.5})
	assert.True(t, errors.Is(err, ErrAlreadyFilled), "got %v", err)
	e, err := s.Entry(idx)
	require.NoError(t, err)
	assert.True(t, e.Filled)
	assert.Equal(t, Observation{1.5}, e.Observation)
	assert.Empty(t, s.PendingIndices())
}

func TestSimulationStore_FillOutOfRange(t *testing.T) {
	s := NewSimulationStore()
	s.Append([]float64{0.5}, UnitCube(1))
	for _, idx := range []int{-1, 1, 100} {
		err := s.Fill(idx, Observation{0})
		assert.True(t, errors.Is(err, ErrIndexOutOfRange), "Fill(%d): got %v", idx, err)
	}
}

func TestSimulationStore_GetRequiresFilled(t *testing.T) {
	s := NewSimulationStore()
	a := s.Append([]float64{0.1}, UnitCube(1))
	b := s.Append([]float64{0.2}, UnitCube(1))
	require.NoError(t, s.Fill(a, Observation{10}))

	_, err := s.Get([]int{a, b})
	assert.Error(t, err, "pending index must not be materialized")

	require.NoError(t, s.Fill(b, Observation{20}))
	samples, err := s.Get([]int{b, a})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, b, samples[0].Index)
	assert.Equal(t, Observation{20}, samples[0].Observation)
	assert.Equal(t, []float64{0.1}, samples[1].Draw)

	_, err = s.Get([]int{7})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestSimulationStore_ConcurrentFillsOnDisjointIndices(t *testing.T) {
	// GIVEN 200 pending entries
	s := NewSimulationStore()
	const n = 200
	for i := 0; i < n; i++ {
		s.Append([]float64{float64(i) / n}, UnitCube(1))
	}

	// WHEN 8 workers fill disjoint index stripes concurrently
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += 8 {
				if err := s.Fill(i, Observation{float64(i)}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	// THEN every fill succeeds and nothing is pending
	for err := range errs {
		t.Errorf("fill: %v", err)
	}
	assert.Equal(t, 0, s.PendingCount())
	assert.Empty(t, s.PendingIndices())
	for i := 0; i < n; i++ {
		e, err := s.Entry(i)
		require.NoError(t, err)
		assert.Equal(t, Observation{float64(i)}, e.Observation)
	}
}

func TestSimulationStore_ScanStopsEarly(t *testing.T) {
	s := NewSimulationStore()
	for i := 0; i < 5; i++ {
		s.Append([]float64{float64(i)}, UnitCube(1))
	}
	var seen []int
	s.Scan(func(e Entry) bool {
		seen = append(seen, e.Index)
		return len(seen) < 3
	})
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestReplayStore_RoundTripsRecords(t *testing.T) {
	// GIVEN a store with one filled and one pending entry
	s := NewSimulationStore()
	region := NewFactorRegion([]IntervalSet{MustIntervalSet([2]float64{0.2, 0.6})})
	a := s.Append([]float64{0.3}, region)
	s.Append([]float64{0.4}, region)
	require.NoError(t, s.Fill(a, Observation{1, 2}))

	// WHEN its records are replayed
	r, err := ReplayStore(s.Records())
	require.NoError(t, err)

	// THEN the replayed store has the same entries and pending set
	assert.Equal(t, s.Len(), r.Len())
	assert.Equal(t, s.PendingIndices(), r.PendingIndices())
	e, err := r.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, Observation{1, 2}, e.Observation)
	assert.True(t, e.Proposal.Covers(region))
	idx, ok := r.Lookup([]float64{0.4})
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestReplayStore_RejectsGapsAndDuplicates(t *testing.T) {
	_, err := ReplayStore([]Entry{{Index: 1, Draw: []float64{0.1}}})
	assert.Error(t, err)

	_, err = ReplayStore([]Entry{
		{Index: 0, Draw: []float64{0.1}},
		{Index: 1, Draw: []float64{0.1}},
	})
	assert.Error(t, err)
}
