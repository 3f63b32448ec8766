package nre

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Observation is a simulator output vector.
type Observation []float64

// Entry is one stored parameter draw. Observation is nil while Filled is false.
// Proposal is the region the draw was uniformly sampled under; a zero-dim
// Proposal means the provenance is unknown and the entry is never reused.
type Entry struct {
	Index       int
	Draw        []float64
	Observation Observation
	Filled      bool
	Proposal    FactorRegion
}

// Sample is a (parameter, observation) pair handed to an estimator.
// Both slices alias store memory and must not be mutated.
type Sample struct {
	Index       int
	Draw        []float64
	Observation Observation
}

// SimulationStore is an append-only cache of parameter draws and their
// simulated observations. Indices are stable and each index is filled at most
// once. A single mutex guards append and fill, so concurrent Fill calls on
// disjoint indices from simulation workers are safe.
type SimulationStore struct {
	mu      sync.Mutex
	entries []Entry
	byDraw  map[string]int
	pending int
}

// NewSimulationStore creates an empty store.
func NewSimulationStore() *SimulationStore {
	return &SimulationStore{byDraw: make(map[string]int)}
}

// drawKey is the exact bit pattern of a draw; identical draws dedupe.
func drawKey(draw []float64) string {
	buf := make([]byte, 8*len(draw))
	for i, v := range draw {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return string(buf)
}

// Append adds a pending entry for draw and returns its index. If an identical
// draw is already stored, its existing index is returned and nothing is added.
func (s *SimulationStore) Append(draw []float64, proposal FactorRegion) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := drawKey(draw)
	if idx, ok := s.byDraw[key]; ok {
		return idx
	}
	cp := make([]float64, len(draw))
	copy(cp, draw)
	idx := len(s.entries)
	s.entries = append(s.entries, Entry{Index: idx, Draw: cp, Proposal: proposal})
	s.byDraw[key] = idx
	s.pending++
	storeAppendsTotal.Inc()
	storePendingGauge.Set(float64(s.pending))
	return idx
}

// Lookup returns the index of an identical stored draw.
func (s *SimulationStore) Lookup(draw []float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byDraw[drawKey(draw)]
	return idx, ok
}

// Fill records the observation for a pending index.
// Returns ErrAlreadyFilled on a second fill and ErrIndexOutOfRange for
// unassigned indices.
func (s *SimulationStore) Fill(index int, obs Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return fmt.Errorf("%w: fill %d (store has %d entries)", ErrIndexOutOfRange, index, len(s.entries))
	}
	e := &s.entries[index]
	if e.Filled {
		return fmt.Errorf("%w: index %d", ErrAlreadyFilled, index)
	}
	cp := make(Observation, len(obs))
	copy(cp, obs)
	e.Observation = cp
	e.Filled = true
	s.pending--
	storeFillsTotal.Inc()
	storePendingGauge.Set(float64(s.pending))
	return nil
}

// PendingIndices returns, in ascending order, every index still awaiting an
// observation. This is exactly the work the simulator must do before training.
func (s *SimulationStore) PendingIndices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, s.pending)
	for i := range s.entries {
		if !s.entries[i].Filled {
			out = append(out, i)
		}
	}
	return out
}

// PendingCount returns the number of unfilled entries.
func (s *SimulationStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Len returns the number of stored entries.
func (s *SimulationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry returns the entry at index. Slices alias store memory.
func (s *SimulationStore) Entry(index int) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return Entry{}, fmt.Errorf("%w: entry %d (store has %d entries)", ErrIndexOutOfRange, index, len(s.entries))
	}
	return s.entries[index], nil
}

// Get materializes samples for indices. Every index must be filled.
func (s *SimulationStore) Get(indices []int) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(indices))
	for n, idx := range indices {
		if idx < 0 || idx >= len(s.entries) {
			return nil, fmt.Errorf("%w: get %d (store has %d entries)", ErrIndexOutOfRange, idx, len(s.entries))
		}
		e := s.entries[idx]
		if !e.Filled {
			return nil, fmt.Errorf("get %d: observation still pending", idx)
		}
		out[n] = Sample{Index: idx, Draw: e.Draw, Observation: e.Observation}
	}
	return out, nil
}

// Scan calls fn for each entry in index order while fn returns true.
// fn runs under the store lock and must not call back into the store.
func (s *SimulationStore) Scan(fn func(Entry) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if !fn(e) {
			return
		}
	}
}

// Records returns every entry in index order, for persistence.
func (s *SimulationStore) Records() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ReplayStore rebuilds a store from records in index order. Record i must
// carry Index i; a filled record must carry its observation.
func ReplayStore(records []Entry) (*SimulationStore, error) {
	s := NewSimulationStore()
	for i, r := range records {
		if r.Index != i {
			return nil, fmt.Errorf("replay: record %d has index %d", i, r.Index)
		}
		if idx := s.Append(r.Draw, r.Proposal); idx != i {
			return nil, fmt.Errorf("replay: record %d duplicates draw of index %d", i, idx)
		}
		if r.Filled {
			if err := s.Fill(i, r.Observation); err != nil {
				return nil, fmt.Errorf("replay: %w", err)
			}
		}
	}
	return s, nil
}
