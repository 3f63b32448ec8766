package nre

import (
	"fmt"
	"math/rand"
	"sort"
)

// DefaultDrawsPerSample scales the default rejection budget: an intensity
// targeting n samples may draw up to n*DefaultDrawsPerSample candidates.
const DefaultDrawsPerSample = 1000

// Proposal draws unconstrained candidates that the intensity filters through
// its region. Every proposal must be uniform on a superset of the region so
// that accepted draws are uniform inside it.
type Proposal interface {
	Propose(rng *rand.Rand, region FactorRegion) []float64
	Name() string
}

// UnitCubeProposal draws uniformly from [0, 1]^dim.
type UnitCubeProposal struct{}

func (UnitCubeProposal) Propose(rng *rand.Rand, region FactorRegion) []float64 {
	z := make([]float64, region.Dim())
	for i := range z {
		z[i] = rng.Float64()
	}
	return z
}

func (UnitCubeProposal) Name() string { return "cube" }

// BoundingBoxProposal draws uniformly from the region's per-axis extents.
type BoundingBoxProposal struct{}

func (BoundingBoxProposal) Propose(rng *rand.Rand, region FactorRegion) []float64 {
	return region.BoundingBox().SampleUniform(rng, 1)[0]
}

func (BoundingBoxProposal) Name() string { return "box" }

// RegionProposal draws directly from the factorized region; every candidate
// is accepted.
type RegionProposal struct{}

func (RegionProposal) Propose(rng *rand.Rand, region FactorRegion) []float64 {
	return region.SampleUniform(rng, 1)[0]
}

func (RegionProposal) Name() string { return "region" }

var proposalRegistry = map[string]Proposal{
	"cube":   UnitCubeProposal{},
	"box":    BoundingBoxProposal{},
	"region": RegionProposal{},
}

// NewProposal returns the proposal registered under name.
func NewProposal(name string) (Proposal, error) {
	if p, ok := proposalRegistry[name]; ok {
		return p, nil
	}
	names := make([]string, 0, len(proposalRegistry))
	for k := range proposalRegistry {
		names = append(names, k)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown proposal %q; valid: %v", name, names)
}

// IsValidProposal reports whether name is a registered proposal.
func IsValidProposal(name string) bool {
	_, ok := proposalRegistry[name]
	return ok
}

// Intensity is the sampling target of one round: n draws spread uniformly
// over a FactorRegion. Immutable once constructed.
type Intensity struct {
	n        int
	region   FactorRegion
	proposal Proposal
	maxDraws int
	reuse    bool
}

// IntensityOption configures an Intensity.
type IntensityOption func(*Intensity)

// WithProposal sets the candidate proposal (default UnitCubeProposal).
func WithProposal(p Proposal) IntensityOption {
	return func(in *Intensity) { in.proposal = p }
}

// WithMaxDraws sets the rejection budget. Non-positive keeps the default.
func WithMaxDraws(maxDraws int) IntensityOption {
	return func(in *Intensity) {
		if maxDraws > 0 {
			in.maxDraws = maxDraws
		}
	}
}

// WithReuse toggles reuse of earlier store entries (default on).
func WithReuse(reuse bool) IntensityOption {
	return func(in *Intensity) { in.reuse = reuse }
}

// NewIntensity wraps region with a target sample count.
// Panics if n is negative.
func NewIntensity(n int, region FactorRegion, opts ...IntensityOption) *Intensity {
	if n < 0 {
		panic(fmt.Sprintf("Intensity: n must be >= 0, got %d", n))
	}
	in := &Intensity{
		n:        n,
		region:   region,
		proposal: UnitCubeProposal{},
		maxDraws: n * DefaultDrawsPerSample,
		reuse:    true,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// N returns the target sample count.
func (in *Intensity) N() int { return in.n }

// Region returns the region the intensity is supported on.
func (in *Intensity) Region() FactorRegion { return in.region }

// MaxDraws returns the rejection budget.
func (in *Intensity) MaxDraws() int { return in.maxDraws }

// Proposal returns the candidate proposal.
func (in *Intensity) Proposal() Proposal { return in.proposal }

// Density returns n/volume inside the region and 0 outside.
// A zero-volume region has zero density everywhere.
func (in *Intensity) Density(z []float64) float64 {
	if !in.region.Contains(z) {
		return 0
	}
	v := in.region.Volume()
	if v <= 0 {
		return 0
	}
	return float64(in.n) / v
}

// Allocation reports what an Allocate call did.
type Allocation struct {
	Indices  []int // reused entries first in index order, then accepted draws in draw order
	Reused   int
	Appended int
	Drawn    int
}

// Allocate collects n store indices whose draws lie inside the region.
//
// Entries already in the store are reused first, in index order, when they
// were drawn under a proposal region covering this one: restricted to the
// smaller region such draws are still uniform there. The remainder is filled
// by rejection sampling from the proposal; each accepted candidate is
// appended to the store as a pending entry. A candidate identical to an
// earlier entry resolves to that entry's index, so the result is not sorted.
// Allocate never simulates.
//
// If the draw budget runs out first, the partial Allocation is returned with
// an *InsufficientAcceptanceError. Entries appended before that stay in the
// store.
func (in *Intensity) Allocate(store *SimulationStore, rng *rand.Rand) (Allocation, error) {
	var alloc Allocation
	if in.n == 0 {
		return alloc, nil
	}
	taken := make(map[int]bool, in.n)

	if in.reuse {
		store.Scan(func(e Entry) bool {
			if len(alloc.Indices) >= in.n {
				return false
			}
			if e.Proposal.Dim() == 0 || !e.Proposal.Covers(in.region) || !in.region.Contains(e.Draw) {
				return true
			}
			alloc.Indices = append(alloc.Indices, e.Index)
			taken[e.Index] = true
			return true
		})
		alloc.Reused = len(alloc.Indices)
		allocReusedTotal.Add(float64(alloc.Reused))
	}

	if in.region.IsEmpty() && len(alloc.Indices) < in.n {
		return alloc, &InsufficientAcceptanceError{Requested: in.n, Accepted: len(alloc.Indices), Volume: 0}
	}

	rejected := 0
	for len(alloc.Indices) < in.n {
		if alloc.Drawn >= in.maxDraws {
			allocRejectedTotal.Add(float64(rejected))
			return alloc, &InsufficientAcceptanceError{
				Requested: in.n,
				Accepted:  len(alloc.Indices),
				Drawn:     alloc.Drawn,
				Volume:    in.region.Volume(),
			}
		}
		z := in.proposal.Propose(rng, in.region)
		alloc.Drawn++
		if !in.region.Contains(z) {
			rejected++
			continue
		}
		idx := store.Append(z, in.region)
		if taken[idx] {
			// Identical draw already held by this allocation.
			continue
		}
		taken[idx] = true
		alloc.Indices = append(alloc.Indices, idx)
		alloc.Appended++
	}
	allocRejectedTotal.Add(float64(rejected))
	return alloc, nil
}
