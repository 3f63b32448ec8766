package nre

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/nre-sim/nre/trace"
)

// Simulator maps a parameter vector to an observation. Implementations must
// be safe for concurrent use when the controller runs more than one worker.
type Simulator interface {
	Simulate(ctx context.Context, z []float64) (Observation, error)
}

// SimulatorFunc adapts a function to the Simulator interface.
type SimulatorFunc func(ctx context.Context, z []float64) (Observation, error)

func (f SimulatorFunc) Simulate(ctx context.Context, z []float64) (Observation, error) {
	return f(ctx, z)
}

// Snapshot is a serialized estimator checkpoint. It is owned independently
// of the estimator that produced it and can seed a fresh instance.
type Snapshot struct {
	Kind string
	Data []byte
}

// IsZero reports whether the snapshot is empty.
func (s Snapshot) IsZero() bool {
	return s.Kind == "" && len(s.Data) == 0
}

// Estimator learns marginal log-ratios from a round's samples.
type Estimator interface {
	// Train fits the estimator on (parameter, observation) samples.
	Train(ctx context.Context, samples []Sample) error
	// Evaluate returns one log-ratio curve per parameter dimension, each
	// evaluated at obs on the shared 1-d grid.
	Evaluate(ctx context.Context, obs Observation, grid []float64) ([][]float64, error)
	// Snapshot checkpoints the trained state.
	Snapshot() (Snapshot, error)
}

// EstimatorFactory builds a fresh estimator for dim parameters, optionally
// warm-started from a previous round's snapshot.
type EstimatorFactory func(dim int, warm *Snapshot) (Estimator, error)

// State is a RoundController state.
type State int

const (
	StateInit State = iota
	StateBuildRegion
	StateBuildIntensity
	StateAllocate
	StateAwaitSimulation
	StateTrain
	StateExtractRegion
	StateDone
)

var stateNames = map[State]string{
	StateInit:            "init",
	StateBuildRegion:     "build-region",
	StateBuildIntensity:  "build-intensity",
	StateAllocate:        "allocate",
	StateAwaitSimulation: "await-simulation",
	StateTrain:           "train",
	StateExtractRegion:   "extract-region",
	StateDone:            "done",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Defaults applied by NewRoundController to zero-valued config fields.
const (
	DefaultThreshold      = 1e-6
	DefaultGridResolution = 1e-4
	DefaultWorkers        = 4
)

// ControllerConfig groups the round controller's parameters.
type ControllerConfig struct {
	Dim              int            // number of parameters (must be >= 1)
	ParamNames       []string       // optional, for name-based selection
	Rounds           int            // rounds to run; no convergence detection
	SamplesPerRound  int            // intensity target per round
	Threshold        float64        // ratio threshold relative to the mode (default 1e-6)
	GridResolution   float64        // extraction grid spacing on [0, 1] (default 1e-4)
	MaxDraws         int            // rejection budget per round (0 = default)
	Proposal         Proposal       // candidate proposal (nil = unit cube)
	DisableReuse     bool           // never reuse earlier store entries
	Workers          int            // simulation worker pool size (default 4)
	RecycleEstimator bool           // warm-start each round from the previous snapshot
	Truncate         ParamSelector  // dimensions whose region is refined (zero value = all)
	CrossingPolicy   CrossingPolicy // extractor boundary policy (zero value = clip)
	Seed             int64
}

// ControllerOption configures optional collaborators.
type ControllerOption func(*RoundController)

// WithSimulator lets the controller simulate pending draws itself using a
// bounded worker pool. Without it, Run stops with ErrAwaitingSimulation.
func WithSimulator(sim Simulator) ControllerOption {
	return func(c *RoundController) { c.sim = sim }
}

// WithTrace records extraction and allocation decisions.
func WithTrace(rt *trace.RunTrace) ControllerOption {
	return func(c *RoundController) { c.trace = rt }
}

// RoundController runs the round loop: build region, build intensity,
// allocate draws, wait for simulations, train, extract the next region.
// Rounds depend strictly on each other, so the controller is single-threaded;
// only simulation of pending draws fans out.
type RoundController struct {
	cfg       ControllerConfig
	obs       Observation
	store     *SimulationStore
	factory   EstimatorFactory
	sim       Simulator
	trace     *trace.RunTrace
	rng       *PartitionedRNG
	history   *History
	truncate  []int
	grid      []float64
	metrics   []RoundMetrics
	state     State
	round     int
	region    FactorRegion
	intensity *Intensity
	indices   []int
	estimator Estimator
	snapshot  *Snapshot
}

// NewRoundController creates a controller for observation obs.
// Panics on nil store or factory, or Dim < 1. Returns an error when the
// truncation selector does not resolve.
func NewRoundController(cfg ControllerConfig, obs Observation, store *SimulationStore,
	factory EstimatorFactory, opts ...ControllerOption) (*RoundController, error) {
	if store == nil {
		panic("RoundController: store is nil")
	}
	if factory == nil {
		panic("RoundController: estimator factory is nil")
	}
	if cfg.Dim < 1 {
		panic(fmt.Sprintf("RoundController: Dim must be >= 1, got %d", cfg.Dim))
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.GridResolution <= 0 {
		cfg.GridResolution = DefaultGridResolution
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Proposal == nil {
		cfg.Proposal = UnitCubeProposal{}
	}
	truncate, err := cfg.Truncate.Resolve(cfg.Dim, cfg.ParamNames)
	if err != nil {
		return nil, fmt.Errorf("resolving truncation selector: %w", err)
	}
	c := &RoundController{
		cfg:      cfg,
		obs:      obs,
		store:    store,
		factory:  factory,
		rng:      NewPartitionedRNG(NewRunKey(cfg.Seed)),
		history:  NewHistory(),
		truncate: truncate,
		grid:     LinearGrid(cfg.GridResolution),
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current state.
func (c *RoundController) State() State { return c.state }

// Round returns the round currently in progress (or the round count once done).
func (c *RoundController) Round() int { return c.round }

// Region returns the current round's region.
func (c *RoundController) Region() FactorRegion { return c.region }

// History returns the round history arena.
func (c *RoundController) History() *History { return c.history }

// Metrics returns one summary per allocated round.
func (c *RoundController) Metrics() []RoundMetrics {
	return append([]RoundMetrics(nil), c.metrics...)
}

// Grid returns the extraction grid.
func (c *RoundController) Grid() []float64 { return c.grid }

// Pending returns the current round's indices still awaiting simulation.
// Empty outside StateAwaitSimulation.
func (c *RoundController) Pending() []int {
	if c.state != StateAwaitSimulation {
		return nil
	}
	inRound := make(map[int]bool, len(c.indices))
	for _, i := range c.indices {
		inRound[i] = true
	}
	var out []int
	for _, i := range c.store.PendingIndices() {
		if inRound[i] {
			out = append(out, i)
		}
	}
	return out
}

// RequiresSimulation reports whether the current round is blocked on
// simulations.
func (c *RoundController) RequiresSimulation() bool {
	return len(c.Pending()) > 0
}

// Run steps the controller until it is done. Without a simulator it returns
// ErrAwaitingSimulation when the round needs the caller to fill pending
// draws; calling Run again resumes.
func (c *RoundController) Run(ctx context.Context) error {
	for c.state != StateDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := c.state
		state, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if state == StateAwaitSimulation && before == StateAwaitSimulation {
			return ErrAwaitingSimulation
		}
	}
	return nil
}

// Step advances the state machine by one transition and returns the new state.
// In StateAwaitSimulation without a simulator, Step leaves the state unchanged
// until every pending draw of the round has been filled.
func (c *RoundController) Step(ctx context.Context) (State, error) {
	var err error
	switch c.state {
	case StateInit:
		err = c.init()
	case StateBuildRegion:
		err = c.buildRegion()
	case StateBuildIntensity:
		c.buildIntensity()
	case StateAllocate:
		err = c.allocate()
	case StateAwaitSimulation:
		err = c.awaitSimulation(ctx)
	case StateTrain:
		err = c.train(ctx)
	case StateExtractRegion:
		err = c.extractRegion(ctx)
	case StateDone:
	}
	return c.state, err
}

func (c *RoundController) init() error {
	if c.cfg.Rounds <= 0 {
		c.state = StateDone
		return nil
	}
	logrus.Infof("Starting %d rounds: dim=%d, samples/round=%d, threshold=%g, truncate=%v",
		c.cfg.Rounds, c.cfg.Dim, c.cfg.SamplesPerRound, c.cfg.Threshold, c.truncate)
	c.state = StateBuildRegion
	return nil
}

func (c *RoundController) buildRegion() error {
	if c.round == 0 {
		c.region = UnitCube(c.cfg.Dim)
	} else {
		res, err := c.history.Result(c.round - 1)
		if err != nil {
			return err
		}
		next, err := NewFactorRegion(res.Axes).Intersect(c.region)
		if err != nil {
			return err
		}
		axes := next.Axes()
		for i, a := range axes {
			if a.IsEmpty() {
				logrus.Warnf("round %d: extracted interval on z%d misses previous region %s; keeping previous axis",
					c.round, i, c.region.Axis(i))
				axes[i] = c.region.Axis(i)
			}
		}
		c.region = NewFactorRegion(axes)
	}
	regionVolumeGauge.Set(c.region.Volume())
	logrus.Infof("round %d: region volume %.6g", c.round, c.region.Volume())
	logrus.Debugf("round %d: region %s", c.round, c.region)
	c.state = StateBuildIntensity
	return nil
}

func (c *RoundController) buildIntensity() {
	opts := []IntensityOption{
		WithProposal(c.cfg.Proposal),
		WithMaxDraws(c.cfg.MaxDraws),
		WithReuse(!c.cfg.DisableReuse),
	}
	c.intensity = NewIntensity(c.cfg.SamplesPerRound, c.region, opts...)
	c.state = StateAllocate
}

func (c *RoundController) allocate() error {
	alloc, err := c.intensity.Allocate(c.store, c.rng.ForSubsystem(SubsystemProposal))
	if c.trace.Enabled() {
		c.trace.RecordAllocation(trace.AllocationRecord{
			Round:     c.round,
			Volume:    c.region.Volume(),
			Requested: c.intensity.N(),
			Reused:    alloc.Reused,
			Appended:  alloc.Appended,
			Drawn:     alloc.Drawn,
			Exhausted: err != nil,
		})
	}
	if err != nil {
		// State stays at allocate; a retry reuses the draws appended so far.
		return fmt.Errorf("round %d: %w", c.round, err)
	}
	c.indices = alloc.Indices
	c.history.commitRecord(RoundRecord{
		Round:     c.round,
		Region:    c.region,
		Intensity: c.intensity,
		Indices:   append([]int(nil), alloc.Indices...),
		Reused:    alloc.Reused,
		Appended:  alloc.Appended,
		Drawn:     alloc.Drawn,
	})

	draws := make([][]float64, 0, len(alloc.Indices))
	for _, idx := range alloc.Indices {
		e, err := c.store.Entry(idx)
		if err != nil {
			return err
		}
		draws = append(draws, e.Draw)
	}
	axes, err := SummarizeDraws(draws)
	if err != nil {
		return fmt.Errorf("round %d: summarizing draws: %w", c.round, err)
	}
	c.metrics = append(c.metrics, RoundMetrics{
		Round:     c.round,
		Volume:    c.region.Volume(),
		Requested: c.intensity.N(),
		Reused:    alloc.Reused,
		New:       alloc.Appended,
		Drawn:     alloc.Drawn,
		Axes:      axes,
	})
	logrus.Infof("round %d: allocated %d draws (%d reused, %d new from %d candidates)",
		c.round, len(alloc.Indices), alloc.Reused, alloc.Appended, alloc.Drawn)
	c.state = StateAwaitSimulation
	return nil
}

func (c *RoundController) awaitSimulation(ctx context.Context) error {
	pending := c.Pending()
	if len(pending) > 0 && c.sim != nil {
		if err := c.simulate(ctx, pending); err != nil {
			return fmt.Errorf("round %d: %w", c.round, err)
		}
		pending = c.Pending()
	}
	if len(pending) > 0 {
		logrus.Debugf("round %d: %d draws awaiting simulation", c.round, len(pending))
		return nil
	}
	c.state = StateTrain
	return nil
}

// simulate fills pending indices with a bounded worker pool. Indices are
// unique, so workers never write the same entry.
func (c *RoundController) simulate(ctx context.Context, pending []int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, idx := range pending {
		idx := idx
		g.Go(func() error {
			e, err := c.store.Entry(idx)
			if err != nil {
				return err
			}
			obs, err := c.sim.Simulate(gctx, e.Draw)
			if err != nil {
				return fmt.Errorf("simulating index %d: %w", idx, err)
			}
			return c.store.Fill(idx, obs)
		})
	}
	return g.Wait()
}

func (c *RoundController) train(ctx context.Context) error {
	samples, err := c.store.Get(c.indices)
	if err != nil {
		return fmt.Errorf("round %d: %w", c.round, err)
	}
	var warm *Snapshot
	if c.cfg.RecycleEstimator {
		warm = c.snapshot
	}
	est, err := c.factory(c.cfg.Dim, warm)
	if err != nil {
		return fmt.Errorf("round %d: building estimator: %w", c.round, err)
	}
	if err := est.Train(ctx, samples); err != nil {
		return fmt.Errorf("round %d: training: %w", c.round, err)
	}
	c.estimator = est
	c.state = StateExtractRegion
	return nil
}

func (c *RoundController) extractRegion(ctx context.Context) error {
	curves, err := c.estimator.Evaluate(ctx, c.obs, c.grid)
	if err != nil {
		return fmt.Errorf("round %d: evaluating estimator: %w", c.round, err)
	}
	if len(curves) != c.cfg.Dim {
		return fmt.Errorf("round %d: %w: estimator returned %d curves for %d dims",
			c.round, ErrDimensionMismatch, len(curves), c.cfg.Dim)
	}
	axes := make([]IntervalSet, c.cfg.Dim)
	for i := range axes {
		axes[i] = UnitInterval()
	}
	crossings := make([]Crossings, c.cfg.Dim)
	for _, d := range c.truncate {
		y := CurveFromLogRatio(curves[d], c.cfg.Threshold)
		set, cr, err := ConstructIntervals(c.grid, y, c.cfg.CrossingPolicy)
		if err != nil {
			return fmt.Errorf("round %d: z%d: %w", c.round, d, err)
		}
		axes[d] = set
		crossings[d] = cr
		logrus.Debugf("round %d: z%d -> %s (%s)", c.round, d, set, cr.Rule)
		if c.trace.Enabled() {
			c.trace.RecordExtraction(trace.ExtractionRecord{
				Round:         c.round,
				Dim:           d,
				GridPoints:    len(c.grid),
				Upcrossings:   cr.Detected[0],
				Downcrossings: cr.Detected[1],
				Rule:          cr.Rule,
				Intervals:     set.Pairs(),
				FlatAbove:     cr.FlatAbove,
			})
		}
	}
	snap, err := c.estimator.Snapshot()
	if err != nil {
		return fmt.Errorf("round %d: snapshot: %w", c.round, err)
	}
	c.snapshot = &snap
	c.history.commitResult(RoundResult{
		Round:     c.round,
		Grid:      c.grid,
		LogRatios: curves,
		Axes:      axes,
		Crossings: crossings,
		Snapshot:  snap,
	})
	roundsCompletedTotal.Inc()

	c.round++
	if c.round >= c.cfg.Rounds {
		logrus.Infof("completed %d rounds", c.round)
		c.state = StateDone
		return nil
	}
	c.state = StateBuildRegion
	return nil
}

// Posterior1D returns the normalized marginal density of parameter dim from
// the given round's result (-1 is the latest).
func (c *RoundController) Posterior1D(version, dim int) ([]float64, []float64, error) {
	res, err := c.history.Result(version)
	if err != nil {
		return nil, nil, err
	}
	if dim < 0 || dim >= len(res.LogRatios) {
		return nil, nil, fmt.Errorf("%w: parameter %d of %d", ErrDimensionMismatch, dim, len(res.LogRatios))
	}
	return PreparePosterior1D(res.Grid, res.LogRatios[dim])
}
