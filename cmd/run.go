package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/nre-sim/nre"
	"github.com/inference-sim/nre-sim/nre/estimator"
	"github.com/inference-sim/nre-sim/nre/model"
	"github.com/inference-sim/nre-sim/nre/persist"
	"github.com/inference-sim/nre-sim/nre/trace"
)

// runResult is what runInference produced, for reporting and tests.
type runResult struct {
	RunID       string // empty without a store_path
	Observation nre.Observation
	Controller  *nre.RoundController
	Store       *nre.SimulationStore
	Trace       *trace.RunTrace
	Joints      []nre.JointPosterior
}

// runInference runs every round of cfg against its toy model and writes the
// report to w. With a store_path the simulation store and round summaries
// are saved after the run, also when it fails part way; resumeID continues
// from the store of an earlier run.
func runInference(ctx context.Context, cfg RunConfig, resumeID string, w io.Writer) (*runResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ccfg, err := cfg.controllerConfig()
	if err != nil {
		return nil, err
	}
	sim, err := model.New(model.Config{
		Name:  cfg.Model.Name,
		Noise: cfg.Model.Noise,
		Dist:  cfg.Model.NoiseDist,
		Seed:  nre.SimulatorSeed(cfg.Seed),
	})
	if err != nil {
		return nil, err
	}

	obs := nre.Observation(cfg.Model.Observation)
	if len(obs) == 0 {
		truth := cfg.truth()
		if obs, err = sim.Simulate(ctx, truth); err != nil {
			return nil, fmt.Errorf("simulating observation at %v: %w", truth, err)
		}
		logrus.Infof("Simulated observation %v at truth %v", obs, truth)
	}

	res := &runResult{Observation: obs, Store: nre.NewSimulationStore()}
	var db *persist.DB
	if cfg.StorePath != "" {
		if db, err = persist.Open(cfg.StorePath); err != nil {
			return nil, err
		}
		defer db.Close()
		if res.RunID, res.Store, err = openRun(db, cfg, resumeID); err != nil {
			return nil, err
		}
	} else if resumeID != "" {
		return nil, fmt.Errorf("--resume needs a store_path")
	}

	opts := []nre.ControllerOption{nre.WithSimulator(sim)}
	if trace.TraceLevel(cfg.Trace) == trace.TraceLevelDecisions {
		res.Trace = trace.NewRunTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
		opts = append(opts, nre.WithTrace(res.Trace))
	}
	c, err := nre.NewRoundController(ccfg, obs, res.Store, estimator.NewFactory(cfg.Estimator), opts...)
	if err != nil {
		return nil, err
	}
	res.Controller = c

	startTime := time.Now()
	runErr := c.Run(ctx)
	if db != nil {
		if err := db.SaveStore(res.RunID, res.Store); err != nil {
			logrus.Errorf("saving store: %v", err)
		}
		if err := db.SaveHistory(res.RunID, c.History()); err != nil {
			logrus.Errorf("saving rounds: %v", err)
		}
	}
	if runErr != nil {
		return res, fmt.Errorf("round %d (%s): %w", c.Round(), c.State(), runErr)
	}
	if res.Joints, err = evaluateJoints(ctx, c, cfg); err != nil {
		return res, err
	}
	printReport(w, res, time.Since(startTime))
	return res, nil
}

// evaluateJoints computes the configured joint posteriors after the last round.
func evaluateJoints(ctx context.Context, c *nre.RoundController, cfg RunConfig) ([]nre.JointPosterior, error) {
	sels, err := cfg.jointSelectors()
	if err != nil || len(sels) == 0 || c.History().Completed() == 0 {
		return nil, err
	}
	if _, err := c.Joint(ctx, cfg.Joint.GridResolution, sels...); err != nil {
		return nil, err
	}
	out := make([]nre.JointPosterior, 0, len(sels))
	for _, sel := range sels {
		post, err := c.PosteriorND(sel)
		if err != nil {
			return nil, err
		}
		out = append(out, post)
	}
	return out, nil
}

// openRun creates a new persisted run, or loads the store of resumeID.
func openRun(db *persist.DB, cfg RunConfig, resumeID string) (string, *nre.SimulationStore, error) {
	if resumeID != "" {
		run, err := db.GetRun(resumeID)
		if err != nil {
			return "", nil, err
		}
		if run.Dim != cfg.Dim {
			return "", nil, fmt.Errorf("run %s has dim %d, config has %d", run.ID, run.Dim, cfg.Dim)
		}
		store, err := db.LoadStore(run.ID)
		if err != nil {
			return "", nil, err
		}
		logrus.Infof("Resuming run %s: %d stored draws, %d pending", run.ID, store.Len(), store.PendingCount())
		return run.ID, store, nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", nil, fmt.Errorf("encode run config: %w", err)
	}
	run, err := db.CreateRun(cfg.Dim, cfg.Seed, string(data))
	if err != nil {
		return "", nil, err
	}
	logrus.Infof("Created run %s in %s", run.ID, cfg.StorePath)
	return run.ID, nre.NewSimulationStore(), nil
}

func printReport(w io.Writer, res *runResult, elapsed time.Duration) {
	c := res.Controller
	fmt.Fprintf(w, "=== Inference Report ===\n")
	if res.RunID != "" {
		fmt.Fprintf(w, "Run ID               : %s\n", res.RunID)
	}
	fmt.Fprintf(w, "Observation          : %v\n", []float64(res.Observation))
	fmt.Fprintf(w, "Rounds Completed     : %d\n", c.History().Completed())
	fmt.Fprintf(w, "Stored Simulations   : %d\n", res.Store.Len())
	fmt.Fprintf(w, "Elapsed              : %s\n", elapsed.Round(time.Millisecond))
	for _, m := range c.Metrics() {
		m.Print(w)
	}
	if c.History().Completed() > 0 {
		last, err := c.History().Result(-1)
		if err == nil {
			fmt.Fprintf(w, "=== Next Region ===\n")
			for i, a := range last.Axes {
				fmt.Fprintf(w, "z%-3d %s\n", i, a)
			}
		}
	}
	if len(res.Joints) > 0 {
		fmt.Fprintf(w, "=== Joint Posteriors ===\n")
		for _, p := range res.Joints {
			fmt.Fprintf(w, "z%v mode %v (%d grid points per axis)\n", p.Combo, p.Mode(), len(p.Grid))
		}
	}
	if res.Trace != nil {
		s := trace.Summarize(res.Trace)
		fmt.Fprintf(w, "=== Trace Summary ===\n")
		fmt.Fprintf(w, "Extractions          : %d (flat %d)\n", s.TotalExtractions, s.FlatCurves)
		fmt.Fprintf(w, "Extraction Rules     : %v\n", s.RuleDistribution)
		fmt.Fprintf(w, "Requested / Reused   : %d / %d\n", s.TotalRequested, s.TotalReused)
		fmt.Fprintf(w, "Mean Acceptance      : %.4f\n", s.MeanAcceptance)
		fmt.Fprintf(w, "Exhausted Budgets    : %d\n", s.ExhaustedCount)
	}
}
