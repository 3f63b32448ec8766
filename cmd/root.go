package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags for the inference run
	configPath       string    // Optional YAML run config; flags override its values
	seed             int64     // Seed for proposals and simulator noise
	logLevel         string    // Log verbosity level
	dim              int       // Number of parameters
	paramNames       []string  // Optional parameter names
	rounds           int       // Number of rounds to run
	samplesPerRound  int       // Intensity target per round
	threshold        float64   // Ratio threshold relative to the mode
	gridResolution   float64   // Extraction grid spacing on [0, 1]
	maxDraws         int       // Rejection budget per round (0 = default)
	proposal         string    // Candidate proposal: cube, box, region
	disableReuse     bool      // Never reuse stored draws
	workers          int       // Simulation worker pool size
	recycleEstimator bool      // Warm-start each round's estimator
	crossingPolicy   string    // Extractor boundary policy: clip, strict
	truncateNames    []string  // Parameters to refine, by name
	truncateIndices  []int     // Parameters to refine, by index
	modelName        string    // Toy simulator
	modelNoise       float64   // Toy simulator noise scale
	observation      []float64 // Observation to condition on
	truth            []float64 // Parameter to simulate the observation at
	obsBandwidth     float64   // Estimator observation kernel width
	storePath        string    // SQLite file for the store and round summaries
	resumeID         string    // Run ID to resume from store-path
	traceLevel       string    // Decision trace level: none, decisions
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nre-sim",
	Short: "Adaptive simulation-based inference with truncated proposal regions",
}

// runCmd executes the round loop using parameters from the config file and flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run truncated inference rounds against a toy simulator",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg := DefaultRunConfig()
		if configPath != "" {
			if cfg, err = LoadRunConfig(configPath); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		applyRunFlags(cmd, &cfg)

		if _, err := runInference(cmd.Context(), cfg, resumeID, os.Stdout); err != nil {
			logrus.Fatalf("Inference failed: %v", err)
		}
		logrus.Info("Inference complete.")
	},
}

// applyRunFlags copies explicitly set flags over cfg.
func applyRunFlags(cmd *cobra.Command, cfg *RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("dim") {
		cfg.Dim = dim
	}
	if flags.Changed("param-names") {
		cfg.ParamNames = paramNames
	}
	if flags.Changed("rounds") {
		cfg.Rounds = rounds
	}
	if flags.Changed("samples") {
		cfg.SamplesPerRound = samplesPerRound
	}
	if flags.Changed("threshold") {
		cfg.Threshold = threshold
	}
	if flags.Changed("grid-resolution") {
		cfg.GridResolution = gridResolution
	}
	if flags.Changed("max-draws") {
		cfg.MaxDraws = maxDraws
	}
	if flags.Changed("proposal") {
		cfg.Proposal = proposal
	}
	if flags.Changed("no-reuse") {
		cfg.DisableReuse = disableReuse
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("recycle") {
		cfg.RecycleEstimator = recycleEstimator
	}
	if flags.Changed("crossing-policy") {
		cfg.CrossingPolicy = crossingPolicy
	}
	if flags.Changed("truncate") {
		cfg.Truncate = TruncateConfig{Names: truncateNames}
	}
	if flags.Changed("truncate-index") {
		cfg.Truncate = TruncateConfig{Indices: truncateIndices}
	}
	if flags.Changed("model") {
		cfg.Model.Name = modelName
	}
	if flags.Changed("noise") {
		cfg.Model.Noise = modelNoise
	}
	if flags.Changed("obs") {
		cfg.Model.Observation = observation
	}
	if flags.Changed("truth") {
		cfg.Model.Truth = truth
	}
	if flags.Changed("bandwidth") {
		cfg.Estimator.ObsBandwidth = obsBandwidth
	}
	if flags.Changed("store-path") {
		cfg.StorePath = storePath
	}
	if flags.Changed("trace") {
		cfg.Trace = traceLevel
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	d := DefaultRunConfig()

	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run config (flags override its values)")
	runCmd.Flags().Int64Var(&seed, "seed", d.Seed, "Seed for proposals and simulator noise")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Round loop
	runCmd.Flags().IntVar(&dim, "dim", d.Dim, "Number of parameters")
	runCmd.Flags().StringSliceVar(&paramNames, "param-names", nil, "Comma-separated parameter names")
	runCmd.Flags().IntVar(&rounds, "rounds", d.Rounds, "Number of rounds")
	runCmd.Flags().IntVar(&samplesPerRound, "samples", d.SamplesPerRound, "Simulations per round")
	runCmd.Flags().Float64Var(&threshold, "threshold", d.Threshold, "Ratio threshold relative to the mode")
	runCmd.Flags().Float64Var(&gridResolution, "grid-resolution", d.GridResolution, "Extraction grid spacing on [0, 1]")
	runCmd.Flags().IntVar(&maxDraws, "max-draws", 0, "Rejection budget per round (0 = 1000 per sample)")
	runCmd.Flags().StringVar(&proposal, "proposal", d.Proposal, "Candidate proposal (cube, box, region)")
	runCmd.Flags().BoolVar(&disableReuse, "no-reuse", false, "Never reuse stored simulations")
	runCmd.Flags().IntVar(&workers, "workers", d.Workers, "Simulation worker pool size")
	runCmd.Flags().BoolVar(&recycleEstimator, "recycle", false, "Warm-start each round's estimator from the previous one")
	runCmd.Flags().StringVar(&crossingPolicy, "crossing-policy", d.CrossingPolicy, "Extractor boundary policy (clip, strict)")
	runCmd.Flags().StringSliceVar(&truncateNames, "truncate", nil, "Parameters to refine, by name (default all)")
	runCmd.Flags().IntSliceVar(&truncateIndices, "truncate-index", nil, "Parameters to refine, by index (default all)")

	// Model and estimator
	runCmd.Flags().StringVar(&modelName, "model", d.Model.Name, "Toy simulator (gaussian, folded)")
	runCmd.Flags().Float64Var(&modelNoise, "noise", d.Model.Noise, "Toy simulator noise scale")
	runCmd.Flags().Float64SliceVar(&observation, "obs", nil, "Observation to condition on (default: simulated at --truth)")
	runCmd.Flags().Float64SliceVar(&truth, "truth", nil, "Parameter vector the observation is simulated at (default 0.3 per axis)")
	runCmd.Flags().Float64Var(&obsBandwidth, "bandwidth", 0, "Estimator observation kernel width (0 = default)")

	// Persistence and tracing
	runCmd.Flags().StringVar(&storePath, "store-path", "", "SQLite file for the simulation store and round summaries")
	runCmd.Flags().StringVar(&resumeID, "resume", "", "Run ID in --store-path to continue from")
	runCmd.Flags().StringVar(&traceLevel, "trace", d.Trace, "Decision trace level (none, decisions)")
	runCmd.MarkFlagsMutuallyExclusive("truncate", "truncate-index")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(inspectCmd)
}
