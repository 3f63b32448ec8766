// Package nre provides the adaptive sampling engine for truncated marginal
// ratio estimation.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - interval.go: IntervalSet, the per-axis union of disjoint closed intervals
//   - region.go: FactorRegion, the axis-factorized product region and its volume
//   - store.go: SimulationStore, the append-only, simulate-once draw cache
//   - intensity.go: Intensity, the target sampling density and its allocation
//   - extract.go: ConstructIntervals, credible-region extraction from a curve
//   - controller.go: RoundController, the per-round state machine
//
// # Architecture
//
// The nre package defines the region algebra and the collaborator interfaces;
// concrete collaborators live in sub-packages:
//   - nre/estimator/: reference kernel-weighted marginal ratio estimator
//   - nre/model/: toy simulators used by the CLI and the tests
//   - nre/persist/: SQLite persistence for the simulation store and round history
//   - nre/trace/: extraction and allocation decision records
//
// # Key Interfaces
//
//   - Simulator: parameter vector to observation
//   - Estimator: train on a round's samples, evaluate marginal log-ratio curves
//   - Proposal: unconstrained candidate draws for rejection sampling
package nre
