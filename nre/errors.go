package nre

import (
	"errors"
	"fmt"
)

// Engine errors. Callers match with errors.Is.
var (
	// ErrInvalidRegion indicates malformed interval bounds (lo > hi or NaN).
	ErrInvalidRegion = errors.New("nre: invalid region")

	// ErrInsufficientAcceptance indicates the rejection-sampling budget ran out
	// before the intensity collected its target number of draws.
	ErrInsufficientAcceptance = errors.New("nre: insufficient acceptance")

	// ErrAlreadyFilled indicates a second Fill on the same store index.
	ErrAlreadyFilled = errors.New("nre: store index already filled")

	// ErrMalformedCurve indicates a curve the extractor cannot pair into intervals.
	ErrMalformedCurve = errors.New("nre: malformed crossing curve")

	// ErrIndexOutOfRange indicates a store index that was never assigned.
	ErrIndexOutOfRange = errors.New("nre: store index out of range")

	// ErrDimensionMismatch indicates vectors or regions of different dimension.
	ErrDimensionMismatch = errors.New("nre: dimension mismatch")

	// ErrAwaitingSimulation is returned by RoundController.Run when pending
	// draws must be simulated by the caller before the round can continue.
	ErrAwaitingSimulation = errors.New("nre: awaiting external simulation")

	// ErrNoCompletedRound indicates an operation that needs a trained round.
	ErrNoCompletedRound = errors.New("nre: no completed round")

	// ErrJointUnsupported indicates an estimator without joint evaluation.
	ErrJointUnsupported = errors.New("nre: estimator does not evaluate joint combinations")

	// ErrUnknownCombination indicates a joint lookup for a parameter
	// combination no joint result evaluated.
	ErrUnknownCombination = errors.New("nre: parameter combination not evaluated")
)

// InsufficientAcceptanceError carries the counts of a failed allocation.
// Draws accepted before the budget ran out remain in the store.
type InsufficientAcceptanceError struct {
	Requested int
	Accepted  int
	Drawn     int
	Volume    float64
}

func (e *InsufficientAcceptanceError) Error() string {
	return fmt.Sprintf("%v: accepted %d of %d requested after %d draws (region volume %g)",
		ErrInsufficientAcceptance, e.Accepted, e.Requested, e.Drawn, e.Volume)
}

func (e *InsufficientAcceptanceError) Unwrap() error {
	return ErrInsufficientAcceptance
}
