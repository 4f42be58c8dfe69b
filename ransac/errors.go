package ransac

import "errors"

// Sentinel errors returned by the fitting engine. Match them with errors.Is;
// configuration errors are wrapped with the offending field name.
var (
	// ErrInvalidConfiguration is returned by NewEngine when Settings violate their constraints.
	ErrInvalidConfiguration = errors.New("ransac: invalid configuration")

	// ErrEmptyInput is returned by Run when there are fewer correspondences than a minimal sample.
	ErrEmptyInput = errors.New("ransac: not enough correspondences")

	// ErrDegenerateSample marks a minimal sample that cannot determine a model.
	ErrDegenerateSample = errors.New("ransac: degenerate sample")

	// ErrEstimationFailure marks a candidate that failed the validity check or a failed refit.
	ErrEstimationFailure = errors.New("ransac: estimation failed")

	// ErrOptimizationFailure marks a local optimization that failed or did not improve.
	ErrOptimizationFailure = errors.New("ransac: local optimization failed")

	// ErrNoModel is returned when the run ended without any valid model.
	ErrNoModel = errors.New("ransac: no valid model found")

	// ErrEngineUsed is returned when Run is called on an engine that already ran.
	ErrEngineUsed = errors.New("ransac: engine already ran")
)
