package models

import "errors"

// Error kinds shared by every stage of a registration run. Packages re-export
// them so callers can match with errors.Is without importing this package.
var (
	// ErrInvalidConfiguration is returned at setup time, before any iteration runs.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNumericalInstability is returned when a non-finite value is produced.
	// The deformation field of the failed run has no defined meaning.
	ErrNumericalInstability = errors.New("numerical instability")

	// ErrDispatchFailure is returned when the worker pool cannot be started,
	// joined, or one of its workers fails outside the numerical kernel.
	ErrDispatchFailure = errors.New("dispatch failure")
)
