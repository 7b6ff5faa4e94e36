package manager

import (
	"github.com/pkg/errors"
)

// LoadFailure signals that constructing the resource failed. The manager stays
// unloaded and retries construction on the next call.
type LoadFailure struct {
	Device Device
	Err    error
}

func (e *LoadFailure) Error() string {
	return "load failure on " + string(e.Device) + ": " + e.Err.Error()
}

func (e *LoadFailure) Unwrap() error { return e.Err }

// IsLoadFailure reports whether err (or anything it wraps) is a LoadFailure.
func IsLoadFailure(err error) bool {
	var lf *LoadFailure
	return errors.As(err, &lf)
}

// GenerationFailure signals that the inference call itself failed.
type GenerationFailure struct{ Err error }

func (e *GenerationFailure) Error() string { return "generation failure: " + e.Err.Error() }

func (e *GenerationFailure) Unwrap() error { return e.Err }

// IsGenerationFailure reports whether err (or anything it wraps) is a GenerationFailure.
func IsGenerationFailure(err error) bool {
	var gf *GenerationFailure
	return errors.As(err, &gf)
}

// dependencyUnavailableError signals a missing external dependency (e.g., the
// llama-server binary or a model file).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
