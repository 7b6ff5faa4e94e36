package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"imgcap/internal/manager"
)

// ConfigError reports an unusable run configuration, such as a missing input
// directory. It is fatal for the run and is never retried.
type ConfigError struct {
	Field string
	Path  string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Field + ": " + e.Err.Error()
	}
	return "config: " + e.Field + " " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IOFailure reports a per-item decode or write failure.
type IOFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *IOFailure) Error() string { return e.Op + " " + e.Path + ": " + e.Err.Error() }

func (e *IOFailure) Unwrap() error { return e.Err }

// IsIOFailure reports whether err (or anything it wraps) is an IOFailure.
func IsIOFailure(err error) bool {
	var iof *IOFailure
	return errors.As(err, &iof)
}

// Error kinds recorded on failed items.
const (
	KindLoad        = "load"
	KindGeneration  = "generation"
	KindIO          = "io"
	KindInterrupted = "interrupted"
)

// errorKind classifies a per-item failure.
func errorKind(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return KindInterrupted
	case manager.IsLoadFailure(err):
		return KindLoad
	case manager.IsGenerationFailure(err):
		return KindGeneration
	default:
		return KindIO
	}
}
