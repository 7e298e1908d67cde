// Package errors defines the error kinds the coverage loop distinguishes.
// Only coverage backend and configuration errors are fatal to a run.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the loop must react to it.
type Kind string

const (
	// KindCoverageBackend aborts the run.
	KindCoverageBackend Kind = "coverage_backend"
	// KindGenerationBackend yields zero candidates for one target.
	KindGenerationBackend Kind = "generation_backend"
	// KindExecution rejects one candidate.
	KindExecution Kind = "execution"
	// KindConfiguration aborts before the first measurement.
	KindConfiguration Kind = "configuration"
	// KindCancelled aborts the run on an external signal.
	KindCancelled Kind = "cancelled"
)

// ErrCancelled is the reason reported when a run is cancelled.
var ErrCancelled = errors.New("cancelled")

// Error carries a kind, the failed operation, and the cause.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Context map[string]any
}

// Context keys used across packages.
const (
	CtxPath      = "path"
	CtxTarget    = "target"
	CtxCandidate = "candidate"
)

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}

	e.Context[key] = value

	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of kind for op without a cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap creates an error of kind for op caused by err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// CoverageBackend wraps a failure to measure coverage.
func CoverageBackend(op string, err error) *Error {
	return Wrap(KindCoverageBackend, op, err)
}

// GenerationBackend wraps a failure to obtain candidates.
func GenerationBackend(op string, err error) *Error {
	return Wrap(KindGenerationBackend, op, err)
}

// Execution wraps a candidate-local execution failure.
func Execution(op string, err error) *Error {
	return Wrap(KindExecution, op, err)
}

// Configuration reports invalid configuration.
func Configuration(format string, args ...any) *Error {
	return Wrap(KindConfiguration, "validate configuration", fmt.Errorf(format, args...))
}

// Cancelled reports a run stopped by its context.
func Cancelled(cause error) *Error {
	if cause == nil || errors.Is(cause, ErrCancelled) {
		return Wrap(KindCancelled, "run", ErrCancelled)
	}

	return Wrap(KindCancelled, "run", fmt.Errorf("%w: %w", ErrCancelled, cause))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return "", false
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Fatal reports whether err must stop the loop.
func Fatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return err != nil
	}

	return k == KindCoverageBackend || k == KindConfiguration || k == KindCancelled
}
