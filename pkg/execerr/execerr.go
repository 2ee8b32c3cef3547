// Package execerr defines the error kinds surfaced by the executor.
// Callers classify failures with errors.Is against these sentinels;
// call sites add context with github.com/pkg/errors wrapping.
package execerr

import "errors"

var (
	// ErrTypeMismatch reports incompatible aggregate type wiring, such
	// as a strict transition function with a null initial condition
	// whose first argument type differs from its transition type.
	ErrTypeMismatch = errors.New("aggregate type mismatch")

	// ErrPermissionDenied reports a missing EXECUTE privilege on an
	// aggregate support function.
	ErrPermissionDenied = errors.New("permission denied for function")

	// ErrNestedAggregate reports an aggregate call appearing inside
	// the arguments of another aggregate call.
	ErrNestedAggregate = errors.New("aggregate function calls cannot be nested")

	// ErrIO reports a short read or failed write on a spill tape.
	ErrIO = errors.New("spill tape i/o error")

	// ErrInternal reports an executor invariant violation.
	ErrInternal = errors.New("internal error")

	// ErrFunction wraps a failure propagated from a user-defined
	// aggregate support function.
	ErrFunction = errors.New("aggregate function error")
)
