// Package errs defines the error taxonomy shared by the binding layers.
//
// Every failure surfaced to callers is one of five kinds:
//   - AllocationError: the native engine returned a null handle
//   - ShapeError: an input violates an operator's rank precondition
//   - FormatError: a parameter stream does not match the target module
//   - IOError: reading or writing a stream failed
//   - UseAfterDisposeError: an operation touched a released handle
//
// NativeError covers the remaining case of an entry point that does not
// return a handle but leaves a message in the engine's last-error slot.
//
// Each kind matches its sentinel with errors.Is, so callers can branch on
// the kind without a type assertion:
//
//	if errors.Is(err, errs.ErrShape) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind.
var (
	ErrAllocation = errors.New("native allocation failed")
	ErrShape      = errors.New("invalid tensor shape")
	ErrFormat     = errors.New("invalid parameter stream")
	ErrIO         = errors.New("stream i/o failed")
	ErrDisposed   = errors.New("use after dispose")
	ErrNative     = errors.New("native call failed")
)

// AllocationError reports a null handle returned by a native entry point.
// Message is the engine's last-error string, queried on the same OS thread
// right after the call.
type AllocationError struct {
	Symbol  string // Native entry point that returned null
	Message string // Engine error text (may be empty)
}

// Error implements the error interface.
func (e *AllocationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s returned a null handle", ErrAllocation, e.Symbol)
	}
	return fmt.Sprintf("%s: %s: %s", ErrAllocation, e.Symbol, e.Message)
}

// Is reports whether target is ErrAllocation.
func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocation
}

// ShapeError reports an input whose dimensionality an operator rejects.
type ShapeError struct {
	Op       string  // Operator name, e.g. "InstanceNorm3d"
	Expected string  // Human-readable constraint, e.g. "5 dimensions"
	Got      []int64 // Offending shape
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s expects %s, got shape %v (%d dimensions)",
		ErrShape, e.Op, e.Expected, e.Got, len(e.Got))
}

// Is reports whether target is ErrShape.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

// FormatError reports a parameter stream that cannot be applied to a module.
type FormatError struct {
	Param  string // Parameter involved, empty for stream-level problems
	Reason string
	Err    error // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	msg := ErrFormat.Error()
	if e.Param != "" {
		msg += fmt.Sprintf(": parameter %q", e.Param)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Unwrap returns the underlying cause.
func (e *FormatError) Unwrap() error {
	return e.Err
}

// IOError reports a failed read or write, including truncated streams.
type IOError struct {
	Op  string // "read" or "write"
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIO, e.Op, e.Err)
}

// Is reports whether target is ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// UseAfterDisposeError reports an operation attempted on a released handle.
type UseAfterDisposeError struct {
	Kind string // "module", "tensor" or "parameter"
	Name string // Operator or parameter name, may be empty
}

// Error implements the error interface.
func (e *UseAfterDisposeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s", ErrDisposed, e.Kind)
	}
	return fmt.Sprintf("%s: %s %s", ErrDisposed, e.Kind, e.Name)
}

// Is reports whether target is ErrDisposed.
func (e *UseAfterDisposeError) Is(target error) bool {
	return target == ErrDisposed
}

// NativeError reports an engine error raised by an entry point that does not
// return a handle, or a failure of the call machinery itself.
type NativeError struct {
	Symbol  string
	Message string
	Err     error // Binding-level cause (missing symbol, ffi failure), may be nil
}

// Error implements the error interface.
func (e *NativeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrNative, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrNative, e.Symbol, e.Message)
}

// Is reports whether target is ErrNative.
func (e *NativeError) Is(target error) bool {
	return target == ErrNative
}

// Unwrap returns the binding-level cause.
func (e *NativeError) Unwrap() error {
	return e.Err
}
