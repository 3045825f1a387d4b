// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package torch

import "github.com/born-ml/torchbind/internal/errs"

// Error kinds. Each typed error below matches its sentinel with errors.Is.
var (
	ErrAllocation = errs.ErrAllocation
	ErrShape      = errs.ErrShape
	ErrFormat     = errs.ErrFormat
	ErrIO         = errs.ErrIO
	ErrDisposed   = errs.ErrDisposed
	ErrNative     = errs.ErrNative
)

// AllocationError reports a null handle returned by the engine.
type AllocationError = errs.AllocationError

// ShapeError reports an input whose rank an operator rejects.
type ShapeError = errs.ShapeError

// FormatError reports a parameter stream that does not fit a module.
type FormatError = errs.FormatError

// IOError reports a failed or truncated read or write.
type IOError = errs.IOError

// UseAfterDisposeError reports an operation on a released handle.
type UseAfterDisposeError = errs.UseAfterDisposeError

// NativeError reports an engine error from a call that does not return a handle.
type NativeError = errs.NativeError
