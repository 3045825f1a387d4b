// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package torch is the entry point to a native tensor engine.
//
// # Overview
//
// Every computation runs inside the engine, behind a foreign-function
// boundary. This package provides:
//   - Runtime: the loaded engine, its configuration and logger
//   - Tensor: an owned handle to engine memory (float32)
//   - The error taxonomy shared by all binding packages
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/torchbind/torch"
//	)
//
//	func main() {
//	    rt, err := torch.Open(torch.WithLibrary("/opt/engine/libengine.so"))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer rt.Close()
//
//	    x, err := torch.Randn(rt, 2, 3)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer x.Dispose()
//	}
//
// Without WithLibrary the in-process reference engine is used. It
// implements the same entry points with plain Go kernels.
//
// # Handle Lifetime
//
// A Tensor owns exactly one engine handle. Dispose releases it and is safe
// to call more than once. Handles that are never disposed are released
// when the Go wrapper becomes unreachable, but engine memory is not visible
// to the Go collector, so prompt Dispose calls are recommended:
//
//	y, err := layer.Forward(x)
//	if err != nil { ... }
//	defer y.Dispose()
//
// Any operation on a disposed tensor fails with *UseAfterDisposeError.
//
// # Threading
//
// The engine reports failures through a thread-local error slot. Each call
// pins the calling goroutine to its OS thread until the slot has been read,
// so errors are never attributed to the wrong call. No other locking is
// added: a Tensor or Module must not be used from several goroutines at
// once without external synchronization.
package torch
