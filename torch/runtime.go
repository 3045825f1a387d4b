// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package torch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/internal/refnative"
)

// Runtime is a loaded engine.
//
// Tensors and modules keep a reference to the runtime that created them and
// must not be used after it is closed.
type Runtime struct {
	cfg    Config
	lib    native.Library
	calls  *native.Runtime
	closed atomic.Bool
}

// Open loads the engine described by opts.
//
// Example:
//
//	rt, err := torch.Open(torch.WithSeed(42))
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
func Open(opts ...Option) (*Runtime, error) {
	cfg := applyOptions(opts)
	ctx := context.Background()

	lib := cfg.library
	if lib == nil {
		if cfg.LibraryPath == "" {
			lib = refnative.New()
		} else {
			var err error
			lib, err = native.Open(cfg.LibraryPath)
			if err != nil {
				cfg.Logger.LogLibraryLoad(ctx, cfg.LibraryPath, err)
				return nil, err
			}
		}
	}
	cfg.Logger.LogLibraryLoad(ctx, lib.Name(), nil)

	rt := &Runtime{
		cfg:   cfg,
		lib:   lib,
		calls: native.NewRuntime(lib),
	}
	if cfg.HasSeed {
		if err := rt.Seed(cfg.Seed); err != nil {
			_ = lib.Close()
			return nil, err
		}
	}
	return rt, nil
}

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
	defaultErr  error
)

// Default returns a process-wide runtime configured from the environment
// (see ConfigFromEnv). It is opened on first use and never closed.
func Default() (*Runtime, error) {
	defaultOnce.Do(func() {
		opts, err := ConfigFromEnv()
		if err != nil {
			defaultErr = err
			return
		}
		defaultRT, defaultErr = Open(opts...)
	})
	return defaultRT, defaultErr
}

// Close releases the engine library. Calling Close more than once is a no-op.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.lib.Close()
}

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool {
	return r.closed.Load()
}

// Seed resets the engine generator.
func (r *Runtime) Seed(seed int64) error {
	return r.calls.Void(native.ManualSeed, native.I64(seed))
}

// Version returns the engine version string.
func (r *Runtime) Version() (string, error) {
	v, err := r.calls.String(native.Version)
	if err != nil {
		return "", fmt.Errorf("torch: version: %w", err)
	}
	return v, nil
}

// LibraryName identifies the loaded engine.
func (r *Runtime) LibraryName() string {
	return r.lib.Name()
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *Logger {
	return r.cfg.Logger
}

// Native returns the call boundary. It is used by the binding packages.
func (r *Runtime) Native() *native.Runtime {
	return r.calls
}
