// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/torch"
)

// Module is a layer constructed by the engine.
//
// A Module owns two engine handles: the module itself and a boxed handle
// the engine uses to insert the module into containers such as Sequential.
// Its configuration is fixed at construction.
//
// Lifecycle:
//
//	m, err := nn.NewLinear(rt, 784, 10, true) // Constructed, usable
//	y, err := m.Forward(x)                    // any number of times
//	m.Dispose()                               // Disposed (terminal)
//
// After Dispose every operation fails with *torch.UseAfterDisposeError.
// A Module is not safe for concurrent use.
type Module struct {
	rt       *torch.Runtime
	op       *opSpec
	handle   atomic.Uintptr
	boxed    atomic.Uintptr
	config   []ConfigEntry
	features int64
	cleanup  runtime.Cleanup
}

// ConfigEntry is one constructor setting, formatted for display.
type ConfigEntry struct {
	Key   string
	Value string
}

// moduleRelease disposes handles of a Module that was never disposed.
type moduleRelease struct {
	calls  *native.Runtime
	handle native.Handle
	boxed  native.Handle
}

func (r moduleRelease) run() {
	_ = r.calls.Void(native.ModuleDispose, native.H(r.handle))
	if r.boxed != native.Null {
		_ = r.calls.Void(native.AnyModuleDispose, native.H(r.boxed))
	}
}

// construct calls the ctor entry point of op with args followed by the
// boxed out-pointer. args must not reference Go memory the caller frees
// before construct returns.
func construct(rt *torch.Runtime, op string, features int64, config []ConfigEntry, args ...native.Arg) (*Module, error) {
	desc := lookupOp(op)
	ctx := context.Background()
	log := rt.Logger()

	var boxed native.Handle
	h, err := rt.Native().Handle(native.Ctor(op), append(args, native.Out(&boxed))...)
	if err != nil {
		log.LogModule(ctx, op, 0, err)
		return nil, err
	}

	m := &Module{rt: rt, op: desc, config: config, features: features}
	m.handle.Store(uintptr(h))
	m.boxed.Store(uintptr(boxed))
	m.cleanup = runtime.AddCleanup(m, moduleRelease.run, moduleRelease{
		calls:  rt.Native(),
		handle: h,
		boxed:  boxed,
	})

	if log.Enabled(ctx, slog.LevelDebug) {
		n, _ := m.NumParameters()
		log.LogModule(ctx, op, n, nil)
	}
	return m, nil
}

// Op returns the operator name, e.g. "InstanceNorm3d".
func (m *Module) Op() string {
	return m.op.name
}

// Runtime returns the runtime the module was constructed on.
func (m *Module) Runtime() *torch.Runtime {
	return m.rt
}

// Config returns the constructor settings in declaration order.
func (m *Module) Config() []ConfigEntry {
	return append([]ConfigEntry(nil), m.config...)
}

// String formats the module as Op(key=value, ...).
func (m *Module) String() string {
	var b strings.Builder
	b.WriteString(m.op.name)
	b.WriteByte('(')
	for i, e := range m.config {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.Key)
		b.WriteByte('=')
		b.WriteString(e.Value)
	}
	b.WriteByte(')')
	return b.String()
}

// Handle returns the module handle, or *torch.UseAfterDisposeError once
// the module is disposed.
func (m *Module) Handle() (native.Handle, error) {
	h := native.Handle(m.handle.Load())
	if h == native.Null {
		return native.Null, &torch.UseAfterDisposeError{Kind: "module", Name: m.op.name}
	}
	return h, nil
}

// Disposed reports whether Dispose has been called.
func (m *Module) Disposed() bool {
	return m.handle.Load() == 0
}

// Forward applies the module to x and returns a new tensor the caller
// must dispose.
//
// The input rank (and, where the operator has one, the feature dimension)
// is checked before the forward entry point is called; a mismatch fails
// with *torch.ShapeError.
func (m *Module) Forward(x *torch.Tensor) (*torch.Tensor, error) {
	h, err := m.Handle()
	if err != nil {
		return nil, err
	}
	xh, err := x.Handle()
	if err != nil {
		return nil, err
	}
	shape, err := x.Shape()
	if err != nil {
		return nil, err
	}
	if err := m.op.check(shape, m.features); err != nil {
		return nil, err
	}

	out, err := m.rt.Native().Handle(native.Forward(m.op.name), native.H(h), native.H(xh))
	runtime.KeepAlive(m)
	runtime.KeepAlive(x)
	if err != nil {
		return nil, err
	}
	return torch.FromHandle(m.rt, out), nil
}

// NumParameters returns the number of learnable tensors, including those
// of nested modules.
func (m *Module) NumParameters() (int, error) {
	h, err := m.Handle()
	if err != nil {
		return 0, err
	}
	n, err := m.rt.Native().Int64(native.ModuleNumParameters, native.H(h))
	runtime.KeepAlive(m)
	return int(n), err
}

// NamedParameters returns the learnable tensors in declaration order.
// Nested modules contribute names prefixed with their name and a dot
// ("lin1.weight").
//
// Each parameter owns a handle sharing storage with the module: writes
// through the parameter change the module. Dispose the set when done.
func (m *Module) NamedParameters() (*ParameterSet, error) {
	h, err := m.Handle()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(m)

	calls := m.rt.Native()
	n, err := calls.Int64(native.ModuleNumParameters, native.H(h))
	if err != nil {
		return nil, err
	}

	set := newParameterSet(int(n))
	for i := range n {
		name, err := calls.String(native.ModuleParameterName, native.H(h), native.I64(i))
		if err != nil {
			_ = set.Dispose()
			return nil, err
		}
		th, err := calls.Handle(native.ModuleGetParameter, native.H(h), native.I64(i))
		if err != nil {
			_ = set.Dispose()
			return nil, err
		}
		set.add(&Parameter{name: name, tensor: torch.FromHandle(m.rt, th)})
	}
	return set, nil
}

// Parameters returns the learnable tensors in declaration order.
// The caller must dispose each of them.
func (m *Module) Parameters() ([]*Parameter, error) {
	set, err := m.NamedParameters()
	if err != nil {
		return nil, err
	}
	return set.List(), nil
}

// Train switches training mode on or off, recursively.
func (m *Module) Train(on bool) error {
	h, err := m.Handle()
	if err != nil {
		return err
	}
	err = m.rt.Native().Void(native.ModuleTrain, native.H(h), native.B(on))
	runtime.KeepAlive(m)
	return err
}

// Eval is Train(false).
func (m *Module) Eval() error {
	return m.Train(false)
}

// IsTraining reports whether the module is in training mode.
// Modules start in training mode.
func (m *Module) IsTraining() (bool, error) {
	h, err := m.Handle()
	if err != nil {
		return false, err
	}
	on, err := m.rt.Native().Bool(native.ModuleIsTraining, native.H(h))
	runtime.KeepAlive(m)
	return on, err
}

// Dispose releases the module handle and then the boxed handle.
// Calling it again is a no-op.
func (m *Module) Dispose() error {
	h := native.Handle(m.handle.Swap(0))
	if h == native.Null {
		return nil
	}
	m.cleanup.Stop()
	boxed := native.Handle(m.boxed.Swap(0))

	calls := m.rt.Native()
	err := calls.Void(native.ModuleDispose, native.H(h))
	if boxed != native.Null {
		err = errors.Join(err, calls.Void(native.AnyModuleDispose, native.H(boxed)))
	}
	m.rt.Logger().LogDispose(context.Background(), "module", m.op.name, err)
	return err
}

// boxedHandle returns the handle used for container insertion.
func (m *Module) boxedHandle() (native.Handle, error) {
	if _, err := m.Handle(); err != nil {
		return native.Null, err
	}
	return native.Handle(m.boxed.Load()), nil
}
