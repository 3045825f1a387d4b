// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package torch

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/born-ml/torchbind/internal/native"
)

// Tensor is an owned handle to a float32 tensor in engine memory.
//
// The zero value is not usable; tensors come from the constructors in this
// package or from module operations.
type Tensor struct {
	rt      *Runtime
	handle  atomic.Uintptr
	cleanup runtime.Cleanup
}

// release is the cleanup state for a forgotten tensor. It must not
// reference the Tensor itself.
type release struct {
	calls *native.Runtime
	sym   *native.Symbol
	h     native.Handle
}

func (r release) run() {
	_ = r.calls.Void(r.sym, native.H(r.h))
}

// FromHandle takes ownership of a tensor handle returned by the engine.
// Binding packages use it for results of native calls.
func FromHandle(rt *Runtime, h native.Handle) *Tensor {
	t := &Tensor{rt: rt}
	t.handle.Store(uintptr(h))
	t.cleanup = runtime.AddCleanup(t, release.run, release{
		calls: rt.calls,
		sym:   native.TensorDispose,
		h:     h,
	})
	return t
}

// FromFloat32s copies data into a new tensor with the given shape.
// len(data) must equal the product of shape.
//
// Example:
//
//	x, err := torch.FromFloat32s(rt, []float32{1, 2, 3, 4}, 2, 2)
func FromFloat32s(rt *Runtime, data []float32, shape ...int64) (*Tensor, error) {
	n, err := checkShape("FromFloat32s", shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != n {
		return nil, &ShapeError{
			Op:       "FromFloat32s",
			Expected: fmt.Sprintf("%d elements (data has %d)", n, len(data)),
			Got:      shape,
		}
	}
	h, err := rt.calls.Handle(native.TensorNewFloat32,
		native.Float32s(data), native.Int64s(shape), native.I32(int32(len(shape))))
	runtime.KeepAlive(data)
	runtime.KeepAlive(shape)
	if err != nil {
		return nil, err
	}
	return FromHandle(rt, h), nil
}

// Zeros returns a zero-filled tensor.
func Zeros(rt *Runtime, shape ...int64) (*Tensor, error) {
	return newFilled(rt, native.TensorZeros, "Zeros", shape)
}

// Randn returns a tensor of samples from the standard normal distribution,
// drawn from the engine generator (see Runtime.Seed).
func Randn(rt *Runtime, shape ...int64) (*Tensor, error) {
	return newFilled(rt, native.TensorRandn, "Randn", shape)
}

func newFilled(rt *Runtime, sym *native.Symbol, op string, shape []int64) (*Tensor, error) {
	if _, err := checkShape(op, shape); err != nil {
		return nil, err
	}
	h, err := rt.calls.Handle(sym, native.Int64s(shape), native.I32(int32(len(shape))))
	runtime.KeepAlive(shape)
	if err != nil {
		return nil, err
	}
	return FromHandle(rt, h), nil
}

// checkShape rejects non-positive dimensions and returns the element count.
func checkShape(op string, shape []int64) (int64, error) {
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return 0, &ShapeError{Op: op, Expected: "positive dimensions", Got: shape}
		}
		n *= d
	}
	return n, nil
}

// Handle returns the engine handle, or *UseAfterDisposeError once the
// tensor is disposed. The tensor keeps ownership.
func (t *Tensor) Handle() (native.Handle, error) {
	h := native.Handle(t.handle.Load())
	if h == native.Null {
		return native.Null, &UseAfterDisposeError{Kind: "tensor"}
	}
	return h, nil
}

// Runtime returns the runtime that owns the tensor.
func (t *Tensor) Runtime() *Runtime {
	return t.rt
}

// Disposed reports whether Dispose has been called.
func (t *Tensor) Disposed() bool {
	return t.handle.Load() == 0
}

// Dispose releases the engine handle. Calling it again is a no-op.
func (t *Tensor) Dispose() error {
	h := native.Handle(t.handle.Swap(0))
	if h == native.Null {
		return nil
	}
	t.cleanup.Stop()
	return t.rt.calls.Void(native.TensorDispose, native.H(h))
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() (int, error) {
	h, err := t.Handle()
	if err != nil {
		return 0, err
	}
	n, err := t.rt.calls.Int64(native.TensorNDimension, native.H(h))
	runtime.KeepAlive(t)
	return int(n), err
}

// Shape returns the size of every dimension.
func (t *Tensor) Shape() ([]int64, error) {
	h, err := t.Handle()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(t)

	rank, err := t.rt.calls.Int64(native.TensorNDimension, native.H(h))
	if err != nil {
		return nil, err
	}
	shape := make([]int64, rank)
	for i := range shape {
		shape[i], err = t.rt.calls.Int64(native.TensorSize, native.H(h), native.I64(int64(i)))
		if err != nil {
			return nil, err
		}
	}
	return shape, nil
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() (int64, error) {
	h, err := t.Handle()
	if err != nil {
		return 0, err
	}
	n, err := t.rt.calls.Int64(native.TensorNumel, native.H(h))
	runtime.KeepAlive(t)
	return n, err
}

// Float32s copies the tensor contents out in row-major order.
func (t *Tensor) Float32s() ([]float32, error) {
	n, err := t.NumElements()
	if err != nil {
		return nil, err
	}
	h, err := t.Handle()
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	if n == 0 {
		return out, nil
	}
	written, err := t.rt.calls.Int64(native.TensorCopyToFloat32,
		native.H(h), native.Float32s(out), native.I64(n))
	runtime.KeepAlive(t)
	runtime.KeepAlive(out)
	if err != nil {
		return nil, err
	}
	return out[:written], nil
}

// CopyFrom overwrites the tensor contents in place. len(data) must equal
// the element count. Storage shared with a module (parameters) sees the
// new values.
func (t *Tensor) CopyFrom(data []float32) error {
	n, err := t.NumElements()
	if err != nil {
		return err
	}
	if int64(len(data)) != n {
		shape, _ := t.Shape()
		return &ShapeError{
			Op:       "CopyFrom",
			Expected: fmt.Sprintf("%d values (data has %d)", n, len(data)),
			Got:      shape,
		}
	}
	h, err := t.Handle()
	if err != nil {
		return err
	}
	err = t.rt.calls.Void(native.TensorCopyFromFloat32,
		native.H(h), native.Float32s(data), native.I64(n))
	runtime.KeepAlive(t)
	runtime.KeepAlive(data)
	return err
}

// String returns a short description such as "Tensor[2 3]".
func (t *Tensor) String() string {
	shape, err := t.Shape()
	if err != nil {
		return "Tensor(disposed)"
	}
	return fmt.Sprintf("Tensor%v", shape)
}
