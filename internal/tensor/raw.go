// Package tensor provides reference-counted float32 storage for the
// in-process engine.
//
// A RawTensor is a view (shape) over a shared buffer. Clone shares the
// buffer and bumps its reference count; Release drops one reference. This
// mirrors how the engine hands out parameter handles: every handle shares
// storage with the module, so writing through one is visible through all.
package tensor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// tensorBuffer is a reference-counted shared buffer.
type tensorBuffer struct {
	data     []float32
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation
}

// newTensorBuffer creates a new reference-counted buffer with refCount = 1.
func newTensorBuffer(n int) *tensorBuffer {
	buf := &tensorBuffer{
		data: make([]float32, n),
	}
	buf.refCount.Store(1)
	return buf
}

// addRef increments the reference count (for Clone operations).
func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

// release decrements the reference count and deallocates if it reaches 0.
func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		tb.data = nil
	}
}

// RawTensor is a float32 tensor over a shared buffer.
type RawTensor struct {
	buffer *tensorBuffer // Shared reference-counted buffer
	shape  Shape         // Tensor dimensions
}

// NewRaw creates a zero-filled tensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		buffer: newTensorBuffer(shape.NumElements()),
		shape:  shape.Clone(),
	}, nil
}

// FromFloat32 creates a tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	raw, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	copy(raw.buffer.data, data)
	return raw, nil
}

// Full creates a tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	raw, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	for i := range raw.buffer.data {
		raw.buffer.data[i] = value
	}
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Data returns the underlying elements without copying.
// Writes are visible through every clone.
func (r *RawTensor) Data() []float32 {
	return r.buffer.data
}

// Clone returns a view sharing the buffer (increments the reference count).
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  r.shape.Clone(),
	}
}

// Release drops one reference to the buffer.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// RefCount returns the number of live references to the buffer.
func (r *RawTensor) RefCount() int {
	return int(r.buffer.refCount.Load())
}
