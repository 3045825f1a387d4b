// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn_test

import (
	"math"
	"sync"
	"testing"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/internal/refnative"
	"github.com/born-ml/torchbind/nn"
	"github.com/born-ml/torchbind/torch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLibrary records how often each entry point is called.
type countingLibrary struct {
	*refnative.Engine

	mu    sync.Mutex
	calls map[string]int
}

func (c *countingLibrary) Call(sym *native.Symbol, args []native.Arg) (uint64, error) {
	c.mu.Lock()
	c.calls[sym.Name]++
	c.mu.Unlock()
	return c.Engine.Call(sym, args)
}

func (c *countingLibrary) count(sym *native.Symbol) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[sym.Name]
}

func newRuntime(t *testing.T, opts ...torch.Option) (*torch.Runtime, *countingLibrary) {
	t.Helper()
	lib := &countingLibrary{Engine: refnative.New(), calls: make(map[string]int)}
	rt, err := torch.Open(append([]torch.Option{torch.WithLibraryInstance(lib)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, lib
}

func dispose(t *testing.T, d interface{ Dispose() error }) {
	t.Helper()
	require.NoError(t, d.Dispose())
}

func randn(t *testing.T, rt *torch.Runtime, shape ...int64) *torch.Tensor {
	t.Helper()
	x, err := torch.Randn(rt, shape...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Dispose() })
	return x
}

func shapeOf(t *testing.T, x *torch.Tensor) []int64 {
	t.Helper()
	shape, err := x.Shape()
	require.NoError(t, err)
	return shape
}

func dataOf(t *testing.T, x *torch.Tensor) []float32 {
	t.Helper()
	data, err := x.Float32s()
	require.NoError(t, err)
	return data
}

// snapshot returns the bit patterns of every parameter, by name.
func snapshot(t *testing.T, m *nn.Module) map[string][]uint32 {
	t.Helper()
	set, err := m.NamedParameters()
	require.NoError(t, err)
	defer set.Dispose()

	out := make(map[string][]uint32, set.Len())
	for name, p := range set.All() {
		data, err := p.Data()
		require.NoError(t, err)
		bits := make([]uint32, len(data))
		for i, v := range data {
			bits[i] = math.Float32bits(v)
		}
		out[name] = bits
	}
	return out
}

func parameterNames(t *testing.T, m *nn.Module) []string {
	t.Helper()
	set, err := m.NamedParameters()
	require.NoError(t, err)
	defer set.Dispose()
	return set.Names()
}

func assertSameParameters(t *testing.T, want, got map[string][]uint32) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for name, bits := range want {
		assert.Equal(t, bits, got[name], "parameter %s", name)
	}
}
