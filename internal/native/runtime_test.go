package native

import (
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/born-ml/torchbind/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLibrary is a scripted Library with a single error slot.
type fakeLibrary struct {
	fns     map[string]func(args []Arg) uint64
	lastErr string
	calls   []string
}

func newFakeLibrary() *fakeLibrary {
	f := &fakeLibrary{fns: make(map[string]func([]Arg) uint64)}
	f.fns[LastErrLength.Name] = func([]Arg) uint64 { return uint64(len(f.lastErr)) }
	f.fns[GetAndResetLastErr.Name] = func(args []Arg) uint64 {
		buf := unsafe.Slice((*byte)(args[0].Pointer()), args[1].Int64())
		n := copy(buf[:len(buf)-1], f.lastErr)
		buf[n] = 0
		f.lastErr = ""
		return uint64(n)
	}
	return f
}

func (f *fakeLibrary) Name() string { return "fake" }

func (f *fakeLibrary) Call(sym *Symbol, args []Arg) (uint64, error) {
	if err := CheckArgs(sym, args); err != nil {
		return 0, err
	}
	f.calls = append(f.calls, sym.Name)
	fn, ok := f.fns[sym.Name]
	if !ok {
		return 0, errors.New("not scripted: " + sym.Name)
	}
	return fn(args), nil
}

func (f *fakeLibrary) Close() error { return nil }

func TestRuntimeHandleSuccess(t *testing.T) {
	lib := newFakeLibrary()
	lib.fns[TensorZeros.Name] = func([]Arg) uint64 { return 0x1000 }

	rt := NewRuntime(lib)
	h, err := rt.Handle(TensorZeros, Int64s([]int64{2}), I32(1))
	require.NoError(t, err)
	assert.Equal(t, Handle(0x1000), h)
}

func TestRuntimeHandleNullBecomesAllocationError(t *testing.T) {
	lib := newFakeLibrary()
	lib.fns[TensorZeros.Name] = func([]Arg) uint64 {
		lib.lastErr = "shape overflow"
		return 0
	}

	rt := NewRuntime(lib)
	h, err := rt.Handle(TensorZeros, Int64s([]int64{2}), I32(1))
	assert.Equal(t, Null, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrAllocation))

	var ae *errs.AllocationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, TensorZeros.Name, ae.Symbol)
	assert.Equal(t, "shape overflow", ae.Message)
	assert.Empty(t, lib.lastErr, "error slot should be cleared")
}

func TestRuntimeHandleClearsStaleSlot(t *testing.T) {
	lib := newFakeLibrary()
	lib.fns[TensorZeros.Name] = func([]Arg) uint64 {
		lib.lastErr = "warning"
		return 0x2000
	}

	rt := NewRuntime(lib)
	_, err := rt.Handle(TensorZeros, Int64s([]int64{2}), I32(1))
	require.NoError(t, err)
	assert.Empty(t, lib.lastErr)
}

func TestRuntimeVoidReportsNativeError(t *testing.T) {
	lib := newFakeLibrary()
	lib.fns[ModuleTrain.Name] = func([]Arg) uint64 {
		lib.lastErr = "invalid module"
		return 0
	}

	rt := NewRuntime(lib)
	err := rt.Void(ModuleTrain, H(0x10), B(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNative))
	assert.Contains(t, err.Error(), "invalid module")
}

func TestRuntimeCallMachineryFailure(t *testing.T) {
	rt := NewRuntime(newFakeLibrary())

	_, err := rt.Int64(TensorNumel, H(0x10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNative))

	// Arity mismatch is caught before the call.
	_, err = rt.Int64(TensorNumel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 arguments")
}

func TestRuntimeBool(t *testing.T) {
	lib := newFakeLibrary()
	lib.fns[ModuleIsTraining.Name] = func([]Arg) uint64 { return 0x101 }

	ok, err := NewRuntime(lib).Bool(ModuleIsTraining, H(0x10))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRuntimeStringGrowsBuffer(t *testing.T) {
	long := strings.Repeat("w", 150)
	lib := newFakeLibrary()
	lib.fns[ModuleParameterName.Name] = func(args []Arg) uint64 {
		buf := unsafe.Slice((*byte)(args[2].Pointer()), args[3].Int64())
		n := copy(buf[:len(buf)-1], long)
		buf[n] = 0
		return uint64(len(long))
	}

	name, err := NewRuntime(lib).String(ModuleParameterName, H(0x10), I64(0))
	require.NoError(t, err)
	assert.Equal(t, long, name)

	attempts := 0
	for _, c := range lib.calls {
		if c == ModuleParameterName.Name {
			attempts++
		}
	}
	assert.Equal(t, 2, attempts)
}

func TestRuntimeStringNegativeLength(t *testing.T) {
	lib := newFakeLibrary()
	lib.fns[ModuleParameterName.Name] = func([]Arg) uint64 {
		n := int64(-5)
		return uint64(n)
	}

	_, err := NewRuntime(lib).String(ModuleParameterName, H(0x10), I64(0))
	var nativeErr *errs.NativeError
	require.ErrorAs(t, err, &nativeErr)
	assert.Equal(t, ModuleParameterName.Name, nativeErr.Symbol)
	assert.Contains(t, nativeErr.Message, "-5")
}

func TestSymbolTable(t *testing.T) {
	for _, l := range Layers {
		ctor := Ctor(l.Op)
		assert.Equal(t, Pointer, ctor.Ret, l.Op)
		assert.Equal(t, Pointer, ctor.Args[len(ctor.Args)-1], "%s ctor must end with the boxed out-parameter", l.Op)

		fwd := Forward(l.Op)
		assert.Equal(t, []Kind{Pointer, Pointer}, fwd.Args, l.Op)
	}

	s, ok := Lookup("THSNN_Linear_ctor")
	require.True(t, ok)
	assert.Equal(t, "void* THSNN_Linear_ctor(int64_t, int64_t, bool, void*)", s.String())

	assert.Panics(t, func() { Ctor("Transformer") })

	all := Symbols()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
}

func TestArgMarshaling(t *testing.T) {
	assert.Equal(t, int32(-3), I32(-3).Int32())
	assert.Equal(t, int64(-1<<40), I64(-1<<40).Int64())
	assert.Equal(t, 1e-5, F64(1e-5).Float64())
	assert.True(t, B(true).Bool())
	assert.False(t, B(false).Bool())
	assert.True(t, H(Null).IsNull())
	assert.True(t, Int64s(nil).IsNull())
	assert.False(t, Int64s([]int64{1}).IsNull())
	assert.Equal(t, []byte("ab\x00"), CString("ab"))
}
