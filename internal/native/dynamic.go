//go:build (!cgo && (linux || freebsd || darwin) && (amd64 || arm64)) || (windows && amd64)

package native

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-webgpu/goffi/ffi"
	"github.com/go-webgpu/goffi/types"
)

// dynamicLibrary calls into a shared library loaded with goffi.
type dynamicLibrary struct {
	path   string
	handle unsafe.Pointer
	closed atomic.Bool
	fns    sync.Map // symbol name -> unsafe.Pointer
}

// Open loads the shared library at path and resolves the error-slot entry
// points eagerly, so a library that is not an engine build fails here
// rather than on the first failing call.
func Open(path string) (Library, error) {
	h, err := ffi.LoadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("native: open %s: %w", path, err)
	}
	lib := &dynamicLibrary{path: path, handle: h}
	for _, sym := range []*Symbol{LastErrLength, GetAndResetLastErr} {
		if _, err := lib.resolve(sym); err != nil {
			_ = ffi.FreeLibrary(h)
			return nil, err
		}
	}
	return lib, nil
}

func (l *dynamicLibrary) Name() string {
	return l.path
}

func (l *dynamicLibrary) resolve(sym *Symbol) (unsafe.Pointer, error) {
	if fn, ok := l.fns.Load(sym.Name); ok {
		return fn.(unsafe.Pointer), nil
	}
	fn, err := ffi.GetSymbol(l.handle, sym.Name)
	if err != nil {
		return nil, fmt.Errorf("native: resolve %s: %w", sym.Name, err)
	}
	l.fns.Store(sym.Name, fn)
	return fn, nil
}

// Call prepares a fresh call interface per invocation: goffi call
// interfaces must not be shared between goroutines.
func (l *dynamicLibrary) Call(sym *Symbol, args []Arg) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := CheckArgs(sym, args); err != nil {
		return 0, err
	}
	fn, err := l.resolve(sym)
	if err != nil {
		return 0, err
	}

	argTypes := make([]*types.TypeDescriptor, len(sym.Args))
	for i, k := range sym.Args {
		argTypes[i] = descriptor(k)
	}
	var cif types.CallInterface
	if err := ffi.PrepareCallInterface(&cif, types.DefaultCall, descriptor(sym.Ret), argTypes); err != nil {
		return 0, fmt.Errorf("native: prepare %s: %w", sym.Name, err)
	}

	// Scalars and handles live in words; Go pointers live in ptrs so the
	// collector keeps their targets alive. avalue points into one or the other.
	words := make([]uint64, len(args))
	ptrs := make([]unsafe.Pointer, len(args))
	avalue := make([]unsafe.Pointer, len(args))
	for i, a := range args {
		if a.kind == Pointer && a.ptr != nil {
			ptrs[i] = a.ptr
			avalue[i] = unsafe.Pointer(&ptrs[i])
			continue
		}
		words[i] = a.bits
		avalue[i] = unsafe.Pointer(&words[i])
	}

	var ret uint64
	var rvalue unsafe.Pointer
	if sym.Ret != Void {
		rvalue = unsafe.Pointer(&ret)
	}
	if err := ffi.CallFunction(&cif, fn, rvalue, avalue); err != nil {
		return 0, fmt.Errorf("native: call %s: %w", sym.Name, err)
	}
	switch sym.Ret {
	case Bool:
		ret &= 0xff
	case Int32:
		ret = uint64(int64(int32(uint32(ret))))
	}
	return ret, nil
}

func (l *dynamicLibrary) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return ffi.FreeLibrary(l.handle)
}

func descriptor(k Kind) *types.TypeDescriptor {
	switch k {
	case Int32:
		return types.SInt32TypeDescriptor
	case Int64:
		return types.SInt64TypeDescriptor
	case Float64:
		return types.DoubleTypeDescriptor
	case Bool:
		return types.UInt8TypeDescriptor
	case Pointer:
		return types.PointerTypeDescriptor
	default:
		return types.VoidTypeDescriptor
	}
}
