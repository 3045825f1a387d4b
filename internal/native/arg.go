package native

import (
	"math"
	"unsafe"
)

// Kind is the machine-level type of an argument or return value.
//
// Only primitive-width and pointer-sized values cross the boundary.
// Composite data (shapes, buffers, strings) is flattened into a Pointer
// plus a separate length argument.
type Kind uint8

// Argument and return kinds.
const (
	Void Kind = iota
	Int32
	Int64
	Float64
	Bool
	Pointer
)

// String returns the C spelling of the kind.
func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int32:
		return "int32_t"
	case Int64:
		return "int64_t"
	case Float64:
		return "double"
	case Bool:
		return "bool"
	case Pointer:
		return "void*"
	default:
		return "unknown"
	}
}

// Handle is an opaque reference to memory owned by the native engine.
// The zero value is the null sentinel.
type Handle uintptr

// Null is the null handle returned by failing entry points.
const Null Handle = 0

// Arg is one marshaled argument.
//
// Scalars and handles are stored as raw bits. Go memory passed by address
// (shape arrays, data buffers, out-parameters) is kept as unsafe.Pointer so
// the garbage collector sees the reference for the duration of the call.
type Arg struct {
	kind Kind
	bits uint64
	ptr  unsafe.Pointer
}

// I32 marshals an int32.
func I32(v int32) Arg {
	return Arg{kind: Int32, bits: uint64(uint32(v))}
}

// I64 marshals an int64.
func I64(v int64) Arg {
	return Arg{kind: Int64, bits: uint64(v)}
}

// F64 marshals a float64.
func F64(v float64) Arg {
	return Arg{kind: Float64, bits: math.Float64bits(v)}
}

// B marshals a bool as a single byte.
func B(v bool) Arg {
	if v {
		return Arg{kind: Bool, bits: 1}
	}
	return Arg{kind: Bool}
}

// H marshals a native handle.
func H(h Handle) Arg {
	return Arg{kind: Pointer, bits: uint64(h)}
}

// P marshals a pointer to Go memory.
func P(p unsafe.Pointer) Arg {
	return Arg{kind: Pointer, ptr: p}
}

// Int64s marshals the address of the first element, or null for an empty slice.
func Int64s(v []int64) Arg {
	if len(v) == 0 {
		return P(nil)
	}
	return P(unsafe.Pointer(&v[0]))
}

// Float32s marshals the address of the first element, or null for an empty slice.
func Float32s(v []float32) Arg {
	if len(v) == 0 {
		return P(nil)
	}
	return P(unsafe.Pointer(&v[0]))
}

// Bytes marshals the address of the first byte, or null for an empty slice.
func Bytes(v []byte) Arg {
	if len(v) == 0 {
		return P(nil)
	}
	return P(unsafe.Pointer(&v[0]))
}

// Out marshals the address of a handle the callee fills in.
func Out(h *Handle) Arg {
	return P(unsafe.Pointer(h))
}

// CString returns s as a NUL-terminated byte slice.
func CString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// Kind returns the argument kind.
func (a Arg) Kind() Kind { return a.kind }

// Int32 returns the argument as an int32.
func (a Arg) Int32() int32 { return int32(uint32(a.bits)) }

// Int64 returns the argument as an int64.
func (a Arg) Int64() int64 { return int64(a.bits) }

// Float64 returns the argument as a float64.
func (a Arg) Float64() float64 { return math.Float64frombits(a.bits) }

// Bool returns the argument as a bool.
func (a Arg) Bool() bool { return a.bits&0xff != 0 }

// Handle returns the argument as a native handle.
func (a Arg) Handle() Handle { return Handle(a.bits) }

// Pointer returns the Go pointer carried by the argument, nil for handles.
func (a Arg) Pointer() unsafe.Pointer { return a.ptr }

// IsNull reports whether a pointer argument carries neither Go memory nor a handle.
func (a Arg) IsNull() bool { return a.ptr == nil && a.bits == 0 }
