package native

import (
	"fmt"
	"runtime"

	"github.com/born-ml/torchbind/internal/errs"
)

// initialNameBuffer is the first buffer size tried for string-returning calls.
const initialNameBuffer = 64

// Runtime executes symbols against a Library and converts the engine's
// error convention into structured errors.
//
// The engine keeps its last error in thread-local storage, so every call
// pins the goroutine to its OS thread until the error slot has been read.
// Runtime adds no other synchronization.
type Runtime struct {
	lib Library
}

// NewRuntime wraps lib.
func NewRuntime(lib Library) *Runtime {
	return &Runtime{lib: lib}
}

// Library returns the wrapped library.
func (r *Runtime) Library() Library {
	return r.lib
}

// Handle calls a handle-returning entry point.
// A null return becomes *errs.AllocationError carrying the engine message.
func (r *Runtime) Handle(sym *Symbol, args ...Arg) (Handle, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ret, err := r.lib.Call(sym, args)
	if err != nil {
		return Null, &errs.NativeError{Symbol: sym.Name, Err: err}
	}
	if ret == 0 {
		msg, _ := r.lastError()
		return Null, &errs.AllocationError{Symbol: sym.Name, Message: msg}
	}
	// Engines may leave warnings behind on success; drop them.
	_, _ = r.lastError()
	return Handle(ret), nil
}

// Int64 calls an int64-returning entry point and checks the error slot.
func (r *Runtime) Int64(sym *Symbol, args ...Arg) (int64, error) {
	ret, err := r.checked(sym, args)
	return int64(ret), err
}

// Bool calls a bool-returning entry point and checks the error slot.
func (r *Runtime) Bool(sym *Symbol, args ...Arg) (bool, error) {
	ret, err := r.checked(sym, args)
	return ret&0xff != 0, err
}

// Void calls an entry point without a result and checks the error slot.
func (r *Runtime) Void(sym *Symbol, args ...Arg) error {
	_, err := r.checked(sym, args)
	return err
}

// String calls an entry point of the form
//
//	int64_t fn(args..., char* buf, int64_t cap)
//
// which copies at most cap-1 bytes plus a NUL and returns the full length.
// The call is repeated with a larger buffer when the first one was short.
func (r *Runtime) String(sym *Symbol, args ...Arg) (string, error) {
	size := initialNameBuffer
	for {
		buf := make([]byte, size)
		full := append(append(make([]Arg, 0, len(args)+2), args...), Bytes(buf), I64(int64(size)))
		n, err := r.Int64(sym, full...)
		runtime.KeepAlive(buf)
		if err != nil {
			return "", err
		}
		if n < 0 {
			return "", &errs.NativeError{Symbol: sym.Name, Message: fmt.Sprintf("invalid string length %d", n)}
		}
		if n < int64(size) {
			return string(buf[:n]), nil
		}
		size = int(n) + 1
	}
}

func (r *Runtime) checked(sym *Symbol, args []Arg) (uint64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ret, err := r.lib.Call(sym, args)
	if err != nil {
		return 0, &errs.NativeError{Symbol: sym.Name, Err: err}
	}
	msg, err := r.lastError()
	if err != nil {
		return 0, err
	}
	if msg != "" {
		return 0, &errs.NativeError{Symbol: sym.Name, Message: msg}
	}
	return ret, nil
}

// lastError reads and clears the engine's error slot.
// The caller must hold the OS thread lock.
func (r *Runtime) lastError() (string, error) {
	n, err := r.lib.Call(LastErrLength, nil)
	if err != nil {
		return "", &errs.NativeError{Symbol: LastErrLength.Name, Err: err}
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, int(n)+1)
	written, err := r.lib.Call(GetAndResetLastErr, []Arg{Bytes(buf), I64(int64(len(buf)))})
	runtime.KeepAlive(buf)
	if err != nil {
		return "", &errs.NativeError{Symbol: GetAndResetLastErr.Name, Err: err}
	}
	if written > n {
		written = n
	}
	return string(buf[:written]), nil
}
