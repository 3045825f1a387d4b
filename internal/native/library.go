// Package native is the foreign call boundary.
//
// It owns three things:
//   - the symbol table: every entry point of the engine ABI with its C signature
//   - argument marshaling: primitive-width values and pointers only
//   - the Runtime: one call, then an immediate last-error query on the same
//     OS thread, converted into a structured error
//
// A Library is anything that can execute a Symbol. Open loads a shared
// library through goffi; the refnative package provides an in-process
// implementation of the same ABI.
package native

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlatform is returned by Open where dynamic loading is unavailable.
var ErrUnsupportedPlatform = errors.New("native: dynamic loading not supported on this platform")

// ErrClosed is returned when calling into a closed library.
var ErrClosed = errors.New("native: library closed")

// Library executes native entry points.
//
// Call returns the raw return register for sym. A non-nil error means the
// call machinery failed (unknown symbol, arity mismatch, closed library).
// Engine-level failures are not errors here: they surface as a null return
// and a message in the engine's last-error slot.
type Library interface {
	// Name identifies the library, e.g. its file path.
	Name() string

	// Call executes sym with args.
	Call(sym *Symbol, args []Arg) (uint64, error)

	// Close releases the library. Calls after Close fail with ErrClosed.
	Close() error
}

// CheckArgs verifies that args match the signature of sym.
func CheckArgs(sym *Symbol, args []Arg) error {
	if len(args) != len(sym.Args) {
		return fmt.Errorf("native: %s: expected %d arguments, got %d", sym.Name, len(sym.Args), len(args))
	}
	for i, a := range args {
		if a.kind != sym.Args[i] {
			return fmt.Errorf("native: %s: argument %d is %s, expected %s", sym.Name, i, a.kind, sym.Args[i])
		}
	}
	return nil
}
