// Package refnative is an in-process implementation of the native engine ABI.
//
// It serves every symbol registered in package native with float32 CPU
// kernels, so the binding layers can run without a shared library. It follows
// the engine conventions the bindings depend on:
//   - objects are addressed by opaque handles; zero is never issued
//   - failures return a null handle (or zero) and leave a message in a
//     per-thread last-error slot
//   - parameter handles share storage with the module that owns them
package refnative

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/internal/parallel"
)

// Name is the library name reported by the reference engine.
const Name = "refnative"

// EngineVersion is the version string returned by THSTorch_version.
const EngineVersion = "refnative 1.0.0 (float32, cpu)"

// defaultSeed seeds the generator until ManualSeed is called.
const defaultSeed = 0x5eed

// handler implements one entry point. A non-nil error is stored in the
// caller's error slot and the call returns zero.
type handler func(args []native.Arg) (uint64, error)

// Engine is the reference engine. It implements native.Library.
type Engine struct {
	objects *registry
	errors  *errorSlots
	fns     map[string]handler
	closed  atomic.Bool

	rngMu sync.Mutex
	rng   *rand.Rand

	par parallel.Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism sets how kernels split their work. Outputs are identical
// for every configuration.
func WithParallelism(cfg parallel.Config) Option {
	return func(e *Engine) { e.par = cfg }
}

// New returns a fresh engine with its own handle space and generator.
// Kernels use parallel.Default unless configured otherwise.
func New(opts ...Option) *Engine {
	e := &Engine{
		objects: newRegistry(),
		errors:  newErrorSlots(),
		fns:     make(map[string]handler),
		rng:     newRand(defaultSeed),
		par:     parallel.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.register()
	return e
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Name implements native.Library.
func (e *Engine) Name() string {
	return Name
}

// Call implements native.Library.
func (e *Engine) Call(sym *native.Symbol, args []native.Arg) (uint64, error) {
	if e.closed.Load() {
		return 0, native.ErrClosed
	}
	if err := native.CheckArgs(sym, args); err != nil {
		return 0, err
	}
	fn, ok := e.fns[sym.Name]
	if !ok {
		return 0, fmt.Errorf("refnative: symbol %s not implemented", sym.Name)
	}
	ret, err := fn(args)
	if err != nil {
		e.errors.set(err.Error())
		return 0, nil
	}
	return ret, nil
}

// Close implements native.Library.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// LiveHandles returns the number of handles not yet disposed.
func (e *Engine) LiveHandles() int {
	return e.objects.live()
}

func (e *Engine) register() {
	e.fns[native.LastErrLength.Name] = e.lastErrLength
	e.fns[native.GetAndResetLastErr.Name] = e.getAndResetLastErr
	e.fns[native.ManualSeed.Name] = e.manualSeed
	e.fns[native.Version.Name] = e.version

	e.fns[native.TensorNewFloat32.Name] = e.tensorNewFloat32
	e.fns[native.TensorZeros.Name] = e.tensorZeros
	e.fns[native.TensorRandn.Name] = e.tensorRandn
	e.fns[native.TensorNDimension.Name] = e.tensorNDimension
	e.fns[native.TensorSize.Name] = e.tensorSize
	e.fns[native.TensorNumel.Name] = e.tensorNumel
	e.fns[native.TensorCopyToFloat32.Name] = e.tensorCopyTo
	e.fns[native.TensorCopyFromFloat32.Name] = e.tensorCopyFrom
	e.fns[native.TensorDispose.Name] = e.tensorDispose

	e.fns[native.ModuleDispose.Name] = e.moduleDispose
	e.fns[native.AnyModuleDispose.Name] = e.anyModuleDispose
	e.fns[native.ModuleNumParameters.Name] = e.moduleNumParameters
	e.fns[native.ModuleParameterName.Name] = e.moduleParameterName
	e.fns[native.ModuleGetParameter.Name] = e.moduleGetParameter
	e.fns[native.ModuleTrain.Name] = e.moduleTrain
	e.fns[native.ModuleIsTraining.Name] = e.moduleIsTraining
	e.fns[native.SequentialPushBack.Name] = e.sequentialPushBack

	for _, l := range native.Layers {
		build, ok := builders[l.Op]
		if !ok {
			panic("refnative: no builder for " + l.Op)
		}
		e.fns[native.Ctor(l.Op).Name] = e.ctor(l.Op, build)
		e.fns[native.Forward(l.Op).Name] = e.forward
	}
}

func (e *Engine) lastErrLength([]native.Arg) (uint64, error) {
	return uint64(len(e.errors.peek())), nil
}

func (e *Engine) getAndResetLastErr(args []native.Arg) (uint64, error) {
	msg := e.errors.reset()
	return uint64(writeCString(args[0], args[1].Int64(), msg)), nil
}

func (e *Engine) manualSeed(args []native.Arg) (uint64, error) {
	e.rngMu.Lock()
	e.rng = newRand(uint64(args[0].Int64()))
	e.rngMu.Unlock()
	return 0, nil
}

func (e *Engine) version(args []native.Arg) (uint64, error) {
	writeCString(args[0], args[1].Int64(), EngineVersion)
	return uint64(len(EngineVersion)), nil
}

// uniform fills dst with values drawn from U(-bound, bound).
func (e *Engine) uniform(dst []float32, bound float64) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	for i := range dst {
		dst[i] = float32((e.rng.Float64()*2 - 1) * bound)
	}
}

// normal fills dst with standard normal samples.
func (e *Engine) normal(dst []float32) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	for i := range dst {
		dst[i] = float32(e.rng.NormFloat64())
	}
}

// writeCString copies at most capacity-1 bytes of s plus a NUL into the
// buffer carried by buf and returns the number of bytes copied.
func writeCString(buf native.Arg, capacity int64, s string) int {
	if buf.Pointer() == nil || capacity <= 0 {
		return 0
	}
	dst := unsafe.Slice((*byte)(buf.Pointer()), capacity)
	n := copy(dst[:capacity-1], s)
	dst[n] = 0
	return n
}

// readCString reads a NUL-terminated string from Go memory.
func readCString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// int64s views a pointer/length pair as a slice.
func int64s(p native.Arg, n int) []int64 {
	if p.Pointer() == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*int64)(p.Pointer()), n)
}

// float32s views a pointer/length pair as a slice.
func float32s(p native.Arg, n int) []float32 {
	if p.Pointer() == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*float32)(p.Pointer()), n)
}
