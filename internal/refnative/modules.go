package refnative

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/internal/tensor"
)

// forwardFunc computes a module's output for x. The result is a new tensor.
type forwardFunc func(e *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error)

// param is a named tensor owned by a module.
type param struct {
	name string
	raw  *tensor.RawTensor
}

type child struct {
	name string
	mod  *moduleObj
}

// moduleObj is the object behind module and AnyModule handles.
//
// Every handle referring to the module, and every container holding it,
// owns one reference. Storage is released when the last one goes.
type moduleObj struct {
	op       string
	ranks    []int // accepted input ranks, nil for any
	params   []param
	buffers  []param
	forward  forwardFunc
	training atomic.Bool
	refs     atomic.Int32

	mu       sync.Mutex // guards children and buffer updates
	children []child

	// Layer configuration read by the forward function.
	cfg layerConfig
}

// boxedObj is the polymorphic holder used to insert modules into containers.
type boxedObj struct {
	mod *moduleObj
}

func newModule(op string, ranks []int, fwd forwardFunc) *moduleObj {
	m := &moduleObj{op: op, ranks: ranks, forward: fwd}
	m.training.Store(true)
	return m
}

func (m *moduleObj) addParam(name string, raw *tensor.RawTensor) {
	m.params = append(m.params, param{name: name, raw: raw})
}

func (m *moduleObj) addBuffer(name string, raw *tensor.RawTensor) {
	m.buffers = append(m.buffers, param{name: name, raw: raw})
}

func (m *moduleObj) param(name string) *tensor.RawTensor {
	for _, p := range m.params {
		if p.name == name {
			return p.raw
		}
	}
	return nil
}

func (m *moduleObj) buffer(name string) *tensor.RawTensor {
	for _, b := range m.buffers {
		if b.name == name {
			return b.raw
		}
	}
	return nil
}

func (m *moduleObj) retain() {
	m.refs.Add(1)
}

func (m *moduleObj) release() {
	if m.refs.Add(-1) != 0 {
		return
	}
	for _, p := range m.params {
		p.raw.Release()
	}
	for _, b := range m.buffers {
		b.raw.Release()
	}
	m.mu.Lock()
	children := m.children
	m.children = nil
	m.mu.Unlock()
	for _, c := range children {
		c.mod.release()
	}
}

// namedParams returns learnable parameters in declaration order, recursing
// into children with dotted prefixes.
func (m *moduleObj) namedParams() []param {
	out := append([]param(nil), m.params...)
	m.mu.Lock()
	children := append([]child(nil), m.children...)
	m.mu.Unlock()
	for _, c := range children {
		for _, p := range c.mod.namedParams() {
			out = append(out, param{name: c.name + "." + p.name, raw: p.raw})
		}
	}
	return out
}

func (m *moduleObj) setTraining(on bool) {
	m.training.Store(on)
	m.mu.Lock()
	children := append([]child(nil), m.children...)
	m.mu.Unlock()
	for _, c := range children {
		c.mod.setTraining(on)
	}
}

// contains reports whether target is m or one of its descendants.
func (m *moduleObj) contains(target *moduleObj) bool {
	if m == target {
		return true
	}
	m.mu.Lock()
	children := append([]child(nil), m.children...)
	m.mu.Unlock()
	for _, c := range children {
		if c.mod.contains(target) {
			return true
		}
	}
	return false
}

func (m *moduleObj) checkRank(shape tensor.Shape) error {
	if m.ranks == nil {
		return nil
	}
	for _, r := range m.ranks {
		if len(shape) == r {
			return nil
		}
	}
	want := make([]string, len(m.ranks))
	for i, r := range m.ranks {
		want[i] = strconv.Itoa(r) + "D"
	}
	return fmt.Errorf("%s: expected %s input (got %dD input)", m.op, strings.Join(want, " or "), len(shape))
}

// ctor wraps a layer builder into a constructor entry point. The trailing
// argument is an optional out-pointer receiving an AnyModule handle.
func (e *Engine) ctor(op string, build builder) handler {
	return func(args []native.Arg) (uint64, error) {
		m, err := build(e, args[:len(args)-1])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		m.refs.Store(1)
		h := e.objects.issue(m)
		if out := args[len(args)-1].Pointer(); out != nil {
			m.retain()
			*(*native.Handle)(out) = e.objects.issue(&boxedObj{mod: m})
		}
		return uint64(h), nil
	}
}

func (e *Engine) forward(args []native.Arg) (uint64, error) {
	m, err := e.objects.module(args[0].Handle())
	if err != nil {
		return 0, err
	}
	x, err := e.objects.tensor(args[1].Handle())
	if err != nil {
		return 0, err
	}
	if err := m.checkRank(x.raw.Shape()); err != nil {
		return 0, err
	}
	out, err := m.forward(e, m, x.raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", m.op, err)
	}
	return uint64(e.newTensor(out)), nil
}

func (e *Engine) moduleDispose(args []native.Arg) (uint64, error) {
	m, err := takeAs[*moduleObj](e.objects, args[0].Handle(), "module")
	if err != nil {
		return 0, err
	}
	m.release()
	return 0, nil
}

func (e *Engine) anyModuleDispose(args []native.Arg) (uint64, error) {
	b, err := takeAs[*boxedObj](e.objects, args[0].Handle(), "AnyModule")
	if err != nil {
		return 0, err
	}
	b.mod.release()
	return 0, nil
}

func (e *Engine) moduleNumParameters(args []native.Arg) (uint64, error) {
	m, err := e.objects.module(args[0].Handle())
	if err != nil {
		return 0, err
	}
	return uint64(len(m.namedParams())), nil
}

func (e *Engine) paramAt(h native.Handle, idx int64) (param, error) {
	m, err := e.objects.module(h)
	if err != nil {
		return param{}, err
	}
	params := m.namedParams()
	if idx < 0 || idx >= int64(len(params)) {
		return param{}, fmt.Errorf("parameter index %d out of range (%d parameters)", idx, len(params))
	}
	return params[idx], nil
}

func (e *Engine) moduleParameterName(args []native.Arg) (uint64, error) {
	p, err := e.paramAt(args[0].Handle(), args[1].Int64())
	if err != nil {
		return 0, err
	}
	writeCString(args[2], args[3].Int64(), p.name)
	return uint64(len(p.name)), nil
}

func (e *Engine) moduleGetParameter(args []native.Arg) (uint64, error) {
	p, err := e.paramAt(args[0].Handle(), args[1].Int64())
	if err != nil {
		return 0, err
	}
	return uint64(e.newTensor(p.raw.Clone())), nil
}

func (e *Engine) moduleTrain(args []native.Arg) (uint64, error) {
	m, err := e.objects.module(args[0].Handle())
	if err != nil {
		return 0, err
	}
	m.setTraining(args[1].Bool())
	return 0, nil
}

func (e *Engine) moduleIsTraining(args []native.Arg) (uint64, error) {
	m, err := e.objects.module(args[0].Handle())
	if err != nil {
		return 0, err
	}
	if m.training.Load() {
		return 1, nil
	}
	return 0, nil
}

func (e *Engine) sequentialPushBack(args []native.Arg) (uint64, error) {
	seq, err := e.objects.module(args[0].Handle())
	if err != nil {
		return 0, err
	}
	if seq.op != "Sequential" {
		return 0, fmt.Errorf("push_back on %s, expected Sequential", seq.op)
	}
	b, err := e.objects.boxed(args[2].Handle())
	if err != nil {
		return 0, err
	}
	if b.mod == seq {
		return 0, errors.New("cannot add a Sequential to itself")
	}
	if b.mod.contains(seq) {
		return 0, fmt.Errorf("adding %s would create a cycle", b.mod.op)
	}
	name := readCString(args[1].Pointer())

	seq.mu.Lock()
	if name == "" {
		name = strconv.Itoa(len(seq.children))
	}
	if strings.Contains(name, ".") {
		seq.mu.Unlock()
		return 0, fmt.Errorf("module name %q must not contain \".\"", name)
	}
	for _, c := range seq.children {
		if c.name == name {
			seq.mu.Unlock()
			return 0, fmt.Errorf("module %q already exists", name)
		}
	}
	b.mod.retain()
	seq.children = append(seq.children, child{name: name, mod: b.mod})
	seq.mu.Unlock()

	b.mod.setTraining(seq.training.Load())
	return 0, nil
}

func forwardSequential(e *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	m.mu.Lock()
	children := append([]child(nil), m.children...)
	m.mu.Unlock()

	out, err := tensor.FromFloat32(x.Data(), x.Shape())
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if err := c.mod.checkRank(out.Shape()); err != nil {
			out.Release()
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		next, err := c.mod.forward(e, c.mod, out)
		out.Release()
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", c.name, c.mod.op, err)
		}
		out = next
	}
	return out, nil
}
