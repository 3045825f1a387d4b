package refnative

import (
	"fmt"
	"sync"

	"github.com/born-ml/torchbind/internal/native"
)

// handleBase is the first handle value issued. Low values are never issued
// so that small integers passed by mistake are rejected.
const handleBase = 0x10000

// handleStride keeps handles aligned like real heap pointers.
const handleStride = 0x10

// registry maps issued handles to engine objects.
type registry struct {
	mu      sync.Mutex
	next    uintptr
	objects map[native.Handle]any
}

func newRegistry() *registry {
	return &registry{
		next:    handleBase,
		objects: make(map[native.Handle]any),
	}
}

// issue stores obj and returns a fresh handle for it.
func (r *registry) issue(obj any) native.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := native.Handle(r.next)
	r.next += handleStride
	r.objects[h] = obj
	return h
}

// takeAs removes h if it refers to a T and returns the object.
// Handles of another kind are left in place.
func takeAs[T any](r *registry, h native.Handle, kind string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	obj, ok := r.objects[h]
	if !ok {
		return zero, fmt.Errorf("invalid %s handle %#x", kind, uintptr(h))
	}
	v, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("handle %#x is not a %s", uintptr(h), kind)
	}
	delete(r.objects, h)
	return v, nil
}

func (r *registry) get(h native.Handle) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[h]
	return obj, ok
}

// live returns the number of outstanding handles.
func (r *registry) live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

func (r *registry) tensor(h native.Handle) (*tensorObj, error) {
	obj, ok := r.get(h)
	if !ok {
		return nil, fmt.Errorf("invalid tensor handle %#x", uintptr(h))
	}
	t, ok := obj.(*tensorObj)
	if !ok {
		return nil, fmt.Errorf("handle %#x is not a tensor", uintptr(h))
	}
	return t, nil
}

func (r *registry) module(h native.Handle) (*moduleObj, error) {
	obj, ok := r.get(h)
	if !ok {
		return nil, fmt.Errorf("invalid module handle %#x", uintptr(h))
	}
	m, ok := obj.(*moduleObj)
	if !ok {
		return nil, fmt.Errorf("handle %#x is not a module", uintptr(h))
	}
	return m, nil
}

func (r *registry) boxed(h native.Handle) (*boxedObj, error) {
	obj, ok := r.get(h)
	if !ok {
		return nil, fmt.Errorf("invalid AnyModule handle %#x", uintptr(h))
	}
	b, ok := obj.(*boxedObj)
	if !ok {
		return nil, fmt.Errorf("handle %#x is not an AnyModule", uintptr(h))
	}
	return b, nil
}
