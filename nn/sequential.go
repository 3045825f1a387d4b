// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/torch"
)

// NamedModule pairs a child module with its name inside a container.
type NamedModule struct {
	Name   string
	Module *Module
}

// Named is shorthand for NamedModule{Name: name, Module: m}.
func Named(name string, m *Module) NamedModule {
	return NamedModule{Name: name, Module: m}
}

// Sequential is a container that chains modules: each module's output
// becomes the next module's input.
//
// Child parameters appear under the child's name ("lin1.weight"), so two
// containers built with the same names and layer shapes can exchange
// saved parameters.
//
// Example:
//
//	seq, err := nn.NewSequential(rt,
//	    nn.Named("lin1", lin1),
//	    nn.Named("relu", relu),
//	    nn.Named("lin2", lin2),
//	)
//
// The engine keeps its own reference to every child, so children and the
// container may be disposed in any order. Disposing the container does
// not dispose the children.
type Sequential struct {
	*Module
	children []NamedModule
}

// NewSequential creates a container holding children in order.
// An empty name is replaced by the child's index.
func NewSequential(rt *torch.Runtime, children ...NamedModule) (*Sequential, error) {
	m, err := construct(rt, "Sequential", 0, nil)
	if err != nil {
		return nil, err
	}
	s := &Sequential{Module: m}
	for _, c := range children {
		if err := s.Add(c.Name, c.Module); err != nil {
			_ = s.Dispose()
			return nil, err
		}
	}
	return s, nil
}

// Add appends child under name. Names must be unique and must not
// contain ".".
//
// This allows building models incrementally:
//
//	seq, _ := nn.NewSequential(rt)
//	seq.Add("lin1", lin1)
//	seq.Add("lin2", lin2)
func (s *Sequential) Add(name string, child *Module) error {
	h, err := s.Handle()
	if err != nil {
		return err
	}
	boxed, err := child.boxedHandle()
	if err != nil {
		return err
	}
	if boxed == native.Null {
		return fmt.Errorf("nn: %s cannot be added to a container: no boxed handle", child.Op())
	}
	if name == "" {
		name = strconv.Itoa(len(s.children))
	}

	cname := native.CString(name)
	err = s.rt.Native().Void(native.SequentialPushBack, native.H(h), native.Bytes(cname), native.H(boxed))
	runtime.KeepAlive(cname)
	runtime.KeepAlive(child)
	if err != nil {
		return err
	}
	s.children = append(s.children, NamedModule{Name: name, Module: child})
	return nil
}

// Len returns the number of children.
func (s *Sequential) Len() int {
	return len(s.children)
}

// Children returns the children in order.
func (s *Sequential) Children() []NamedModule {
	return append([]NamedModule(nil), s.children...)
}

// String formats the container and its children.
func (s *Sequential) String() string {
	out := "Sequential("
	for i, c := range s.children {
		if i > 0 {
			out += ", "
		}
		out += c.Name + ": " + c.Module.String()
	}
	return out + ")"
}
