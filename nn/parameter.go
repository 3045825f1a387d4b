// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"errors"
	"iter"

	"github.com/born-ml/torchbind/torch"
)

// Parameter is a named learnable tensor of a module.
//
// Its tensor shares engine storage with the module: Set changes the
// module's weights in place. Disposing the parameter releases only the
// parameter's own handle.
//
// Example:
//
//	params, err := linear.NamedParameters()
//	if err != nil { ... }
//	defer params.Dispose()
//
//	w, _ := params.Get("weight")
//	data, err := w.Data()
type Parameter struct {
	name   string
	tensor *torch.Tensor
}

// Name returns the parameter name (e.g., "weight", "lin1.bias").
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *torch.Tensor {
	return p.tensor
}

// Shape returns the parameter dimensions.
func (p *Parameter) Shape() ([]int64, error) {
	return p.tensor.Shape()
}

// Data copies the parameter values out.
func (p *Parameter) Data() ([]float32, error) {
	data, err := p.tensor.Float32s()
	return data, p.wrap(err)
}

// Set overwrites the parameter values in place.
func (p *Parameter) Set(data []float32) error {
	return p.wrap(p.tensor.CopyFrom(data))
}

// Dispose releases the parameter handle. The module keeps its storage.
func (p *Parameter) Dispose() error {
	return p.tensor.Dispose()
}

func (p *Parameter) wrap(err error) error {
	var disposed *torch.UseAfterDisposeError
	if errors.As(err, &disposed) {
		return &torch.UseAfterDisposeError{Kind: "parameter", Name: p.name}
	}
	return err
}

// ParameterSet is an ordered mapping from name to parameter.
// Iteration follows declaration order, which is the order used for
// persistence.
type ParameterSet struct {
	params []*Parameter
	index  map[string]int
}

func newParameterSet(capacity int) *ParameterSet {
	return &ParameterSet{
		params: make([]*Parameter, 0, capacity),
		index:  make(map[string]int, capacity),
	}
}

func (s *ParameterSet) add(p *Parameter) {
	s.index[p.name] = len(s.params)
	s.params = append(s.params, p)
}

// Len returns the number of parameters.
func (s *ParameterSet) Len() int {
	return len(s.params)
}

// At returns the i-th parameter in declaration order.
func (s *ParameterSet) At(i int) *Parameter {
	return s.params[i]
}

// Get returns the parameter called name.
func (s *ParameterSet) Get(name string) (*Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.params[i], true
}

// Names returns the parameter names in declaration order.
func (s *ParameterSet) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.name
	}
	return names
}

// List returns the parameters in declaration order.
func (s *ParameterSet) List() []*Parameter {
	return append([]*Parameter(nil), s.params...)
}

// All iterates over name, parameter pairs in declaration order.
func (s *ParameterSet) All() iter.Seq2[string, *Parameter] {
	return func(yield func(string, *Parameter) bool) {
		for _, p := range s.params {
			if !yield(p.name, p) {
				return
			}
		}
	}
}

// Dispose releases every parameter handle.
func (s *ParameterSet) Dispose() error {
	var errs []error
	for _, p := range s.params {
		if err := p.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
