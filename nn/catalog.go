// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/torch"
)

// opSpec describes the input contract of one engine operator.
type opSpec struct {
	name string

	// ranks lists the accepted input ranks. Nil accepts any rank
	// of at least minRank.
	ranks   []int
	minRank int

	// featureDim is the input dimension whose size must equal the module's
	// feature count. Negative values count from the end; 0 disables the check.
	featureDim int
}

// catalog is the operator table. Every entry has a ctor and forward entry
// point in the native symbol table.
var catalog = func() map[string]*opSpec {
	ops := []opSpec{
		{name: "Linear", minRank: 1, featureDim: -1},
		{name: "Conv2d", ranks: []int{4}, featureDim: 1},
		{name: "BatchNorm1d", ranks: []int{2, 3}, featureDim: 1},
		{name: "BatchNorm2d", ranks: []int{4}, featureDim: 1},
		{name: "BatchNorm3d", ranks: []int{5}, featureDim: 1},
		{name: "InstanceNorm1d", ranks: []int{3}, featureDim: 1},
		{name: "InstanceNorm2d", ranks: []int{4}, featureDim: 1},
		{name: "InstanceNorm3d", ranks: []int{5}, featureDim: 1},
		{name: "AvgPool1d", ranks: []int{2, 3}},
		{name: "AvgPool2d", ranks: []int{3, 4}},
		{name: "AvgPool3d", ranks: []int{4, 5}},
		{name: "MaxPool1d", ranks: []int{2, 3}},
		{name: "MaxPool2d", ranks: []int{3, 4}},
		{name: "MaxPool3d", ranks: []int{4, 5}},
		{name: "ReLU"},
		{name: "Sequential"},
	}
	m := make(map[string]*opSpec, len(ops))
	for i := range ops {
		op := &ops[i]
		// Panics at init if the engine ABI lacks the operator.
		native.Ctor(op.name)
		native.Forward(op.name)
		m[op.name] = op
	}
	return m
}()

func lookupOp(name string) *opSpec {
	op, ok := catalog[name]
	if !ok {
		panic("nn: operator " + name + " missing from catalog")
	}
	return op
}

// Ops returns the names of every operator in the catalog, sorted.
func Ops() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// acceptsRank reports whether op accepts inputs of the given rank.
func (op *opSpec) acceptsRank(rank int) bool {
	if op.ranks == nil {
		return rank >= op.minRank
	}
	return slices.Contains(op.ranks, rank)
}

func (op *opSpec) expected() string {
	if op.ranks == nil {
		return fmt.Sprintf("at least %d dimensions", op.minRank)
	}
	parts := make([]string, len(op.ranks))
	for i, r := range op.ranks {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, " or ") + " dimensions"
}

// check validates an input shape against the operator contract.
// features is the module's feature count, 0 when unknown.
func (op *opSpec) check(shape []int64, features int64) error {
	if !op.acceptsRank(len(shape)) {
		return &torch.ShapeError{Op: op.name, Expected: op.expected(), Got: shape}
	}
	if op.featureDim == 0 || features <= 0 {
		return nil
	}
	dim := op.featureDim
	if dim < 0 {
		dim += len(shape)
	}
	if shape[dim] != features {
		return &torch.ShapeError{
			Op:       op.name,
			Expected: fmt.Sprintf("size %d at dimension %d", features, dim),
			Got:      shape,
		}
	}
	return nil
}
