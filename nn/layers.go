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

// Default settings, matching the engine's own defaults.
const (
	DefaultEps      = 1e-5
	DefaultMomentum = 0.1
)

func itoa(v int64) string        { return strconv.FormatInt(v, 10) }
func ftoa(v float64) string      { return strconv.FormatFloat(v, 'g', -1, 64) }
func btoa(v bool) string         { return strconv.FormatBool(v) }
func dimsString(v []int64) string { return fmt.Sprint(v) }

// Linear

// NewLinear creates a fully connected layer y = x·Wᵀ + b with weight
// [out, in] and, when bias is set, bias [out]. Both are initialized from
// U(-1/√in, 1/√in) by the engine generator.
//
// Input: [..., in]. Output: [..., out].
//
// Example:
//
//	layer, err := nn.NewLinear(rt, 784, 128, true)
func NewLinear(rt *torch.Runtime, in, out int64, bias bool) (*Module, error) {
	return construct(rt, "Linear", in, []ConfigEntry{
		{"in_features", itoa(in)},
		{"out_features", itoa(out)},
		{"bias", btoa(bias)},
	}, native.I64(in), native.I64(out), native.B(bias))
}

// Convolution

type convOptions struct {
	stride  int64
	padding int64
	bias    bool
}

// ConvOption configures NewConv2d.
type ConvOption func(*convOptions)

// ConvStride sets the stride (default: 1).
func ConvStride(s int64) ConvOption {
	return func(o *convOptions) { o.stride = s }
}

// ConvPadding sets the zero padding added to both sides (default: 0).
func ConvPadding(p int64) ConvOption {
	return func(o *convOptions) { o.padding = p }
}

// ConvBias enables or disables the bias term (default: enabled).
func ConvBias(on bool) ConvOption {
	return func(o *convOptions) { o.bias = on }
}

// NewConv2d creates a 2D convolution with a square kernel.
//
// Input: [N, in, H, W]. Output: [N, out, H', W'] where
// H' = (H + 2·padding - kernel)/stride + 1.
//
// Example:
//
//	conv, err := nn.NewConv2d(rt, 100, 10, 5) // stride 1, padding 0, bias
func NewConv2d(rt *torch.Runtime, in, out, kernel int64, opts ...ConvOption) (*Module, error) {
	o := convOptions{stride: 1, bias: true}
	for _, opt := range opts {
		opt(&o)
	}
	return construct(rt, "Conv2d", in, []ConfigEntry{
		{"in_channels", itoa(in)},
		{"out_channels", itoa(out)},
		{"kernel_size", itoa(kernel)},
		{"stride", itoa(o.stride)},
		{"padding", itoa(o.padding)},
		{"bias", btoa(o.bias)},
	}, native.I64(in), native.I64(out), native.I64(kernel),
		native.I64(o.stride), native.I64(o.padding), native.B(o.bias))
}

// Normalization

type normOptions struct {
	eps      float64
	momentum float64
	affine   bool
	track    bool
}

// NormOption configures batch and instance normalization layers.
type NormOption func(*normOptions)

// Eps sets the value added to the variance for numerical stability
// (default: 1e-5).
func Eps(v float64) NormOption {
	return func(o *normOptions) { o.eps = v }
}

// Momentum sets the running statistics update factor (default: 0.1).
func Momentum(v float64) NormOption {
	return func(o *normOptions) { o.momentum = v }
}

// Affine enables the learnable weight and bias (default: true).
func Affine(on bool) NormOption {
	return func(o *normOptions) { o.affine = on }
}

// TrackRunningStats enables running mean and variance (default: true).
// Without them the layer always normalizes with batch statistics.
func TrackRunningStats(on bool) NormOption {
	return func(o *normOptions) { o.track = on }
}

func newNorm(rt *torch.Runtime, op string, features int64, opts []NormOption) (*Module, error) {
	o := normOptions{eps: DefaultEps, momentum: DefaultMomentum, affine: true, track: true}
	for _, opt := range opts {
		opt(&o)
	}
	return construct(rt, op, features, []ConfigEntry{
		{"num_features", itoa(features)},
		{"eps", ftoa(o.eps)},
		{"momentum", ftoa(o.momentum)},
		{"affine", btoa(o.affine)},
		{"track_running_stats", btoa(o.track)},
	}, native.I64(features), native.F64(o.eps), native.F64(o.momentum),
		native.B(o.affine), native.B(o.track))
}

// NewBatchNorm1d normalizes [N, C] or [N, C, L] inputs over the batch.
func NewBatchNorm1d(rt *torch.Runtime, features int64, opts ...NormOption) (*Module, error) {
	return newNorm(rt, "BatchNorm1d", features, opts)
}

// NewBatchNorm2d normalizes [N, C, H, W] inputs over the batch.
func NewBatchNorm2d(rt *torch.Runtime, features int64, opts ...NormOption) (*Module, error) {
	return newNorm(rt, "BatchNorm2d", features, opts)
}

// NewBatchNorm3d normalizes [N, C, D, H, W] inputs over the batch.
func NewBatchNorm3d(rt *torch.Runtime, features int64, opts ...NormOption) (*Module, error) {
	return newNorm(rt, "BatchNorm3d", features, opts)
}

// NewInstanceNorm1d normalizes each [L] instance of an [N, C, L] input.
func NewInstanceNorm1d(rt *torch.Runtime, features int64, opts ...NormOption) (*Module, error) {
	return newNorm(rt, "InstanceNorm1d", features, opts)
}

// NewInstanceNorm2d normalizes each [H, W] instance of an [N, C, H, W] input.
func NewInstanceNorm2d(rt *torch.Runtime, features int64, opts ...NormOption) (*Module, error) {
	return newNorm(rt, "InstanceNorm2d", features, opts)
}

// NewInstanceNorm3d applies instance normalization over a 5D input
// (a mini-batch of 3D inputs with a channel dimension). features is C
// from an input of size [N, C, D, H, W].
//
// Example:
//
//	norm, err := nn.NewInstanceNorm3d(rt, 16, nn.Affine(false))
func NewInstanceNorm3d(rt *torch.Runtime, features int64, opts ...NormOption) (*Module, error) {
	return newNorm(rt, "InstanceNorm3d", features, opts)
}

// Pooling

type poolOptions struct {
	stride []int64
}

// PoolOption configures pooling layers.
type PoolOption func(*poolOptions)

// Stride sets the window stride: one value for every pooled dimension,
// or one per dimension. The default is the kernel size.
func Stride(s ...int64) PoolOption {
	return func(o *poolOptions) { o.stride = s }
}

func newPool(rt *torch.Runtime, op string, kernel []int64, opts []PoolOption) (*Module, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}
	config := []ConfigEntry{{"kernel_size", dimsString(kernel)}}
	if len(o.stride) > 0 {
		config = append(config, ConfigEntry{"stride", dimsString(o.stride)})
	}
	m, err := construct(rt, op, 0, config,
		native.Int64s(kernel), native.I32(int32(len(kernel))),
		native.Int64s(o.stride), native.I32(int32(len(o.stride))))
	runtime.KeepAlive(kernel)
	runtime.KeepAlive(o.stride)
	return m, err
}

// NewAvgPool1d averages windows over the last dimension of [N, C, L] or [C, L].
func NewAvgPool1d(rt *torch.Runtime, kernel []int64, opts ...PoolOption) (*Module, error) {
	return newPool(rt, "AvgPool1d", kernel, opts)
}

// NewAvgPool2d applies a 2D average pooling over an input signal composed
// of several input planes: [N, C, H, W] or [C, H, W].
//
// Example:
//
//	pool, err := nn.NewAvgPool2d(rt, []int64{2, 2}, nn.Stride(1))
func NewAvgPool2d(rt *torch.Runtime, kernel []int64, opts ...PoolOption) (*Module, error) {
	return newPool(rt, "AvgPool2d", kernel, opts)
}

// NewAvgPool3d averages windows over the last three dimensions.
func NewAvgPool3d(rt *torch.Runtime, kernel []int64, opts ...PoolOption) (*Module, error) {
	return newPool(rt, "AvgPool3d", kernel, opts)
}

// NewMaxPool1d takes window maxima over the last dimension.
func NewMaxPool1d(rt *torch.Runtime, kernel []int64, opts ...PoolOption) (*Module, error) {
	return newPool(rt, "MaxPool1d", kernel, opts)
}

// NewMaxPool2d takes window maxima over the last two dimensions.
func NewMaxPool2d(rt *torch.Runtime, kernel []int64, opts ...PoolOption) (*Module, error) {
	return newPool(rt, "MaxPool2d", kernel, opts)
}

// NewMaxPool3d takes window maxima over the last three dimensions.
func NewMaxPool3d(rt *torch.Runtime, kernel []int64, opts ...PoolOption) (*Module, error) {
	return newPool(rt, "MaxPool3d", kernel, opts)
}

// Activations

// NewReLU creates an element-wise max(0, x) activation.
func NewReLU(rt *torch.Runtime) (*Module, error) {
	return construct(rt, "ReLU", 0, nil)
}
