// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package functional applies nn operators to a tensor without keeping a
// module around.
//
// Each function builds a temporary module on the tensor's runtime, runs
// Forward and disposes the module before returning, on success and on
// failure alike:
//
//	y, err := functional.InstanceNorm3d(x, 4)
//	z, err := functional.MaxPool2d(y, []int64{2, 2})
//
// Modules that carry learnable state are created fresh on every call, so
// affine weights start from their initial values and running statistics
// are discarded.
package functional

import (
	"errors"

	"github.com/born-ml/torchbind/nn"
	"github.com/born-ml/torchbind/torch"
)

// apply runs build on x's runtime, forwards x and releases the module.
func apply(x *torch.Tensor, build func(*torch.Runtime) (*nn.Module, error)) (*torch.Tensor, error) {
	if _, err := x.Handle(); err != nil {
		return nil, err
	}
	m, err := build(x.Runtime())
	if err != nil {
		return nil, err
	}
	y, err := m.Forward(x)
	if derr := m.Dispose(); derr != nil {
		if y != nil {
			_ = y.Dispose()
		}
		return nil, errors.Join(err, derr)
	}
	return y, err
}

// ReLU returns max(x, 0).
func ReLU(x *torch.Tensor) (*torch.Tensor, error) {
	return apply(x, nn.NewReLU)
}

func norm(x *torch.Tensor, features int64, opts []nn.NormOption,
	ctor func(*torch.Runtime, int64, ...nn.NormOption) (*nn.Module, error),
) (*torch.Tensor, error) {
	return apply(x, func(rt *torch.Runtime) (*nn.Module, error) {
		return ctor(rt, features, opts...)
	})
}

// BatchNorm1d normalizes x ([N, C] or [N, C, L]) over the batch.
func BatchNorm1d(x *torch.Tensor, features int64, opts ...nn.NormOption) (*torch.Tensor, error) {
	return norm(x, features, opts, nn.NewBatchNorm1d)
}

// BatchNorm2d normalizes x ([N, C, H, W]) over the batch.
func BatchNorm2d(x *torch.Tensor, features int64, opts ...nn.NormOption) (*torch.Tensor, error) {
	return norm(x, features, opts, nn.NewBatchNorm2d)
}

// BatchNorm3d normalizes x ([N, C, D, H, W]) over the batch.
func BatchNorm3d(x *torch.Tensor, features int64, opts ...nn.NormOption) (*torch.Tensor, error) {
	return norm(x, features, opts, nn.NewBatchNorm3d)
}

// InstanceNorm1d normalizes each channel of x ([N, C, L]) per sample.
func InstanceNorm1d(x *torch.Tensor, features int64, opts ...nn.NormOption) (*torch.Tensor, error) {
	return norm(x, features, opts, nn.NewInstanceNorm1d)
}

// InstanceNorm2d normalizes each channel of x ([N, C, H, W]) per sample.
func InstanceNorm2d(x *torch.Tensor, features int64, opts ...nn.NormOption) (*torch.Tensor, error) {
	return norm(x, features, opts, nn.NewInstanceNorm2d)
}

// InstanceNorm3d normalizes each channel of x ([N, C, D, H, W]) per sample.
// Inputs of any other rank fail with *torch.ShapeError.
func InstanceNorm3d(x *torch.Tensor, features int64, opts ...nn.NormOption) (*torch.Tensor, error) {
	return norm(x, features, opts, nn.NewInstanceNorm3d)
}

func pool(x *torch.Tensor, kernel []int64, opts []nn.PoolOption,
	ctor func(*torch.Runtime, []int64, ...nn.PoolOption) (*nn.Module, error),
) (*torch.Tensor, error) {
	return apply(x, func(rt *torch.Runtime) (*nn.Module, error) {
		return ctor(rt, kernel, opts...)
	})
}

// AvgPool1d averages windows of the last dimension.
func AvgPool1d(x *torch.Tensor, kernel []int64, opts ...nn.PoolOption) (*torch.Tensor, error) {
	return pool(x, kernel, opts, nn.NewAvgPool1d)
}

// AvgPool2d averages windows of the last two dimensions.
func AvgPool2d(x *torch.Tensor, kernel []int64, opts ...nn.PoolOption) (*torch.Tensor, error) {
	return pool(x, kernel, opts, nn.NewAvgPool2d)
}

// AvgPool3d averages windows of the last three dimensions.
func AvgPool3d(x *torch.Tensor, kernel []int64, opts ...nn.PoolOption) (*torch.Tensor, error) {
	return pool(x, kernel, opts, nn.NewAvgPool3d)
}

// MaxPool1d takes the maximum of windows of the last dimension.
func MaxPool1d(x *torch.Tensor, kernel []int64, opts ...nn.PoolOption) (*torch.Tensor, error) {
	return pool(x, kernel, opts, nn.NewMaxPool1d)
}

// MaxPool2d takes the maximum of windows of the last two dimensions.
func MaxPool2d(x *torch.Tensor, kernel []int64, opts ...nn.PoolOption) (*torch.Tensor, error) {
	return pool(x, kernel, opts, nn.NewMaxPool2d)
}

// MaxPool3d takes the maximum of windows of the last three dimensions.
func MaxPool3d(x *torch.Tensor, kernel []int64, opts ...nn.PoolOption) (*torch.Tensor, error) {
	return pool(x, kernel, opts, nn.NewMaxPool3d)
}
