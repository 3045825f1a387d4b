// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the engine's neural network module catalog.
//
// # Overview
//
// This package contains:
//   - Layers: Linear, Conv2d
//   - Normalization: BatchNorm1d/2d/3d, InstanceNorm1d/2d/3d
//   - Pooling: AvgPool1d/2d/3d, MaxPool1d/2d/3d
//   - Activations: ReLU
//   - Containers: Sequential
//   - Persistence: Save, Load and their file and store variants
//
// Every layer is an engine object. Module wraps its handle, checks input
// shapes before crossing into the engine, and releases the handle on
// Dispose.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/torchbind/nn"
//	    "github.com/born-ml/torchbind/torch"
//	)
//
//	func main() {
//	    rt, _ := torch.Open()
//	    defer rt.Close()
//
//	    lin1, _ := nn.NewLinear(rt, 784, 128, true)
//	    relu, _ := nn.NewReLU(rt)
//	    lin2, _ := nn.NewLinear(rt, 128, 10, true)
//
//	    model, err := nn.NewSequential(rt,
//	        nn.Named("lin1", lin1),
//	        nn.Named("relu", relu),
//	        nn.Named("lin2", lin2),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer model.Dispose()
//
//	    output, err := model.Forward(input)
//	}
//
// # Shape Checks
//
// Each operator declares the input ranks it accepts. Forward rejects other
// ranks with *torch.ShapeError without calling the engine:
//
//	norm, _ := nn.NewInstanceNorm3d(rt, 4)
//	_, err := norm.Forward(x4d) // errors.Is(err, torch.ErrShape)
//
// # Saving and Loading
//
// Parameters are written in declaration order with their names and
// shapes. Loading matches by position and name and checks every shape
// before any value is replaced:
//
//	err := model.SaveFile("model.thsp", nn.WithCodec(nn.CodecZstd))
//
//	fresh, _ := buildModel(rt)
//	err = fresh.LoadFile("model.thsp")
//
// Buffers such as running statistics are not parameters and are not saved.
package nn
