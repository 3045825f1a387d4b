package main

import (
	"fmt"

	"github.com/born-ml/torchbind/nn"
	"github.com/born-ml/torchbind/torch"
)

// buildMLP chains Linear layers of the given widths with ReLU between
// them. release disposes the container and every child.
func buildMLP(rt *torch.Runtime, widths []int64) (*nn.Sequential, func(), error) {
	var children []nn.NamedModule
	release := func() {
		for _, c := range children {
			_ = c.Module.Dispose()
		}
	}

	for i := 1; i < len(widths); i++ {
		lin, err := nn.NewLinear(rt, widths[i-1], widths[i], true)
		if err != nil {
			release()
			return nil, nil, err
		}
		children = append(children, nn.Named(fmt.Sprintf("lin%d", i), lin))
		if i == len(widths)-1 {
			break
		}
		relu, err := nn.NewReLU(rt)
		if err != nil {
			release()
			return nil, nil, err
		}
		children = append(children, nn.Named(fmt.Sprintf("relu%d", i), relu))
	}

	seq, err := nn.NewSequential(rt, children...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return seq, func() {
		_ = seq.Dispose()
		release()
	}, nil
}
