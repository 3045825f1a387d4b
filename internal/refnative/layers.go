package refnative

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/internal/tensor"
)

// layerConfig holds the constructor arguments a forward function needs.
type layerConfig struct {
	in, out    int
	kernel     int
	stride     int
	padding    int
	eps        float64
	momentum   float64
	affine     bool
	track      bool
	poolDims   int
	poolKernel []int
	poolStride []int
}

// builder constructs a module from constructor arguments (without the
// trailing AnyModule out-pointer).
type builder func(e *Engine, args []native.Arg) (*moduleObj, error)

var builders = map[string]builder{
	"Linear":         buildLinear,
	"Conv2d":         buildConv2d,
	"BatchNorm1d":    normBuilder("BatchNorm1d", []int{2, 3}, forwardBatchNorm),
	"BatchNorm2d":    normBuilder("BatchNorm2d", []int{4}, forwardBatchNorm),
	"BatchNorm3d":    normBuilder("BatchNorm3d", []int{5}, forwardBatchNorm),
	"InstanceNorm1d": normBuilder("InstanceNorm1d", []int{3}, forwardInstanceNorm),
	"InstanceNorm2d": normBuilder("InstanceNorm2d", []int{4}, forwardInstanceNorm),
	"InstanceNorm3d": normBuilder("InstanceNorm3d", []int{5}, forwardInstanceNorm),
	"AvgPool1d":      poolBuilder("AvgPool1d", 1, poolAvg),
	"AvgPool2d":      poolBuilder("AvgPool2d", 2, poolAvg),
	"AvgPool3d":      poolBuilder("AvgPool3d", 3, poolAvg),
	"MaxPool1d":      poolBuilder("MaxPool1d", 1, poolMax),
	"MaxPool2d":      poolBuilder("MaxPool2d", 2, poolMax),
	"MaxPool3d":      poolBuilder("MaxPool3d", 3, poolMax),
	"ReLU":           buildReLU,
	"Sequential":     buildSequential,
}

func positive(name string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}

// uniformTensor allocates a tensor initialized from U(-bound, bound).
func (e *Engine) uniformTensor(shape tensor.Shape, bound float64) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(shape)
	if err != nil {
		return nil, err
	}
	e.uniform(raw.Data(), bound)
	return raw, nil
}

// buildLinear: in, out int64; bias bool.
// Weight and bias are drawn from U(-1/sqrt(in), 1/sqrt(in)).
func buildLinear(e *Engine, args []native.Arg) (*moduleObj, error) {
	in, out := args[0].Int64(), args[1].Int64()
	if err := positive("in_features", in); err != nil {
		return nil, err
	}
	if err := positive("out_features", out); err != nil {
		return nil, err
	}
	m := newModule("Linear", nil, forwardLinear)
	m.cfg.in, m.cfg.out = int(in), int(out)

	bound := 1 / math.Sqrt(float64(in))
	w, err := e.uniformTensor(tensor.Shape{int(out), int(in)}, bound)
	if err != nil {
		return nil, err
	}
	m.addParam("weight", w)
	if args[2].Bool() {
		b, err := e.uniformTensor(tensor.Shape{int(out)}, bound)
		if err != nil {
			w.Release()
			return nil, err
		}
		m.addParam("bias", b)
	}
	return m, nil
}

// buildConv2d: in, out, kernel, stride, padding int64; bias bool.
func buildConv2d(e *Engine, args []native.Arg) (*moduleObj, error) {
	in, out, k := args[0].Int64(), args[1].Int64(), args[2].Int64()
	stride, padding := args[3].Int64(), args[4].Int64()
	for _, c := range []struct {
		name string
		v    int64
	}{{"in_channels", in}, {"out_channels", out}, {"kernel_size", k}, {"stride", stride}} {
		if err := positive(c.name, c.v); err != nil {
			return nil, err
		}
	}
	if padding < 0 {
		return nil, fmt.Errorf("padding must be non-negative, got %d", padding)
	}
	m := newModule("Conv2d", []int{4}, forwardConv2d)
	m.cfg.in, m.cfg.out, m.cfg.kernel = int(in), int(out), int(k)
	m.cfg.stride, m.cfg.padding = int(stride), int(padding)

	bound := 1 / math.Sqrt(float64(in*k*k))
	w, err := e.uniformTensor(tensor.Shape{int(out), int(in), int(k), int(k)}, bound)
	if err != nil {
		return nil, err
	}
	m.addParam("weight", w)
	if args[5].Bool() {
		b, err := e.uniformTensor(tensor.Shape{int(out)}, bound)
		if err != nil {
			w.Release()
			return nil, err
		}
		m.addParam("bias", b)
	}
	return m, nil
}

// normBuilder handles the shared normalization layout:
// features int64; eps, momentum float64; affine, track_running_stats bool.
func normBuilder(op string, ranks []int, fwd forwardFunc) builder {
	return func(_ *Engine, args []native.Arg) (*moduleObj, error) {
		features := args[0].Int64()
		if err := positive("num_features", features); err != nil {
			return nil, err
		}
		eps, momentum := args[1].Float64(), args[2].Float64()
		if eps <= 0 || math.IsNaN(eps) {
			return nil, fmt.Errorf("eps must be positive, got %g", eps)
		}
		if momentum < 0 || momentum > 1 || math.IsNaN(momentum) {
			return nil, fmt.Errorf("momentum must be in [0, 1], got %g", momentum)
		}
		m := newModule(op, ranks, fwd)
		m.cfg.in = int(features)
		m.cfg.eps, m.cfg.momentum = eps, momentum
		m.cfg.affine, m.cfg.track = args[3].Bool(), args[4].Bool()

		shape := tensor.Shape{int(features)}
		if m.cfg.affine {
			w, _ := tensor.Full(shape, 1)
			b, _ := tensor.NewRaw(shape)
			m.addParam("weight", w)
			m.addParam("bias", b)
		}
		if m.cfg.track {
			mean, _ := tensor.NewRaw(shape)
			variance, _ := tensor.Full(shape, 1)
			m.addBuffer("running_mean", mean)
			m.addBuffer("running_var", variance)
		}
		return m, nil
	}
}

// poolBuilder handles kernel int64*, len int32; stride int64*, len int32.
// A single kernel or stride value applies to every pooled dimension; an
// empty stride defaults to the kernel size.
func poolBuilder(op string, dims int, mode poolMode) builder {
	return func(_ *Engine, args []native.Arg) (*moduleObj, error) {
		kernel, err := expandDims("kernel_size", int64s(args[0], int(args[1].Int32())), dims)
		if err != nil {
			return nil, err
		}
		if kernel == nil {
			return nil, errors.New("kernel_size is required")
		}
		stride, err := expandDims("stride", int64s(args[2], int(args[3].Int32())), dims)
		if err != nil {
			return nil, err
		}
		if stride == nil {
			stride = append([]int(nil), kernel...)
		}
		m := newModule(op, []int{dims + 1, dims + 2}, poolForward(mode))
		m.cfg.poolDims = dims
		m.cfg.poolKernel = kernel
		m.cfg.poolStride = stride
		return m, nil
	}
}

func expandDims(name string, vals []int64, dims int) ([]int, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	if len(vals) != 1 && len(vals) != dims {
		return nil, fmt.Errorf("%s must have 1 or %d values, got %d", name, dims, len(vals))
	}
	out := make([]int, dims)
	for i := range out {
		v := vals[0]
		if len(vals) == dims {
			v = vals[i]
		}
		if err := positive(name, v); err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

func buildReLU(*Engine, []native.Arg) (*moduleObj, error) {
	return newModule("ReLU", nil, forwardReLU), nil
}

func buildSequential(*Engine, []native.Arg) (*moduleObj, error) {
	return newModule("Sequential", nil, forwardSequential), nil
}
