package refnative

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/torchbind/internal/parallel"
	"github.com/born-ml/torchbind/internal/tensor"
)

// forwardLinear computes y = x @ W^T + b over the last dimension.
//
// Input shape:  [*, in]
// Output shape: [*, out]
func forwardLinear(e *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if len(shape) == 0 {
		return nil, errors.New("expected at least 1D input (got 0D input)")
	}
	in, out := m.cfg.in, m.cfg.out
	if shape[len(shape)-1] != in {
		return nil, fmt.Errorf("input last dimension %d does not match in_features %d", shape[len(shape)-1], in)
	}
	rows, _ := shape.Split(1)

	outShape := shape.Clone()
	outShape[len(outShape)-1] = out
	y, err := tensor.NewRaw(outShape)
	if err != nil {
		return nil, err
	}

	xData := x.Data()
	wData := m.param("weight").Data()
	yData := y.Data()
	var bData []float32
	if b := m.param("bias"); b != nil {
		bData = b.Data()
	}

	parallel.For(rows, e.par, func(r int) {
		// Pre-slice row: eliminates r*in bounds checks
		xRow := xData[r*in : r*in+in]
		for o := 0; o < out; o++ {
			wRow := wData[o*in : o*in+in]
			sum := float32(0)
			for k, v := range xRow {
				sum += v * wRow[k]
			}
			if bData != nil {
				sum += bData[o]
			}
			yData[r*out+o] = sum
		}
	})
	return y, nil
}

// forwardConv2d performs direct 2D convolution with zero padding.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K, K]
// Output shape: [N, C_out, H_out, W_out]
//
// Where out = (in + 2*padding - K) / stride + 1.
func forwardConv2d(e *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	N, CIn, H, W := shape[0], shape[1], shape[2], shape[3]
	COut, K := m.cfg.out, m.cfg.kernel
	stride, padding := m.cfg.stride, m.cfg.padding

	if CIn != m.cfg.in {
		return nil, fmt.Errorf("input channels %d != in_channels %d", CIn, m.cfg.in)
	}
	HOut := (H+2*padding-K)/stride + 1
	WOut := (W+2*padding-K)/stride + 1
	if H+2*padding < K || W+2*padding < K {
		return nil, fmt.Errorf("kernel size %d too large for padded input %dx%d", K, H+2*padding, W+2*padding)
	}

	y, err := tensor.NewRaw(tensor.Shape{N, COut, HOut, WOut})
	if err != nil {
		return nil, err
	}

	xData := x.Data()
	wData := m.param("weight").Data()
	yData := y.Data()
	var bData []float32
	if b := m.param("bias"); b != nil {
		bData = b.Data()
	}

	parallel.Planes(N, COut, e.par, func(n, co int) {
		for oh := 0; oh < HOut; oh++ {
			hStart := oh*stride - padding
			for ow := 0; ow < WOut; ow++ {
				wStart := ow*stride - padding
				sum := float32(0)
				for ci := 0; ci < CIn; ci++ {
					plane := xData[(n*CIn+ci)*H*W : (n*CIn+ci+1)*H*W]
					kernel := wData[(co*CIn+ci)*K*K : (co*CIn+ci+1)*K*K]
					for kh := 0; kh < K; kh++ {
						h := hStart + kh
						if h < 0 || h >= H {
							continue
						}
						for kw := 0; kw < K; kw++ {
							w := wStart + kw
							if w < 0 || w >= W {
								continue
							}
							sum += plane[h*W+w] * kernel[kh*K+kw]
						}
					}
				}
				if bData != nil {
					sum += bData[co]
				}
				yData[((n*COut+co)*HOut+oh)*WOut+ow] = sum
			}
		}
	})
	return y, nil
}

// forwardReLU computes max(0, x) element-wise.
func forwardReLU(_ *Engine, _ *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	y, err := tensor.NewRaw(x.Shape())
	if err != nil {
		return nil, err
	}
	yData := y.Data()
	for i, v := range x.Data() {
		if v > 0 {
			yData[i] = v
		}
	}
	return y, nil
}

// normLayout describes x as [N, C, S] where S is the flattened spatial extent.
func normLayout(m *moduleObj, shape tensor.Shape) (n, c, s int, err error) {
	n, c = shape[0], shape[1]
	if c != m.cfg.in {
		return 0, 0, 0, fmt.Errorf("expected %d channels, got %d", m.cfg.in, c)
	}
	s = 1
	for _, d := range shape[2:] {
		s *= d
	}
	return n, c, s, nil
}

// forwardBatchNorm normalizes each channel over the batch and spatial dims.
//
// Training mode uses batch statistics and, when tracking, updates
// running_mean and running_var with momentum (unbiased variance). Eval mode
// uses the running statistics when tracking, batch statistics otherwise.
func forwardBatchNorm(_ *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	N, C, S, err := normLayout(m, x.Shape())
	if err != nil {
		return nil, err
	}
	training := m.training.Load()
	useBatch := training || !m.cfg.track
	count := N * S
	if training && count <= 1 {
		return nil, fmt.Errorf("expected more than 1 value per channel when training, got input size %v", x.Shape())
	}

	xData := x.Data()
	mean := make([]float64, C)
	variance := make([]float64, C)

	m.mu.Lock()
	defer m.mu.Unlock()
	if useBatch {
		for c := 0; c < C; c++ {
			var sum, sq float64
			for n := 0; n < N; n++ {
				for _, v := range xData[(n*C+c)*S : (n*C+c+1)*S] {
					sum += float64(v)
					sq += float64(v) * float64(v)
				}
			}
			mean[c] = sum / float64(count)
			variance[c] = math.Max(sq/float64(count)-mean[c]*mean[c], 0)
		}
		if training && m.cfg.track {
			updateRunning(m, mean, variance, count)
		}
	} else {
		rm, rv := m.buffer("running_mean").Data(), m.buffer("running_var").Data()
		for c := 0; c < C; c++ {
			mean[c], variance[c] = float64(rm[c]), float64(rv[c])
		}
	}

	y, err := tensor.NewRaw(x.Shape())
	if err != nil {
		return nil, err
	}
	yData := y.Data()
	for n := 0; n < N; n++ {
		for c := 0; c < C; c++ {
			off := (n*C + c) * S
			normalize(yData[off:off+S], xData[off:off+S], mean[c], variance[c], m, c)
		}
	}
	return y, nil
}

// forwardInstanceNorm normalizes each (sample, channel) plane over its
// spatial dims.
//
// When tracking, training mode folds the batch-averaged instance statistics
// into the running buffers and eval mode normalizes with them.
func forwardInstanceNorm(e *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	N, C, S, err := normLayout(m, x.Shape())
	if err != nil {
		return nil, err
	}
	training := m.training.Load()
	if training && S <= 1 {
		return nil, fmt.Errorf("expected more than 1 spatial element when training, got input size %v", x.Shape())
	}

	xData := x.Data()
	mean := make([]float64, N*C)
	variance := make([]float64, N*C)

	m.mu.Lock()
	defer m.mu.Unlock()
	if training || !m.cfg.track {
		parallel.For(N*C, e.par, func(i int) {
			var sum, sq float64
			for _, v := range xData[i*S : (i+1)*S] {
				sum += float64(v)
				sq += float64(v) * float64(v)
			}
			mean[i] = sum / float64(S)
			variance[i] = math.Max(sq/float64(S)-mean[i]*mean[i], 0)
		})
		if training && m.cfg.track {
			batchMean := make([]float64, C)
			batchVar := make([]float64, C)
			for n := 0; n < N; n++ {
				for c := 0; c < C; c++ {
					batchMean[c] += mean[n*C+c] / float64(N)
					batchVar[c] += variance[n*C+c] / float64(N)
				}
			}
			updateRunning(m, batchMean, batchVar, S)
		}
	} else {
		rm, rv := m.buffer("running_mean").Data(), m.buffer("running_var").Data()
		for n := 0; n < N; n++ {
			for c := 0; c < C; c++ {
				mean[n*C+c], variance[n*C+c] = float64(rm[c]), float64(rv[c])
			}
		}
	}

	y, err := tensor.NewRaw(x.Shape())
	if err != nil {
		return nil, err
	}
	yData := y.Data()
	parallel.Planes(N, C, e.par, func(n, c int) {
		i := n*C + c
		normalize(yData[i*S:(i+1)*S], xData[i*S:(i+1)*S], mean[i], variance[i], m, c)
	})
	return y, nil
}

// updateRunning blends biased batch statistics into the running buffers.
// The caller holds m.mu.
func updateRunning(m *moduleObj, mean, variance []float64, count int) {
	rm, rv := m.buffer("running_mean").Data(), m.buffer("running_var").Data()
	mom := m.cfg.momentum
	correction := float64(count) / float64(count-1)
	for c := range mean {
		rm[c] = float32((1-mom)*float64(rm[c]) + mom*mean[c])
		rv[c] = float32((1-mom)*float64(rv[c]) + mom*variance[c]*correction)
	}
}

// normalize writes (x - mean) / sqrt(var + eps), scaled and shifted by the
// affine parameters of channel c when present.
func normalize(dst, src []float32, mean, variance float64, m *moduleObj, c int) {
	inv := 1 / math.Sqrt(variance+m.cfg.eps)
	scale, shift := 1.0, 0.0
	if m.cfg.affine {
		scale = float64(m.param("weight").Data()[c])
		shift = float64(m.param("bias").Data()[c])
	}
	for i, v := range src {
		dst[i] = float32((float64(v)-mean)*inv*scale + shift)
	}
}

// poolMode selects the window reduction.
type poolMode int

const (
	poolAvg poolMode = iota
	poolMax
)

// poolForward pools over the trailing poolDims dimensions. Leading
// dimensions (channels, optionally batch) are flattened and kept.
//
// out[i] = (in[i] - kernel[i]) / stride[i] + 1 for each pooled dimension.
func poolForward(mode poolMode) forwardFunc {
	return func(_ *Engine, m *moduleObj, x *tensor.RawTensor) (*tensor.RawTensor, error) {
		dims := m.cfg.poolDims
		kernel, stride := m.cfg.poolKernel, m.cfg.poolStride
		shape := x.Shape()
		lead, spatial := shape.Split(dims)

		outSpatial := make(tensor.Shape, dims)
		for i := range outSpatial {
			if spatial[i] < kernel[i] {
				return nil, fmt.Errorf("kernel size %v too large for input %v", kernel, spatial)
			}
			outSpatial[i] = (spatial[i]-kernel[i])/stride[i] + 1
		}
		outShape := append(shape[:len(shape)-dims].Clone(), outSpatial...)
		y, err := tensor.NewRaw(outShape)
		if err != nil {
			return nil, err
		}

		inStrides := spatial.ComputeStrides()
		outStrides := outSpatial.ComputeStrides()
		window := tensor.Shape(kernel)
		winStrides := window.ComputeStrides()
		inPlane, outPlane, winSize := spatial.NumElements(), outSpatial.NumElements(), window.NumElements()

		xData := x.Data()
		yData := y.Data()
		origin := make([]int, dims)
		for l := 0; l < lead; l++ {
			plane := xData[l*inPlane : (l+1)*inPlane]
			for o := 0; o < outPlane; o++ {
				rem := o
				for d := 0; d < dims; d++ {
					origin[d] = (rem / outStrides[d]) * stride[d]
					rem %= outStrides[d]
				}

				acc := float32(0)
				if mode == poolMax {
					acc = float32(math.Inf(-1))
				}
				for k := 0; k < winSize; k++ {
					rem, idx := k, 0
					for d := 0; d < dims; d++ {
						idx += (origin[d] + rem/winStrides[d]) * inStrides[d]
						rem %= winStrides[d]
					}
					v := plane[idx]
					if mode == poolMax {
						if v > acc {
							acc = v
						}
					} else {
						acc += v
					}
				}
				if mode == poolAvg {
					acc /= float32(winSize)
				}
				yData[l*outPlane+o] = acc
			}
		}
		return y, nil
	}
}
