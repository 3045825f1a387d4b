package refnative

import (
	"errors"
	"fmt"

	"github.com/born-ml/torchbind/internal/native"
	"github.com/born-ml/torchbind/internal/tensor"
)

// maxRank bounds the number of dimensions accepted from callers.
const maxRank = 8

// tensorObj is the object behind a tensor handle.
type tensorObj struct {
	raw *tensor.RawTensor
}

func (e *Engine) newTensor(raw *tensor.RawTensor) native.Handle {
	return e.objects.issue(&tensorObj{raw: raw})
}

func shapeArg(p, n native.Arg) (tensor.Shape, error) {
	rank := int(n.Int32())
	if rank < 0 || rank > maxRank {
		return nil, fmt.Errorf("invalid rank %d", rank)
	}
	if rank > 0 && p.Pointer() == nil {
		return nil, errors.New("null shape pointer")
	}
	shape := tensor.FromDims(int64s(p, rank))
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return shape, nil
}

func (e *Engine) tensorNewFloat32(args []native.Arg) (uint64, error) {
	shape, err := shapeArg(args[1], args[2])
	if err != nil {
		return 0, err
	}
	if args[0].Pointer() == nil {
		return 0, errors.New("null data pointer")
	}
	raw, err := tensor.FromFloat32(float32s(args[0], shape.NumElements()), shape)
	if err != nil {
		return 0, err
	}
	return uint64(e.newTensor(raw)), nil
}

func (e *Engine) tensorZeros(args []native.Arg) (uint64, error) {
	shape, err := shapeArg(args[0], args[1])
	if err != nil {
		return 0, err
	}
	raw, err := tensor.NewRaw(shape)
	if err != nil {
		return 0, err
	}
	return uint64(e.newTensor(raw)), nil
}

func (e *Engine) tensorRandn(args []native.Arg) (uint64, error) {
	shape, err := shapeArg(args[0], args[1])
	if err != nil {
		return 0, err
	}
	raw, err := tensor.NewRaw(shape)
	if err != nil {
		return 0, err
	}
	e.normal(raw.Data())
	return uint64(e.newTensor(raw)), nil
}

func (e *Engine) tensorNDimension(args []native.Arg) (uint64, error) {
	t, err := e.objects.tensor(args[0].Handle())
	if err != nil {
		return 0, err
	}
	return uint64(len(t.raw.Shape())), nil
}

func (e *Engine) tensorSize(args []native.Arg) (uint64, error) {
	t, err := e.objects.tensor(args[0].Handle())
	if err != nil {
		return 0, err
	}
	shape := t.raw.Shape()
	dim := args[1].Int64()
	if dim < 0 {
		dim += int64(len(shape))
	}
	if dim < 0 || dim >= int64(len(shape)) {
		return 0, fmt.Errorf("dimension %d out of range for %d-D tensor", args[1].Int64(), len(shape))
	}
	return uint64(shape[dim]), nil
}

func (e *Engine) tensorNumel(args []native.Arg) (uint64, error) {
	t, err := e.objects.tensor(args[0].Handle())
	if err != nil {
		return 0, err
	}
	return uint64(t.raw.NumElements()), nil
}

func (e *Engine) tensorCopyTo(args []native.Arg) (uint64, error) {
	t, err := e.objects.tensor(args[0].Handle())
	if err != nil {
		return 0, err
	}
	n := int(args[2].Int64())
	if n < t.raw.NumElements() {
		return 0, fmt.Errorf("destination holds %d elements, tensor has %d", n, t.raw.NumElements())
	}
	return uint64(copy(float32s(args[1], n), t.raw.Data())), nil
}

func (e *Engine) tensorCopyFrom(args []native.Arg) (uint64, error) {
	t, err := e.objects.tensor(args[0].Handle())
	if err != nil {
		return 0, err
	}
	n := int(args[2].Int64())
	if n != t.raw.NumElements() {
		return 0, fmt.Errorf("source holds %d elements, tensor has %d", n, t.raw.NumElements())
	}
	copy(t.raw.Data(), float32s(args[1], n))
	return 0, nil
}

func (e *Engine) tensorDispose(args []native.Arg) (uint64, error) {
	t, err := takeAs[*tensorObj](e.objects, args[0].Handle(), "tensor")
	if err != nil {
		return 0, err
	}
	t.raw.Release()
	return 0, nil
}
