package tensor

import (
	"testing"
)

// RawTensor Tests

func TestNewRawZeroFilled(t *testing.T) {
	raw, err := NewRaw(Shape{3, 2})
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	data := raw.Data()

	if len(data) != 6 {
		t.Errorf("Data length = %d, want 6", len(data))
	}
	for i, v := range data {
		if v != 0 {
			t.Errorf("Data[%d] = %v, want 0", i, v)
		}
	}
}

func TestNewRawInvalidShape(t *testing.T) {
	if _, err := NewRaw(Shape{2, 0}); err == nil {
		t.Error("NewRaw should reject zero dimensions")
	}
	if _, err := NewRaw(Shape{-1}); err == nil {
		t.Error("NewRaw should reject negative dimensions")
	}
}

func TestFromFloat32CopiesData(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	raw, err := FromFloat32(src, Shape{2, 2})
	if err != nil {
		t.Fatalf("FromFloat32 failed: %v", err)
	}

	src[0] = 42
	if raw.Data()[0] != 1 {
		t.Error("FromFloat32 should copy the source slice")
	}
}

func TestFromFloat32LengthMismatch(t *testing.T) {
	if _, err := FromFloat32([]float32{1, 2, 3}, Shape{2, 2}); err == nil {
		t.Error("FromFloat32 should reject mismatched length")
	}
}

func TestFull(t *testing.T) {
	raw, err := Full(Shape{4}, 0.5)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	for i, v := range raw.Data() {
		if v != 0.5 {
			t.Errorf("Data[%d] = %v, want 0.5", i, v)
		}
	}
}

func TestRawTensorDataZeroCopy(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 2})
	data := raw.Data()

	// Modify and verify zero-copy
	data[0] = 7
	if raw.Data()[0] != 7 {
		t.Error("Data should return zero-copy slice")
	}
}

func TestRawTensorCloneSharesBuffer(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 2})
	clone := raw.Clone()

	if raw.RefCount() != 2 {
		t.Errorf("RefCount after Clone = %d, want 2", raw.RefCount())
	}

	clone.Data()[3] = 9
	if raw.Data()[3] != 9 {
		t.Error("Clone should share the underlying buffer")
	}

	clone.Release()
	if raw.RefCount() != 1 {
		t.Errorf("RefCount after Release = %d, want 1", raw.RefCount())
	}
	if raw.Data() == nil {
		t.Error("buffer freed while a reference is still live")
	}
}

func TestRawTensorRelease(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 2})
	raw.Release()

	if raw.Data() != nil {
		t.Error("buffer should be freed after the last Release")
	}
}

// Shape Tests

func TestShapeNumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{Shape{}, 1},
		{Shape{5}, 5},
		{Shape{2, 3}, 6},
		{Shape{2, 3, 4, 5, 6}, 720},
	}
	for _, tt := range tests {
		if got := tt.shape.NumElements(); got != tt.want {
			t.Errorf("%v.NumElements() = %d, want %d", tt.shape, got, tt.want)
		}
	}
}

func TestShapeComputeStrides(t *testing.T) {
	got := Shape{2, 3, 4}.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("strides[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestShapeDimsRoundTrip(t *testing.T) {
	s := Shape{1, 10, 100}
	if !FromDims(s.Dims()).Equal(s) {
		t.Errorf("FromDims(Dims()) = %v, want %v", FromDims(s.Dims()), s)
	}
}

func TestShapeSplit(t *testing.T) {
	lead, tail := Shape{2, 3, 8, 8}.Split(2)
	if lead != 6 {
		t.Errorf("lead = %d, want 6", lead)
	}
	if !tail.Equal(Shape{8, 8}) {
		t.Errorf("tail = %v, want [8 8]", tail)
	}

	lead, tail = Shape{5, 7}.Split(2)
	if lead != 1 || !tail.Equal(Shape{5, 7}) {
		t.Errorf("Split(2) of rank-2 shape = %d, %v", lead, tail)
	}
}
