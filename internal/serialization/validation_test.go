package serialization

import (
	"errors"
	"strings"
	"testing"
)

func meta(name string, offset int64, shape ...int64) TensorMeta {
	m := TensorMeta{Name: name, DType: DTypeFloat32, Shape: shape, Offset: offset}
	m.Size = m.NumElements() * float32Size
	return m
}

// TestValidateTensorOffsets_Overlap detects overlapping tensor regions.
func TestValidateTensorOffsets_Overlap(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantErr  bool
	}{
		{
			name: "complete overlap",
			tensors: []TensorMeta{
				{Name: "weight", Offset: 0, Size: 100},
				{Name: "bias", Offset: 50, Size: 100},
			},
			dataSize: 200,
			wantErr:  true,
		},
		{
			name: "partial overlap at boundary",
			tensors: []TensorMeta{
				{Name: "weight", Offset: 0, Size: 100},
				{Name: "bias", Offset: 99, Size: 100},
			},
			dataSize: 200,
			wantErr:  true,
		},
		{
			name: "exact boundary (no overlap)",
			tensors: []TensorMeta{
				{Name: "weight", Offset: 0, Size: 100},
				{Name: "bias", Offset: 100, Size: 100},
			},
			dataSize: 200,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTensorOffsets() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("Expected ValidationError, got %T", err)
				}
				if validationErr.Type != "offset_overlap" {
					t.Errorf("Expected offset_overlap error, got %s", validationErr.Type)
				}
			}
		})
	}
}

// TestValidateTensorOffsets_OutOfBounds detects tensors extending beyond the payload.
func TestValidateTensorOffsets_OutOfBounds(t *testing.T) {
	tensors := []TensorMeta{
		{Name: "weight", Offset: 0, Size: 100},
		{Name: "bias", Offset: 100, Size: 200},
	}
	err := ValidateTensorOffsets(tensors, 250)

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if validationErr.Type != "out_of_bounds" {
		t.Errorf("Expected out_of_bounds error, got %s", validationErr.Type)
	}
}

// TestValidateTensorOffsets_NegativeValues detects negative offsets or sizes.
func TestValidateTensorOffsets_NegativeValues(t *testing.T) {
	for _, tm := range []TensorMeta{
		{Name: "weight", Offset: -100, Size: 100},
		{Name: "weight", Offset: 0, Size: -100},
	} {
		err := ValidateTensorOffsets([]TensorMeta{tm}, 500)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) || validationErr.Type != "negative_offset" {
			t.Errorf("offset=%d size=%d: expected negative_offset, got %v", tm.Offset, tm.Size, err)
		}
	}
}

func TestValidateContiguous(t *testing.T) {
	ok := []TensorMeta{meta("weight", 0, 10, 100), meta("bias", 4000, 10)}
	if err := ValidateContiguous(ok, 4040); err != nil {
		t.Errorf("contiguous tensors rejected: %v", err)
	}

	gap := []TensorMeta{meta("weight", 0, 10, 100), meta("bias", 4004, 10)}
	if err := ValidateContiguous(gap, 4044); err == nil {
		t.Error("expected error for a gap between tensors")
	}

	short := []TensorMeta{meta("weight", 0, 10)}
	if err := ValidateContiguous(short, 80); err == nil {
		t.Error("expected error for trailing payload bytes")
	}
}

// TestValidateTensorName checks rejected and accepted names.
func TestValidateTensorName(t *testing.T) {
	bad := []string{
		"",
		"../etc/passwd",
		"lin1..weight",
		"path/to/tensor",
		"C:\\Windows",
		"weight\x00",
		strings.Repeat("a", MaxTensorNameLen+1),
	}
	for _, name := range bad {
		if err := ValidateTensorName(name); err == nil {
			t.Errorf("ValidateTensorName(%q) should fail", name)
		}
	}

	good := []string{"weight", "bias", "lin1.weight", "0.running_mean", "features.3.conv.weight"}
	for _, name := range good {
		if err := ValidateTensorName(name); err != nil {
			t.Errorf("ValidateTensorName(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateTensorMeta(t *testing.T) {
	if err := ValidateTensorMeta(meta("weight", 0, 10, 100)); err != nil {
		t.Errorf("valid meta rejected: %v", err)
	}

	wrongDType := meta("weight", 0, 4)
	wrongDType.DType = "float64"
	wrongSize := meta("weight", 0, 4)
	wrongSize.Size = 12
	zeroDim := TensorMeta{Name: "weight", DType: DTypeFloat32, Shape: []int64{0, 4}}

	tests := []struct {
		meta TensorMeta
		typ  string
	}{
		{wrongDType, "unsupported_dtype"},
		{wrongSize, "size_mismatch"},
		{zeroDim, "invalid_shape"},
	}
	for _, tt := range tests {
		err := ValidateTensorMeta(tt.meta)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) || validationErr.Type != tt.typ {
			t.Errorf("expected %s, got %v", tt.typ, err)
		}
	}
}

// TestValidateHeader_Levels checks which checks each level runs.
func TestValidateHeader_Levels(t *testing.T) {
	dup := &Header{Tensors: []TensorMeta{meta("weight", 0, 2), meta("weight", 8, 2)}}
	if err := ValidateHeader(dup, 16, ValidationStrict); err == nil {
		t.Error("strict: expected duplicate_name error")
	}

	gap := &Header{Tensors: []TensorMeta{meta("weight", 0, 2), meta("bias", 12, 2)}}
	if err := ValidateHeader(gap, 20, ValidationStrict); err == nil {
		t.Error("strict: expected non_contiguous error")
	}
	if err := ValidateHeader(gap, 20, ValidationNormal); err != nil {
		t.Errorf("normal: gaps are allowed, got %v", err)
	}

	bad := &Header{Tensors: []TensorMeta{{Name: "../x", Offset: -1, Size: -1}}}
	if err := ValidateHeader(bad, 0, ValidationNone); err != nil {
		t.Errorf("none: expected nil, got %v", err)
	}
}

// TestValidationError_ErrorMessages checks message formats.
func TestValidationError_ErrorMessages(t *testing.T) {
	tests := []struct {
		err  *ValidationError
		want string
	}{
		{&ValidationError{Type: "offset_overlap", Tensor: "a", Tensor2: "b", Details: "x"}, `offset_overlap: tensors "a" and "b": x`},
		{&ValidationError{Type: "invalid_name", Tensor: "a", Details: "x"}, `invalid_name: tensor "a": x`},
		{&ValidationError{Type: "too_many_tensors", Details: "x"}, "too_many_tensors: x"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

// FuzzValidateTensorName ensures name validation never panics on random input.
func FuzzValidateTensorName(f *testing.F) {
	f.Add("lin1.weight")
	f.Add("../malicious")
	f.Add("path/to/tensor")
	f.Add(strings.Repeat("a", MaxTensorNameLen))
	f.Add("\x00null_byte")

	f.Fuzz(func(_ *testing.T, name string) {
		_ = ValidateTensorName(name)
	})
}

// FuzzValidateTensorOffsets ensures offset validation never panics.
func FuzzValidateTensorOffsets(f *testing.F) {
	f.Add(int64(0), int64(100), int64(200))
	f.Add(int64(-100), int64(50), int64(1000))
	f.Add(int64(100), int64(-50), int64(1000))

	f.Fuzz(func(_ *testing.T, offset1, size1, dataSize int64) {
		tensors := []TensorMeta{
			{Name: "fuzz_tensor", Offset: offset1, Size: size1},
		}
		_ = ValidateTensorOffsets(tensors, dataSize)
	})
}

func TestValidateStoredSize(t *testing.T) {
	tests := []struct {
		codec   Codec
		stored  int64
		payload int64
		ok      bool
	}{
		{CodecNone, 0, 64, true},
		{CodecNone, 12, 64, false},
		{CodecZstd, 40, 64, true},
		{CodecZstd, 0, 0, true},
		{CodecZstd, 0, 64, false},
		{CodecLZ4, -1, 64, false},
		{CodecLZ4, MaxPayloadSize + 1, 64, false},
	}
	for _, tt := range tests {
		err := ValidateStoredSize(tt.codec, tt.stored, tt.payload)
		if tt.ok {
			if err != nil {
				t.Errorf("%s/%d: unexpected error %v", tt.codec, tt.stored, err)
			}
			continue
		}
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) || validationErr.Type != "stored_size" {
			t.Errorf("%s/%d: expected stored_size error, got %v", tt.codec, tt.stored, err)
		}
	}
}
