package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 16 * 1024 * 1024 // 16MB - maximum JSON header size
	MaxTensorCount   = 100_000          // Maximum number of tensors in a stream
	MaxTensorNameLen = 4096             // Maximum tensor name length
	MaxTensorRank    = 8                // Maximum number of dimensions per tensor
	MaxPayloadSize   = 1 << 40          // 1TB - maximum uncompressed payload size
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default, recommended for production).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal performs basic validation checks only.
	ValidationNormal
	// ValidationNone skips validation (dangerous! Use only with trusted input).
	ValidationNone
)

// String returns the level name.
func (l ValidationLevel) String() string {
	switch l {
	case ValidationStrict:
		return "strict"
	case ValidationNormal:
		return "normal"
	case ValidationNone:
		return "none"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	// Sort tensors by offset for efficient overlap detection.
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		// Check for negative values (potential integer overflow attacks).
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", t.Offset, t.Size),
			}
		}

		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > payload_size %d", t.Offset, t.Size, dataSize),
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateContiguous checks that tensors tile the payload in header order
// with no gaps.
func ValidateContiguous(tensors []TensorMeta, dataSize int64) error {
	var next int64
	for _, t := range tensors {
		if t.Offset != next {
			return &ValidationError{
				Type:    "non_contiguous",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d, expected %d", t.Offset, next),
			}
		}
		next += t.Size
	}
	if next != dataSize {
		return &ValidationError{
			Type:    "payload_size",
			Details: fmt.Sprintf("tensors cover %d bytes, payload is %d", next, dataSize),
		}
	}
	return nil
}

// ValidateTensorName checks tensor names for malicious patterns.
// Dotted names ("lin1.weight") are the normal form for nested modules.
func ValidateTensorName(name string) error {
	if name == "" {
		return &ValidationError{
			Type:    "invalid_name",
			Details: "empty tensor name",
		}
	}

	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}

	if strings.Contains(name, "..") {
		return &ValidationError{
			Type:    "invalid_name",
			Tensor:  name,
			Details: "contains an empty path component",
		}
	}

	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return &ValidationError{
			Type:    "invalid_name",
			Tensor:  name,
			Details: "contains path separator (/ or \\)",
		}
	}

	// Prevent null bytes (can bypass length checks in some contexts).
	if strings.Contains(name, "\x00") {
		return &ValidationError{
			Type:    "invalid_name",
			Tensor:  name,
			Details: "contains null byte",
		}
	}

	return nil
}

// ValidateTensorMeta checks dtype, shape and that size matches the shape.
func ValidateTensorMeta(t TensorMeta) error {
	if t.DType != DTypeFloat32 {
		return &ValidationError{
			Type:    "unsupported_dtype",
			Tensor:  t.Name,
			Details: fmt.Sprintf("dtype %q, expected %q", t.DType, DTypeFloat32),
		}
	}
	if len(t.Shape) > MaxTensorRank {
		return &ValidationError{
			Type:    "invalid_shape",
			Tensor:  t.Name,
			Details: fmt.Sprintf("rank %d > max %d", len(t.Shape), MaxTensorRank),
		}
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return &ValidationError{
				Type:    "invalid_shape",
				Tensor:  t.Name,
				Details: fmt.Sprintf("shape %v has a non-positive dimension", t.Shape),
			}
		}
	}
	if want := t.NumElements() * float32Size; t.Size != want {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  t.Name,
			Details: fmt.Sprintf("size %d bytes, shape %v needs %d", t.Size, t.Shape, want),
		}
	}
	return nil
}

// ValidateHeader performs comprehensive header validation.
func ValidateHeader(h *Header, payloadSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	// Validate tensor count (DoS prevention).
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	seen := make(map[string]struct{}, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if _, dup := seen[t.Name]; dup {
			return &ValidationError{
				Type:    "duplicate_name",
				Tensor:  t.Name,
				Details: "tensor name appears more than once",
			}
		}
		seen[t.Name] = struct{}{}
		if err := ValidateTensorMeta(t); err != nil {
			return err
		}
	}

	if err := ValidateTensorOffsets(h.Tensors, payloadSize); err != nil {
		return err
	}

	// Contiguity (only in strict mode).
	if level == ValidationStrict {
		if err := ValidateContiguous(h.Tensors, payloadSize); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStoredSize checks the recorded size of the stored payload:
// compressed payloads must record it, uncompressed ones must not. An empty
// payload may compress to nothing. It is checked at every validation level
// since reading depends on it.
func ValidateStoredSize(codec Codec, stored, payloadSize int64) error {
	switch {
	case codec == CodecNone && stored != 0:
		return &ValidationError{
			Type:    "stored_size",
			Details: fmt.Sprintf("uncompressed stream records stored size %d", stored),
		}
	case codec != CodecNone && (stored < 0 || stored > MaxPayloadSize || (stored == 0 && payloadSize > 0)):
		return &ValidationError{
			Type:    "stored_size",
			Details: fmt.Sprintf("%s stream records stored size %d for %d payload bytes", codec, stored, payloadSize),
		}
	}
	return nil
}
