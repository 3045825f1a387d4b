package serialization

import (
	"fmt"
	"strings"
	"time"
)

// Format constants.
const (
	MagicBytes      = "THSP"
	FormatVersion   = 1    // v1: fixed header with codec and SHA-256 checksum
	FixedHeaderSize = 64   // fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // checksum offset in the fixed header
)

// DTypeFloat32 is the only element type stored in parameter streams.
const DTypeFloat32 = "float32"

// float32Size is the encoded size of one element.
const float32Size = 4

// Flags for the THSP format.
const (
	FlagHasMetadata uint32 = 1 << 0 // bit 0: custom metadata included
	FlagIgnoreNames uint32 = 1 << 1 // bit 1: written for order-only loading
)

// Codec identifies the payload compression.
type Codec uint32

const (
	// CodecNone stores the payload uncompressed.
	CodecNone Codec = 0
	// CodecZstd compresses the payload with zstd (better ratio).
	CodecZstd Codec = 1
	// CodecLZ4 compresses the payload with an LZ4 frame (faster).
	CodecLZ4 Codec = 2
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// ParseCodec converts a codec name into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// Header represents the JSON header of a THSP stream.
type Header struct {
	FormatVersion int               `json:"format_version"`        // Version of the THSP format
	CreatedBy     string            `json:"created_by"`            // Library that wrote the stream
	ModuleType    string            `json:"module_type"`           // Operator of the saved module (e.g., "Linear", "Sequential")
	CreatedAt     time.Time         `json:"created_at"`            // When the stream was written
	StoredSize    int64             `json:"stored_size,omitempty"` // Compressed payload size, zero when uncompressed
	Tensors       []TensorMeta      `json:"tensors"`               // Tensor metadata in payload order
	Metadata      map[string]string `json:"metadata"`              // Custom metadata
}

// TensorMeta describes a tensor in the payload.
type TensorMeta struct {
	Name   string  `json:"name"`   // Parameter name (e.g., "lin1.weight")
	DType  string  `json:"dtype"`  // Data type, always "float32"
	Shape  []int64 `json:"shape"`  // Tensor shape
	Offset int64   `json:"offset"` // Offset in the payload (bytes from start of tensor data)
	Size   int64   `json:"size"`   // Size in bytes
}

// NumElements returns the element count implied by the shape.
func (m TensorMeta) NumElements() int64 {
	n := int64(1)
	for _, d := range m.Shape {
		n *= d
	}
	return n
}

// Tensor is one named parameter with its data.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// FixedHeader is the decoded 64-byte prefix of a stream.
type FixedHeader struct {
	Version     uint32
	Flags       uint32
	Codec       Codec
	HeaderSize  uint64
	PayloadSize uint64
	Checksum    [ChecksumSize]byte
}

// File is a fully decoded and verified stream.
type File struct {
	Fixed   FixedHeader
	Header  Header
	Tensors []Tensor
}

// TensorNames returns the tensor names in payload order.
func (f *File) TensorNames() []string {
	names := make([]string, len(f.Tensors))
	for i, t := range f.Tensors {
		names[i] = t.Name
	}
	return names
}
