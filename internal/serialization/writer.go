package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

// CreatedBy identifies this library in stream headers.
const CreatedBy = "torchbind"

// WriterOptions configures Write.
type WriterOptions struct {
	Codec       Codec             // Payload compression (default: none)
	ModuleType  string            // Operator of the saved module
	Metadata    map[string]string // Custom metadata
	IgnoreNames bool              // Record that the stream is meant for order-only loading
}

// EncodeHeader builds the JSON header and payload for tensors.
// Tensors keep their order: offsets are assigned sequentially.
func EncodeHeader(tensors []Tensor, opts WriterOptions) (Header, []byte, error) {
	header := Header{
		FormatVersion: FormatVersion,
		CreatedBy:     CreatedBy,
		ModuleType:    opts.ModuleType,
		CreatedAt:     time.Now().UTC(),
		Tensors:       make([]TensorMeta, 0, len(tensors)),
		Metadata:      opts.Metadata,
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	var total int64
	for _, t := range tensors {
		meta := TensorMeta{
			Name:   t.Name,
			DType:  DTypeFloat32,
			Shape:  append([]int64(nil), t.Shape...),
			Offset: total,
			Size:   int64(len(t.Data)) * float32Size,
		}
		if n := meta.NumElements(); n != int64(len(t.Data)) {
			return Header{}, nil, fmt.Errorf("tensor %q: shape %v needs %d elements, got %d",
				t.Name, t.Shape, n, len(t.Data))
		}
		header.Tensors = append(header.Tensors, meta)
		total += meta.Size
	}
	if err := ValidateHeader(&header, total, ValidationStrict); err != nil {
		return Header{}, nil, fmt.Errorf("invalid tensors: %w", err)
	}

	payload := make([]byte, total)
	for i, t := range tensors {
		buf := payload[header.Tensors[i].Offset:]
		for j, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[j*float32Size:], math.Float32bits(v))
		}
	}
	return header, payload, nil
}

// Write encodes tensors as a THSP stream and returns the bytes written.
func Write(w io.Writer, tensors []Tensor, opts WriterOptions) (int64, error) {
	header, payload, err := EncodeHeader(tensors, opts)
	if err != nil {
		return 0, err
	}

	body, err := compressPayload(payload, opts.Codec)
	if err != nil {
		return 0, err
	}
	if opts.Codec != CodecNone {
		header.StoredSize = int64(len(body))
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return 0, ErrHeaderTooLarge
	}

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if opts.IgnoreNames {
		flags |= FlagIgnoreNames
	}

	// Fixed header: 64 bytes
	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint32(fixed[12:16], uint32(opts.Codec))
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(payload)))
	checksum := ComputeChecksum(payload)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	var written int64
	for _, part := range []struct {
		stage string
		data  []byte
	}{
		{"fixed header", fixed},
		{"header", headerJSON},
		{"payload", body},
	} {
		n, err := w.Write(part.data)
		written += int64(n)
		if err != nil {
			return written, &WriteError{Stage: part.stage, Err: err}
		}
	}
	return written, nil
}

// WriteFile writes tensors to path atomically: the stream goes to a
// temporary file in the same directory which is then renamed over path.
func WriteFile(path string, tensors []Tensor, opts WriterOptions) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, &WriteError{Stage: "create", Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	n, err := Write(tmp, tensors, opts)
	if err != nil {
		_ = tmp.Close()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return n, &WriteError{Stage: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return n, &WriteError{Stage: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, &WriteError{Stage: "rename", Err: err}
	}
	return n, nil
}
