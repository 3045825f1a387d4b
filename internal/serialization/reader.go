package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// initialPayloadBuffer caps the buffer reserved before payload bytes arrive.
const initialPayloadBuffer = 64 << 20

// ReaderOptions configures Read.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level (default: strict)
}

// Read decodes a complete THSP stream from r.
//
// The fixed header, JSON header, payload and checksum are all read and
// verified before Read returns, so the result is either a complete File or
// an error. Failures of r, including a stream that ends early, are
// returned as *ReadError; everything else describes malformed content.
func Read(r io.Reader, opts ReaderOptions) (*File, error) {
	br := bufio.NewReader(r)

	fixed, header, err := readHeaders(br, opts)
	if err != nil {
		return nil, err
	}

	payload, err := readPayload(br, fixed, header)
	if err != nil {
		return nil, err
	}

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(payload), fixed.Checksum); err != nil {
			return nil, err
		}
	}

	tensors, err := decodeTensors(header.Tensors, payload)
	if err != nil {
		return nil, err
	}
	return &File{Fixed: fixed, Header: header, Tensors: tensors}, nil
}

// ReadHeader decodes and validates only the fixed and JSON headers.
// The payload is neither read nor verified.
func ReadHeader(r io.Reader, opts ReaderOptions) (FixedHeader, Header, error) {
	return readHeaders(r, opts)
}

// DecodeBytes decodes a complete stream held in memory.
func DecodeBytes(data []byte, opts ReaderOptions) (*File, error) {
	return Read(bytes.NewReader(data), opts)
}

func readHeaders(r io.Reader, opts ReaderOptions) (FixedHeader, Header, error) {
	fixed, err := readFixedHeader(r)
	if err != nil {
		return FixedHeader{}, Header{}, err
	}

	// Read header JSON (positioned at offset 0x40)
	headerBytes := make([]byte, fixed.HeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return FixedHeader{}, Header{}, &ReadError{Stage: "header", Err: eofToUnexpected(err)}
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return FixedHeader{}, Header{}, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if header.FormatVersion != int(fixed.Version) {
		return FixedHeader{}, Header{}, fmt.Errorf("%w: header says %d, fixed header says %d",
			ErrUnsupportedVersion, header.FormatVersion, fixed.Version)
	}

	//nolint:gosec // G115: payload size bounded by MaxPayloadSize
	if err := ValidateHeader(&header, int64(fixed.PayloadSize), opts.ValidationLevel); err != nil {
		return FixedHeader{}, Header{}, fmt.Errorf("validation failed: %w", err)
	}
	//nolint:gosec // G115: payload size bounded by MaxPayloadSize
	if err := ValidateStoredSize(fixed.Codec, header.StoredSize, int64(fixed.PayloadSize)); err != nil {
		return FixedHeader{}, Header{}, fmt.Errorf("validation failed: %w", err)
	}
	return fixed, header, nil
}

func readFixedHeader(r io.Reader) (FixedHeader, error) {
	buf := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return FixedHeader{}, &ReadError{Stage: "fixed header", Err: eofToUnexpected(err)}
	}
	return ParseFixedHeader(buf)
}

// ParseFixedHeader decodes the 64-byte prefix of a stream.
func ParseFixedHeader(buf []byte) (FixedHeader, error) {
	if len(buf) < FixedHeaderSize {
		return FixedHeader{}, fmt.Errorf("fixed header too small: %d bytes (minimum %d)", len(buf), FixedHeaderSize)
	}
	if string(buf[0:4]) != MagicBytes {
		return FixedHeader{}, fmt.Errorf("%w: got %q, expected %q", ErrInvalidMagic, buf[0:4], MagicBytes)
	}

	fixed := FixedHeader{
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		Flags:       binary.LittleEndian.Uint32(buf[8:12]),
		Codec:       Codec(binary.LittleEndian.Uint32(buf[12:16])),
		HeaderSize:  binary.LittleEndian.Uint64(buf[16:24]),
		PayloadSize: binary.LittleEndian.Uint64(buf[24:32]),
	}
	copy(fixed.Checksum[:], buf[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if fixed.Version != FormatVersion {
		return FixedHeader{}, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, fixed.Version, FormatVersion)
	}
	if fixed.Codec > CodecLZ4 {
		return FixedHeader{}, fmt.Errorf("%w: %d", ErrUnknownCodec, uint32(fixed.Codec))
	}
	if fixed.HeaderSize > MaxHeaderSize {
		return FixedHeader{}, ErrHeaderTooLarge
	}
	if fixed.PayloadSize > MaxPayloadSize {
		return FixedHeader{}, fmt.Errorf("payload size too large: %d", fixed.PayloadSize)
	}
	return fixed, nil
}

// readPayload reads the stored payload and returns it uncompressed.
// Compressed payloads are read in full, by their recorded size, before
// decoding starts: short or failing reads are read errors, and anything
// the decoder rejects describes malformed content.
func readPayload(r io.Reader, fixed FixedHeader, header Header) ([]byte, error) {
	if fixed.Codec == CodecNone {
		//nolint:gosec // G115: payload size bounded by MaxPayloadSize
		return readExactly(r, int64(fixed.PayloadSize))
	}
	stored, err := readExactly(r, header.StoredSize)
	if err != nil {
		return nil, err
	}
	payload, err := decompressPayload(stored, fixed.Codec, fixed.PayloadSize)
	if err != nil {
		return nil, fmt.Errorf("decompress %s payload: %w", fixed.Codec, err)
	}
	return payload, nil
}

// readExactly reads n bytes, growing the buffer as data arrives rather
// than trusting the declared size up front.
func readExactly(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(n, initialPayloadBuffer)))
	if _, err := io.CopyN(&buf, r, n); err != nil {
		return nil, &ReadError{Stage: "payload", Err: eofToUnexpected(err)}
	}
	return buf.Bytes(), nil
}

// decodeTensors converts payload regions into float32 slices.
func decodeTensors(metas []TensorMeta, payload []byte) ([]Tensor, error) {
	tensors := make([]Tensor, len(metas))
	for i, m := range metas {
		if m.Offset < 0 || m.Size < 0 || m.Offset+m.Size > int64(len(payload)) || m.Size%float32Size != 0 {
			return nil, &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  m.Name,
				Details: fmt.Sprintf("region [%d-%d] outside payload of %d bytes", m.Offset, m.Offset+m.Size, len(payload)),
			}
		}
		region := payload[m.Offset : m.Offset+m.Size]
		data := make([]float32, len(region)/float32Size)
		for j := range data {
			data[j] = math.Float32frombits(binary.LittleEndian.Uint32(region[j*float32Size:]))
		}
		tensors[i] = Tensor{
			Name:  m.Name,
			Shape: append([]int64(nil), m.Shape...),
			Data:  data,
		}
	}
	return tensors, nil
}

// eofToUnexpected reports a clean EOF inside a structure as truncation.
func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
