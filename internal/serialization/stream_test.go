package serialization

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sampleTensors() []Tensor {
	weight := make([]float32, 10*100)
	for i := range weight {
		weight[i] = float32(i%17) * 0.25
	}
	// Values that only survive a bit-exact encoding.
	weight[0] = float32(math.Copysign(0, -1))
	weight[1] = math.Float32frombits(0x7fc00001) // NaN with payload
	weight[2] = math.SmallestNonzeroFloat32
	weight[3] = float32(math.Inf(-1))

	return []Tensor{
		{Name: "weight", Shape: []int64{10, 100}, Data: weight},
		{Name: "bias", Shape: []int64{10}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}
}

func assertBitIdentical(t *testing.T, want, got []Tensor) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("tensor count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name {
			t.Errorf("tensor %d name = %q, want %q", i, got[i].Name, want[i].Name)
		}
		if len(got[i].Data) != len(want[i].Data) {
			t.Fatalf("tensor %q length = %d, want %d", want[i].Name, len(got[i].Data), len(want[i].Data))
		}
		for j := range want[i].Data {
			if math.Float32bits(got[i].Data[j]) != math.Float32bits(want[i].Data[j]) {
				t.Fatalf("tensor %q element %d = %#x, want %#x", want[i].Name, j,
					math.Float32bits(got[i].Data[j]), math.Float32bits(want[i].Data[j]))
			}
		}
	}
}

func encode(t *testing.T, tensors []Tensor, opts WriterOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := Write(&buf, tensors, opts)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("Write reported %d bytes, buffer has %d", n, buf.Len())
	}
	return buf.Bytes()
}

func TestRoundTripCodecs(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			tensors := sampleTensors()
			data := encode(t, tensors, WriterOptions{
				Codec:      codec,
				ModuleType: "Linear",
				Metadata:   map[string]string{"in_features": "100"},
			})

			file, err := DecodeBytes(data, ReaderOptions{})
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			assertBitIdentical(t, tensors, file.Tensors)

			if file.Fixed.Codec != codec {
				t.Errorf("codec = %v, want %v", file.Fixed.Codec, codec)
			}
			if file.Header.ModuleType != "Linear" || file.Header.CreatedBy != CreatedBy {
				t.Errorf("header = %+v", file.Header)
			}
			if file.Header.Metadata["in_features"] != "100" {
				t.Errorf("metadata lost: %v", file.Header.Metadata)
			}
			if file.Fixed.Flags&FlagHasMetadata == 0 {
				t.Error("FlagHasMetadata not set")
			}
		})
	}
}

func TestCompressionShrinksRepetitivePayload(t *testing.T) {
	tensors := []Tensor{{Name: "zeros", Shape: []int64{4096}, Data: make([]float32, 4096)}}
	plain := encode(t, tensors, WriterOptions{})
	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		packed := encode(t, tensors, WriterOptions{Codec: codec})
		if len(packed) >= len(plain) {
			t.Errorf("%v stream is %d bytes, uncompressed is %d", codec, len(packed), len(plain))
		}
	}
}

func TestFixedHeaderLayout(t *testing.T) {
	data := encode(t, sampleTensors(), WriterOptions{Codec: CodecZstd})

	if string(data[0:4]) != "THSP" {
		t.Errorf("magic = %q", data[0:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		t.Errorf("version = %d", v)
	}
	if c := binary.LittleEndian.Uint32(data[12:16]); c != uint32(CodecZstd) {
		t.Errorf("codec = %d", c)
	}
	if size := binary.LittleEndian.Uint64(data[24:32]); size != (1000+10)*4 {
		t.Errorf("payload size = %d", size)
	}

	fixed, header, err := ReadHeader(bytes.NewReader(data), ReaderOptions{})
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if fixed.HeaderSize == 0 || len(header.Tensors) != 2 {
		t.Errorf("fixed = %+v, tensors = %d", fixed, len(header.Tensors))
	}
	if header.Tensors[1].Offset != 4000 || header.Tensors[1].Size != 40 {
		t.Errorf("bias meta = %+v", header.Tensors[1])
	}
}

func TestReadTruncated(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			data := encode(t, sampleTensors(), WriterOptions{Codec: codec})
			fixed, err := ParseFixedHeader(data)
			if err != nil {
				t.Fatal(err)
			}
			payloadStart := FixedHeaderSize + int(fixed.HeaderSize)

			cuts := []int{0, 10, FixedHeaderSize + 5, payloadStart, (payloadStart + len(data)) / 2, len(data) - 1}
			for _, cut := range cuts {
				_, err := DecodeBytes(data[:cut], ReaderOptions{})
				var readErr *ReadError
				if !errors.As(err, &readErr) {
					t.Errorf("cut at %d of %d: expected ReadError, got %v", cut, len(data), err)
					continue
				}
				if !errors.Is(err, io.ErrUnexpectedEOF) {
					t.Errorf("cut at %d of %d: expected io.ErrUnexpectedEOF, got %v", cut, len(data), err)
				}
			}
		})
	}
}

// brokenReader yields the first n bytes of data and then fails.
type brokenReader struct {
	data []byte
	n    int
}

var errConnReset = errors.New("connection reset")

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, errConnReset
	}
	k := copy(p, b.data[:min(b.n, len(b.data))])
	b.data = b.data[k:]
	b.n -= k
	return k, nil
}

func TestReadSourceFailure(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			data := encode(t, sampleTensors(), WriterOptions{Codec: codec})
			fixed, err := ParseFixedHeader(data)
			if err != nil {
				t.Fatal(err)
			}
			payloadStart := FixedHeaderSize + int(fixed.HeaderSize)

			for _, n := range []int{FixedHeaderSize / 2, payloadStart + 4, len(data) - 2} {
				_, err := Read(&brokenReader{data: data, n: n}, ReaderOptions{})
				var readErr *ReadError
				if !errors.As(err, &readErr) {
					t.Errorf("failure after %d bytes: expected ReadError, got %v", n, err)
					continue
				}
				if !errors.Is(err, errConnReset) {
					t.Errorf("failure after %d bytes: expected the source error, got %v", n, err)
				}
			}
		})
	}
}

func TestReadCorruptFrame(t *testing.T) {
	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			data := encode(t, sampleTensors(), WriterOptions{Codec: codec})
			fixed, err := ParseFixedHeader(data)
			if err != nil {
				t.Fatal(err)
			}
			// Overwrite the frame magic: the decoder rejects the frame, the
			// source itself is fine.
			payloadStart := FixedHeaderSize + int(fixed.HeaderSize)
			copy(data[payloadStart:], []byte{0xde, 0xad, 0xbe, 0xef})

			_, err = DecodeBytes(data, ReaderOptions{})
			if err == nil {
				t.Fatal("expected an error")
			}
			var readErr *ReadError
			if errors.As(err, &readErr) {
				t.Errorf("decoder failure reported as ReadError: %v", err)
			}
		})
	}
}

func TestReadCorruptPayload(t *testing.T) {
	data := encode(t, sampleTensors(), WriterOptions{})
	data[len(data)-1] ^= 0xff

	_, err := DecodeBytes(data, ReaderOptions{})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	if _, err := DecodeBytes(data, ReaderOptions{SkipChecksumValidation: true}); err != nil {
		t.Errorf("checksum skipped, expected success, got %v", err)
	}
}

func TestReadBadFixedHeader(t *testing.T) {
	data := encode(t, sampleTensors(), WriterOptions{})

	badMagic := append([]byte(nil), data...)
	copy(badMagic, "BORN")
	if _, err := DecodeBytes(badMagic, ReaderOptions{}); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}

	badVersion := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(badVersion[4:8], 9)
	if _, err := DecodeBytes(badVersion, ReaderOptions{}); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}

	badCodec := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(badCodec[12:16], 7)
	if _, err := DecodeBytes(badCodec, ReaderOptions{}); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}

	hugeHeader := append([]byte(nil), data...)
	binary.LittleEndian.PutUint64(hugeHeader[16:24], MaxHeaderSize+1)
	if _, err := DecodeBytes(hugeHeader, ReaderOptions{}); !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestWriteRejectsInvalidTensors(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, []Tensor{{Name: "w", Shape: []int64{2, 2}, Data: []float32{1, 2, 3}}}, WriterOptions{})
	if err == nil {
		t.Error("expected error for shape/data mismatch")
	}

	_, err = Write(&buf, []Tensor{
		{Name: "w", Shape: []int64{1}, Data: []float32{1}},
		{Name: "w", Shape: []int64{1}, Data: []float32{2}},
	}, WriterOptions{})
	if err == nil {
		t.Error("expected error for duplicate names")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for invalid input")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteError(t *testing.T) {
	_, err := Write(failingWriter{}, sampleTensors(), WriterOptions{})
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if writeErr.Stage != "fixed header" {
		t.Errorf("stage = %q", writeErr.Stage)
	}
}

func TestWriteFileAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linear.thsp")
	tensors := sampleTensors()

	if _, err := WriteFile(path, tensors, WriterOptions{Codec: CodecLZ4}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}

	file, err := ReadFile(path, ReaderOptions{})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	assertBitIdentical(t, tensors, file.Tensors)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.thsp"), ReaderOptions{})
	var readErr *ReadError
	if !errors.As(err, &readErr) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ReadError wrapping ErrNotExist, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": CodecNone, "none": CodecNone, "ZSTD": CodecZstd, "lz4": CodecLZ4} {
		got, err := ParseCodec(name)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseCodec("gzip"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestWriteRecordsStoredSize(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		data := encode(t, sampleTensors(), WriterOptions{Codec: codec})
		fixed, header, err := ReadHeader(bytes.NewReader(data), ReaderOptions{})
		if err != nil {
			t.Fatalf("%s: ReadHeader failed: %v", codec, err)
		}
		payloadStart := int64(FixedHeaderSize) + int64(fixed.HeaderSize)
		switch {
		case codec == CodecNone && header.StoredSize != 0:
			t.Errorf("%s: stored size = %d, want 0", codec, header.StoredSize)
		case codec != CodecNone && header.StoredSize != int64(len(data))-payloadStart:
			t.Errorf("%s: stored size = %d, want %d", codec, header.StoredSize, int64(len(data))-payloadStart)
		}
	}
}

func TestDecompressPayloadSizeMismatch(t *testing.T) {
	payload := bytes.Repeat([]byte{1, 2, 3, 4}, 64)
	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		stored, err := compressPayload(payload, codec)
		if err != nil {
			t.Fatalf("%s: compress failed: %v", codec, err)
		}
		if _, err := decompressPayload(stored, codec, uint64(len(payload))-4); !errors.Is(err, ErrPayloadSize) {
			t.Errorf("%s: short size: expected ErrPayloadSize, got %v", codec, err)
		}
		if _, err := decompressPayload(stored, codec, uint64(len(payload))+4); !errors.Is(err, ErrPayloadSize) {
			t.Errorf("%s: long size: expected ErrPayloadSize, got %v", codec, err)
		}
		got, err := decompressPayload(stored, codec, uint64(len(payload)))
		if err != nil || !bytes.Equal(got, payload) {
			t.Errorf("%s: round trip failed: %v", codec, err)
		}
	}
}
