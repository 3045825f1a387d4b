package serialization

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ZSTD encoder pool for efficiency
var zstdEncoderPool sync.Pool

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

// compressPayload compresses the whole payload as one stream.
func compressPayload(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecZstd:
		enc := getZstdEncoder()
		defer putZstdEncoder(enc)
		return enc.EncodeAll(data, nil), nil

	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint32(codec))
	}
}

// zstdDecoder is shared: DecodeAll is safe for concurrent use.
var zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxPayloadSize))
})

// decompressPayload decodes a complete stored payload and checks that it
// yields exactly size bytes.
func decompressPayload(stored []byte, codec Codec, size uint64) ([]byte, error) {
	var out []byte
	switch codec {
	case CodecNone:
		out = stored

	case CodecZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		out, err = dec.DecodeAll(stored, make([]byte, 0, min(size, initialPayloadBuffer)))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}

	case CodecLZ4:
		var buf bytes.Buffer
		buf.Grow(int(min(size, initialPayloadBuffer)))
		// One byte past the declared size is enough to notice an overlong frame.
		//nolint:gosec // G115: payload size bounded by MaxPayloadSize
		src := io.LimitReader(lz4.NewReader(bytes.NewReader(stored)), int64(size)+1)
		if _, err := io.Copy(&buf, src); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		out = buf.Bytes()

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint32(codec))
	}

	if uint64(len(out)) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, header declares %d", ErrPayloadSize, len(out), size)
	}
	return out, nil
}
