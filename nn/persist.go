// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/born-ml/torchbind/internal/serialization"
	"github.com/born-ml/torchbind/torch"
)

// Codec selects the compression of saved parameter streams.
type Codec = serialization.Codec

// Supported codecs.
const (
	CodecNone = serialization.CodecNone
	CodecZstd = serialization.CodecZstd
	CodecLZ4  = serialization.CodecLZ4
)

// ParseCodec parses a codec name: "none", "zstd" or "lz4".
func ParseCodec(s string) (Codec, error) {
	return serialization.ParseCodec(s)
}

// BlobWriter stores named blobs. Implemented by the store packages.
type BlobWriter interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// BlobReader retrieves named blobs. Implemented by the store packages.
type BlobReader interface {
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

type saveOptions struct {
	codec     Codec
	metadata  map[string]string
	orderOnly bool
}

// SaveOption configures Save.
type SaveOption func(*saveOptions)

// WithCodec compresses the payload (default: CodecNone).
func WithCodec(c Codec) SaveOption {
	return func(o *saveOptions) { o.codec = c }
}

// WithMetadata adds custom key/value pairs to the stream header.
// Keys override the module configuration recorded by default.
func WithMetadata(md map[string]string) SaveOption {
	return func(o *saveOptions) { o.metadata = md }
}

// WithOrderOnly marks the stream for order-only loading: Load then skips
// name matching as if IgnoreNames were given.
func WithOrderOnly() SaveOption {
	return func(o *saveOptions) { o.orderOnly = true }
}

type loadOptions struct {
	ignoreNames  bool
	skipChecksum bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// IgnoreNames matches stream tensors to parameters by position only.
// Counts and shapes are still checked.
func IgnoreNames() LoadOption {
	return func(o *loadOptions) { o.ignoreNames = true }
}

// SkipChecksum skips payload checksum verification.
func SkipChecksum() LoadOption {
	return func(o *loadOptions) { o.skipChecksum = true }
}

// Save writes the module's named parameters to w in declaration order.
//
// Example:
//
//	var buf bytes.Buffer
//	if err := linear.Save(&buf, nn.WithCodec(nn.CodecZstd)); err != nil { ... }
func (m *Module) Save(w io.Writer, opts ...SaveOption) error {
	return m.saveWith(opts, func(tensors []serialization.Tensor, wo serialization.WriterOptions) (int64, error) {
		return serialization.Write(w, tensors, wo)
	})
}

// SaveFile writes the parameters to path. The file is replaced atomically.
func (m *Module) SaveFile(path string, opts ...SaveOption) error {
	return m.saveWith(opts, func(tensors []serialization.Tensor, wo serialization.WriterOptions) (int64, error) {
		return serialization.WriteFile(path, tensors, wo)
	})
}

// SaveTo writes the parameters as blob name in dst.
func (m *Module) SaveTo(ctx context.Context, dst BlobWriter, name string, opts ...SaveOption) error {
	return m.saveWith(opts, func(tensors []serialization.Tensor, wo serialization.WriterOptions) (int64, error) {
		var buf bytes.Buffer
		n, err := serialization.Write(&buf, tensors, wo)
		if err != nil {
			return n, err
		}
		if err := dst.Put(ctx, name, bytes.NewReader(buf.Bytes()), n); err != nil {
			return 0, &serialization.WriteError{Stage: "put " + name, Err: err}
		}
		return n, nil
	})
}

func (m *Module) saveWith(opts []SaveOption, write func([]serialization.Tensor, serialization.WriterOptions) (int64, error)) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()

	tensors, err := m.snapshot()
	if err != nil {
		m.rt.Logger().LogSave(context.Background(), m.op.name, 0, 0, 0, err)
		return err
	}
	n, err := write(tensors, m.writerOptions(o))
	if err != nil {
		err = classifyWrite(err)
	}
	m.rt.Logger().LogSave(context.Background(), m.op.name, len(tensors), n, time.Since(start), err)
	return err
}

// snapshot copies every named parameter out of the engine.
func (m *Module) snapshot() ([]serialization.Tensor, error) {
	set, err := m.NamedParameters()
	if err != nil {
		return nil, err
	}
	defer set.Dispose()

	tensors := make([]serialization.Tensor, 0, set.Len())
	for name, p := range set.All() {
		shape, err := p.Shape()
		if err != nil {
			return nil, err
		}
		data, err := p.Data()
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, serialization.Tensor{Name: name, Shape: shape, Data: data})
	}
	return tensors, nil
}

func (m *Module) writerOptions(o saveOptions) serialization.WriterOptions {
	metadata := make(map[string]string, len(m.config)+len(o.metadata))
	for _, e := range m.config {
		metadata[e.Key] = e.Value
	}
	maps.Copy(metadata, o.metadata)
	return serialization.WriterOptions{
		Codec:       o.codec,
		ModuleType:  m.op.name,
		Metadata:    metadata,
		IgnoreNames: o.orderOnly,
	}
}

// Load reads parameters saved by Save and overwrites the module's
// parameters in place.
//
// The stream is read and verified completely, and every tensor is matched
// against the module (count, then name and shape at each position),
// before any parameter is written. A stream that does not fit fails with
// *torch.FormatError; a failing or truncated reader fails with
// *torch.IOError. In both cases the module is unchanged.
func (m *Module) Load(r io.Reader, opts ...LoadOption) error {
	return m.loadWith(opts, func(ro serialization.ReaderOptions) (*serialization.File, error) {
		return serialization.Read(r, ro)
	})
}

// LoadFile loads parameters from the file at path.
func (m *Module) LoadFile(path string, opts ...LoadOption) error {
	return m.loadWith(opts, func(ro serialization.ReaderOptions) (*serialization.File, error) {
		return serialization.ReadFile(path, ro)
	})
}

// LoadFrom loads parameters from blob name in src.
func (m *Module) LoadFrom(ctx context.Context, src BlobReader, name string, opts ...LoadOption) error {
	return m.loadWith(opts, func(ro serialization.ReaderOptions) (*serialization.File, error) {
		rc, err := src.Get(ctx, name)
		if err != nil {
			return nil, &serialization.ReadError{Stage: "get " + name, Err: err}
		}
		defer rc.Close()
		return serialization.Read(rc, ro)
	})
}

func (m *Module) loadWith(opts []LoadOption, read func(serialization.ReaderOptions) (*serialization.File, error)) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()

	// Fail fast on a disposed module, before touching the reader.
	if _, err := m.Handle(); err != nil {
		return err
	}

	file, err := read(serialization.ReaderOptions{SkipChecksumValidation: o.skipChecksum})
	if err != nil {
		err = classifyRead(err)
		m.rt.Logger().LogLoad(context.Background(), m.op.name, 0, time.Since(start), err)
		return err
	}
	err = m.apply(file, o)
	m.rt.Logger().LogLoad(context.Background(), m.op.name, len(file.Tensors), time.Since(start), err)
	return err
}

// apply matches file against the module and copies the payload in.
func (m *Module) apply(file *serialization.File, o loadOptions) error {
	set, err := m.NamedParameters()
	if err != nil {
		return err
	}
	defer set.Dispose()

	if len(file.Tensors) != set.Len() {
		return &torch.FormatError{
			Reason: fmt.Sprintf("stream has %d parameters, %s has %d", len(file.Tensors), m.op.name, set.Len()),
		}
	}

	byOrder := o.ignoreNames || file.Fixed.Flags&serialization.FlagIgnoreNames != 0
	for i, t := range file.Tensors {
		p := set.At(i)
		if !byOrder && t.Name != p.Name() {
			return &torch.FormatError{
				Param:  p.Name(),
				Reason: fmt.Sprintf("stream has %q at position %d", t.Name, i),
			}
		}
		shape, err := p.Shape()
		if err != nil {
			return err
		}
		if !slices.Equal(shape, t.Shape) {
			return &torch.FormatError{
				Param:  p.Name(),
				Reason: fmt.Sprintf("stream shape %v does not match %v", t.Shape, shape),
			}
		}
	}

	for i, t := range file.Tensors {
		if err := set.At(i).Set(t.Data); err != nil {
			return err
		}
	}
	return nil
}

// classifyRead maps serialization failures onto the error taxonomy:
// reader failures are I/O errors, everything else is a format error.
func classifyRead(err error) error {
	var readErr *serialization.ReadError
	if errors.As(err, &readErr) {
		return &torch.IOError{Op: "read", Err: err}
	}
	return &torch.FormatError{Err: err}
}

func classifyWrite(err error) error {
	var writeErr *serialization.WriteError
	if errors.As(err, &writeErr) {
		return &torch.IOError{Op: "write", Err: err}
	}
	return &torch.FormatError{Err: err}
}
