package serialization

import (
	"bytes"
	"fmt"
	"os"
)

// MappedFile provides read-only memory-mapped access to a stream on disk.
// Tensor data decoded from it is copied, so the mapping can be released as
// soon as decoding is done.
type MappedFile struct {
	file   *os.File
	data   []byte
	unmap  func() error
	closed bool
}

// OpenMapped maps the file at path into memory.
//
// Important: Always call Close() when done to unmap the file (use defer).
func OpenMapped(path string) (*MappedFile, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for parameter loading
	file, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Stage: "open", Err: err}
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &ReadError{Stage: "stat", Err: err}
	}

	// Memory map the file (platform-specific implementation)
	data, unmap, err := mapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, &ReadError{Stage: "mmap", Err: err}
	}

	return &MappedFile{file: file, data: data, unmap: unmap}, nil
}

// Bytes returns the mapped region. It is invalid after Close.
func (m *MappedFile) Bytes() []byte {
	return m.data
}

// Size returns the file size in bytes.
func (m *MappedFile) Size() int64 {
	return int64(len(m.data))
}

// Close unmaps the file and closes it.
func (m *MappedFile) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var unmapErr error
	if m.unmap != nil {
		unmapErr = m.unmap()
	}
	m.data = nil
	if err := m.file.Close(); err != nil {
		return err
	}
	if unmapErr != nil {
		return fmt.Errorf("munmap: %w", unmapErr)
	}
	return nil
}

// ReadFile decodes the stream stored at path through a memory mapping.
func ReadFile(path string, opts ReaderOptions) (*File, error) {
	m, err := OpenMapped(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = m.Close() }()

	return Read(bytes.NewReader(m.Bytes()), opts)
}
