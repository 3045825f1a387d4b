// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// Memory keeps blobs in memory.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores a copy of r's contents.
func (s *Memory) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := buf.ReadFrom(r)
	if err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("store: put %s: read %d bytes, expected %d", name, n, size)
	}

	s.mu.Lock()
	s.blobs[name] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

// Get returns a reader over the stored bytes.
func (s *Memory) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: %s: %w", name, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes name.
func (s *Memory) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.blobs, name)
	s.mu.Unlock()
	return nil
}

// List returns the stored names starting with prefix.
func (s *Memory) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Bytes returns the stored blob, or nil if it does not exist.
func (s *Memory) Bytes(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[name]
}

var (
	_ Store = (*Local)(nil)
	_ Store = (*Memory)(nil)
)
