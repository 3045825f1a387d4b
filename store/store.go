// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package store provides named blob storage for saved parameter streams.
//
// # Built-in Implementations
//
//   - Local: a directory on the local file system
//   - Memory: an in-process map, for tests and pipelines
//   - minio.Store: any S3-compatible server through minio-go
//   - s3.Store: Amazon S3 through aws-sdk-go-v2
//
// Every implementation satisfies nn.BlobWriter and nn.BlobReader, so a
// module can be saved to and loaded from any of them:
//
//	dst, _ := store.NewLocal("checkpoints")
//	err := model.SaveTo(ctx, dst, "epoch-3.thsp")
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = os.ErrNotExist

// Store reads and writes named blobs.
type Store interface {
	// Put stores size bytes from r under name, replacing any existing blob.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens the blob name for reading. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
