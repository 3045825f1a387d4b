// Package serialization implements the THSP parameter stream format.
//
// A stream stores an ordered list of named float32 tensors:
//
//	Format Structure:
//	  0x00 [4 bytes: Magic "THSP"]
//	  0x04 [4 bytes: Version (uint32 LE)]
//	  0x08 [4 bytes: Flags (uint32 LE)]
//	  0x0C [4 bytes: Codec (uint32 LE): 0 none, 1 zstd, 2 lz4]
//	  0x10 [8 bytes: Header Size (uint64 LE)]
//	  0x18 [8 bytes: Payload Size (uint64 LE, uncompressed)]
//	  0x20 [32 bytes: SHA-256 of the uncompressed payload]
//	  0x40 [Header: JSON metadata]
//	  .... [Payload: tensor bytes in header order, float32 LE]
//
// When the codec is not none the payload is compressed as a single stream.
//
// Readers validate the fixed header, the JSON header (tensor count, names,
// offsets, sizes) and the checksum before returning any tensor, so a caller
// never observes a partially decoded stream.
//
// Example usage:
//
//	// Save
//	tensors := []serialization.Tensor{{Name: "weight", Shape: []int64{10, 100}, Data: w}}
//	if _, err := serialization.Write(f, tensors, serialization.WriterOptions{Codec: serialization.CodecZstd}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Load
//	file, err := serialization.Read(f, serialization.ReaderOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, t := range file.Tensors { ... }
package serialization
