package serialization

import (
	"errors"
	"testing"
)

// TestComputeChecksum verifies SHA-256 checksum computation.
func TestComputeChecksum(t *testing.T) {
	data := []byte("test data")
	checksum1 := ComputeChecksum(data)
	checksum2 := ComputeChecksum(data)

	if checksum1 != checksum2 {
		t.Error("Checksums should match for identical data")
	}

	if checksum1 == ComputeChecksum([]byte("different data")) {
		t.Error("Checksums should differ for different data")
	}
}

// TestValidateChecksum verifies checksum validation.
func TestValidateChecksum(t *testing.T) {
	checksum := ComputeChecksum([]byte("test data"))

	if err := ValidateChecksum(checksum, checksum); err != nil {
		t.Errorf("Expected no error for matching checksums, got: %v", err)
	}

	other := ComputeChecksum([]byte("other"))
	err := ValidateChecksum(checksum, other)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got: %v", err)
	}
}

func TestShortChecksum(t *testing.T) {
	var sum [ChecksumSize]byte
	sum[0] = 0xab
	if got := ShortChecksum(sum); got != "ab00000000000000" {
		t.Errorf("ShortChecksum = %q", got)
	}
}
