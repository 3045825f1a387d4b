package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeChecksum computes SHA-256 checksum of data.
func ComputeChecksum(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

// ValidateChecksum compares computed checksum against stored checksum.
// Returns an error wrapping ErrChecksumMismatch if they don't match.
func ValidateChecksum(computed, stored [ChecksumSize]byte) error {
	if computed != stored {
		return fmt.Errorf("%w: stored %s, computed %s", ErrChecksumMismatch,
			ShortChecksum(stored), ShortChecksum(computed))
	}
	return nil
}

// ShortChecksum renders the first 8 bytes of a checksum as hex.
func ShortChecksum(sum [ChecksumSize]byte) string {
	return hex.EncodeToString(sum[:8])
}
