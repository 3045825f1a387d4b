//go:build !unix && !windows

package serialization

import (
	"io"
	"os"
)

// mapFile reads the whole file where memory mapping is unavailable.
func mapFile(f *os.File, size int64) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
