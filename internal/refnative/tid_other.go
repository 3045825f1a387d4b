//go:build !linux && !windows

package refnative

// threadID returns a single shared slot where no thread id is available.
// Concurrent failures on such platforms may observe each other's message.
func threadID() int {
	return 0
}
