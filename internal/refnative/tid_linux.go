//go:build linux

package refnative

import "golang.org/x/sys/unix"

func threadID() int {
	return unix.Gettid()
}
